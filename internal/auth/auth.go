package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/seat-scheduler/internal/config"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	cookieName = "seatsched_session"
	sessionTTL = 14 * 24 * time.Hour
)

// Store guards the HTTP API with a single operator account. Sessions live
// only in the signed and encrypted cookie.
type Store struct {
	sc       *securecookie.SecureCookie
	operator config.OperatorConfig
	now      func() time.Time
}

type ctxKey string

const operatorKey ctxKey = "operator"

func NewStore(operator config.OperatorConfig, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionTTL.Seconds()))
	return &Store{sc: sc, operator: operator, now: time.Now}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Authenticate checks username and password against the configured operator.
func (s *Store) Authenticate(username, password string) error {
	// bcrypt runs regardless of the username so both failures cost the same
	okPass := CheckPassword(s.operator.PasswordHash, password)
	okUser := secureEq(username, s.operator.Username)
	if !okUser || !okPass {
		return ErrInvalidCredentials
	}
	return nil
}

type Session struct {
	Username string
	IssuedAt time.Time
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, username string) error {
	val := map[string]any{"u": username, "iat": s.now().Unix()}
	encoded, err := s.sc.Encode(cookieName, val)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) GetSession(r *http.Request) (Session, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Session{}, false
	}
	val := map[string]any{}
	if err := s.sc.Decode(cookieName, c.Value, &val); err != nil {
		return Session{}, false
	}
	u, _ := val["u"].(string)
	// operator renamed since the cookie was issued
	if u == "" || u != s.operator.Username {
		return Session{}, false
	}
	sess := Session{Username: u}
	switch iat := val["iat"].(type) {
	case int64:
		sess.IssuedAt = time.Unix(iat, 0)
	case float64:
		sess.IssuedAt = time.Unix(int64(iat), 0)
	}
	return sess, true
}

// RequireAuth rejects requests without a valid session with 401.
func (s *Store) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.GetSession(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
			return
		}
		ctx := context.WithValue(r.Context(), operatorKey, sess.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func OperatorFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(operatorKey).(string)
	return u, ok
}

func secureEq(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
