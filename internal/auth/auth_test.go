package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/seat-scheduler/internal/config"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewStore(
		config.OperatorConfig{Username: "admin", PasswordHash: string(hash)},
		[]byte("0123456789abcdef0123456789abcdef"),
		[]byte("abcdef0123456789abcdef0123456789"),
	)
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("pw")
	require.NoError(t, err)
	assert.True(t, CheckPassword(h, "pw"))
	assert.False(t, CheckPassword(h, "other"))
}

func TestAuthenticate(t *testing.T) {
	s := newStore(t)
	assert.NoError(t, s.Authenticate("admin", "hunter2"))
	assert.ErrorIs(t, s.Authenticate("admin", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, s.Authenticate("root", "hunter2"), ErrInvalidCredentials)
}

func TestSessionRoundTrip(t *testing.T) {
	s := newStore(t)

	rec := httptest.NewRecorder()
	require.NoError(t, s.SetSession(rec, httptest.NewRequest(http.MethodPost, "/login", nil), "admin"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.AddCookie(cookies[0])
	sess, ok := s.GetSession(req)
	require.True(t, ok)
	assert.Equal(t, "admin", sess.Username)
	assert.False(t, sess.IssuedAt.IsZero())

	tampered := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	tampered.AddCookie(&http.Cookie{Name: cookieName, Value: cookies[0].Value + "x"})
	_, ok = s.GetSession(tampered)
	assert.False(t, ok)
}

func TestRequireAuth(t *testing.T) {
	s := newStore(t)
	var seen string
	h := s.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	login := httptest.NewRecorder()
	require.NoError(t, s.SetSession(login, httptest.NewRequest(http.MethodPost, "/login", nil), "admin"))
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.AddCookie(login.Result().Cookies()[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "admin", seen)
}
