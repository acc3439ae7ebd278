package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/example/seat-scheduler/internal/crypto"
	"github.com/example/seat-scheduler/internal/domain/reservation"
	"github.com/example/seat-scheduler/internal/timeutil"
)

// UsersFile is the operator-maintained list of accounts to run, grouped so
// whole groups can be switched off.
type UsersFile struct {
	Groups []Group `validate:"required,min=1,dive"`
}

type Group struct {
	Name    string `mapstructure:"name" validate:"required"`
	Enabled bool   `mapstructure:"enabled"`
	Users   []User `mapstructure:"-" validate:"-"`
}

type User struct {
	Username    string                   `mapstructure:"username" validate:"required"`
	Password    string                   `mapstructure:"password" validate:"required"`
	Email       string                   `mapstructure:"email" validate:"omitempty,email"`
	ReserveInfo reservation.RequestInput `mapstructure:"reserve_info"`

	// Err is set when this entry could not be loaded. Such a user fails on
	// its own; the rest of the file still runs.
	Err error `mapstructure:"-" validate:"-"`
}

// ErrQuoteValue marks a scalar that YAML typed as a number, bool or date
// where text is expected. Such values are not converted: "021" written
// unquoted would silently become seat 17.
var ErrQuoteValue = errors.New("value must be quoted")

// Revealer decrypts sealed secrets; see crypto.AEAD.
type Revealer interface {
	Reveal(value string) (string, error)
}

var validate = validator.New()

type rawGroup struct {
	Name    string           `mapstructure:"name"`
	Enabled bool             `mapstructure:"enabled"`
	Users   []map[string]any `mapstructure:"users"`
}

// textHook keeps string fields textual. Dates that YAML resolved to a
// timestamp are turned back into YYYY-MM-DD; any other non-string scalar is
// refused.
func textHook(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	if t, ok := data.(time.Time); ok {
		return t.Format(timeutil.DateLayout), nil
	}
	switch from.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil, fmt.Errorf("unquoted %s %v, quote it", from, data)
	}
	return data, nil
}

// decodeStrict decodes with textHook. mapstructure flattens hook errors to
// text, so a refused scalar is reported as ErrQuoteValue here.
func decodeStrict(input any, out any) error {
	var refused bool
	hook := func(from, to reflect.Type, data any) (any, error) {
		v, err := textHook(from, to, data)
		if err != nil {
			refused = true
		}
		return v, err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       hook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		if refused {
			return fmt.Errorf("%w: %v", ErrQuoteValue, err)
		}
		return err
	}
	return nil
}

// LoadUsers reads a YAML or JSON users file and validates it. Sealed
// passwords are decrypted with rv, which may be nil when none is sealed.
// Only a malformed file or group is an error; a bad user entry is kept
// with Err set so it fails alone.
func LoadUsers(path string, rv Revealer) (UsersFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return UsersFile{}, fmt.Errorf("read users file: %w", err)
	}

	var raw struct {
		Groups []rawGroup `mapstructure:"groups"`
	}
	if err := v.Unmarshal(&raw, viper.DecodeHook(textHook)); err != nil {
		return UsersFile{}, fmt.Errorf("decode users file: %w", err)
	}

	uf := UsersFile{Groups: make([]Group, 0, len(raw.Groups))}
	for _, rg := range raw.Groups {
		g := Group{Name: rg.Name, Enabled: rg.Enabled}
		for i, ru := range rg.Users {
			g.Users = append(g.Users, loadUser(rg.Name, i, ru, rv))
		}
		uf.Groups = append(uf.Groups, g)
	}
	if err := validate.Struct(uf); err != nil {
		return UsersFile{}, fmt.Errorf("invalid users file: %w", err)
	}
	return uf, nil
}

func loadUser(group string, index int, raw map[string]any, rv Revealer) User {
	var u User
	if err := decodeStrict(raw, &u); err != nil {
		return invalidUser(group, index, raw, err)
	}
	if err := validate.Struct(u); err != nil {
		return invalidUser(group, index, raw, err)
	}
	if crypto.IsSealed(u.Password) {
		if rv == nil {
			return invalidUser(group, index, raw, errors.New("password is sealed but CRED_ENC_KEY is not set"))
		}
		plain, err := rv.Reveal(u.Password)
		if err != nil {
			return invalidUser(group, index, raw, fmt.Errorf("decrypt password: %w", err))
		}
		u.Password = plain
	}
	return u
}

func invalidUser(group string, index int, raw map[string]any, err error) User {
	name, _ := raw["username"].(string)
	if name == "" {
		name = fmt.Sprintf("%s#%d", group, index+1)
	}
	return User{Username: name, Err: fmt.Errorf("users file entry %s: %w", name, err)}
}

// FindUser returns the first user named username across all groups.
func (uf UsersFile) FindUser(username string) (User, bool) {
	for _, g := range uf.Groups {
		for _, u := range g.Users {
			if strings.EqualFold(u.Username, username) {
				return u, true
			}
		}
	}
	return User{}, false
}
