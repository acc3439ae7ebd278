package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/seat-scheduler/internal/crypto"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.Equal(t, ModeReserve, cfg.RunMode)
	assert.Equal(t, "log", cfg.Notify.Provider)
	assert.Nil(t, cfg.CredEncKey)
	assert.Error(t, cfg.RequireServer())
}

func TestFromEnvOverrides(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	t.Setenv("ENV", EnvProduction)
	t.Setenv("SCHED_POLL_INTERVAL", "250ms")
	t.Setenv("RUN_MODE", "7")
	t.Setenv("COOKIE_HASH_KEY", key)
	t.Setenv("COOKIE_BLOCK_KEY", key)
	t.Setenv("CRED_ENC_KEY", key)
	t.Setenv("OPERATOR_USERNAME", "admin")
	t.Setenv("OPERATOR_PASSWORD_HASH", "$2a$10$x")
	t.Setenv("NOTIFY_TO", "a@example.com, b@example.com,")
	t.Setenv("LIBRARY_URL", "https://lib.example.com/")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.Equal(t, ModeReserve|ModeCheckIn|ModeRenew, cfg.RunMode)
	assert.Len(t, cfg.CredEncKey, 32)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Notify.To)
	assert.Equal(t, "https://lib.example.com", cfg.Library.URL)
	assert.NoError(t, cfg.RequireServer())
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("RUN_MODE", "9")
	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("RUN_MODE", "1")
	t.Setenv("CRED_ENC_KEY", base64.StdEncoding.EncodeToString([]byte("short")))
	_, err = FromEnv()
	assert.Error(t, err)
}

func TestDecodeB64FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString([]byte("abc"))+"\n"), 0o600))
	b, err := decodeB64(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), b)
}

const usersYAML = `
groups:
  - name: weekday
    enabled: true
    users:
      - username: alice
        password: %s
        reserve_info:
          floor: "3"
          room: "4"
          seat_id: "021"
          begin_time:
            time: "08:00"
            max_diff: 15
          expect_duration: 5
  - name: weekend
    enabled: false
    users:
      - username: bob
        password: plain
        reserve_info:
          floor: "2"
          room: "1"
          seat_id: "001"
`

func writeUsers(t *testing.T, password string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(usersYAML, "%s", password, 1)), 0o600))
	return path
}

func TestLoadUsers(t *testing.T) {
	uf, err := LoadUsers(writeUsers(t, "secret"), nil)
	require.NoError(t, err)
	require.Len(t, uf.Groups, 2)
	assert.True(t, uf.Groups[0].Enabled)
	assert.False(t, uf.Groups[1].Enabled)

	alice := uf.Groups[0].Users[0]
	assert.Equal(t, "secret", alice.Password)
	assert.Equal(t, "021", alice.ReserveInfo.SeatID)
	require.NotNil(t, alice.ReserveInfo.BeginTime)
	assert.Equal(t, "08:00", *alice.ReserveInfo.BeginTime.Time)
	assert.Equal(t, 15, *alice.ReserveInfo.BeginTime.MaxDiff)
	assert.Nil(t, alice.ReserveInfo.BeginTime.PreferEarly)
	assert.Nil(t, alice.ReserveInfo.EndTime)
	require.NotNil(t, alice.ReserveInfo.ExpectDuration)
	assert.Equal(t, 5.0, *alice.ReserveInfo.ExpectDuration)

	bob, ok := uf.FindUser("BOB")
	require.True(t, ok)
	assert.Equal(t, "001", bob.ReserveInfo.SeatID)
}

func TestLoadUsersDecryptsSealedPasswords(t *testing.T) {
	aead, err := crypto.New([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	sealed, err := aead.Seal("secret")
	require.NoError(t, err)

	path := writeUsers(t, `"`+sealed+`"`)

	uf, err := LoadUsers(path, nil)
	require.NoError(t, err)
	assert.Error(t, uf.Groups[0].Users[0].Err)
	assert.NoError(t, uf.Groups[1].Users[0].Err)

	uf, err = LoadUsers(path, aead)
	require.NoError(t, err)
	assert.NoError(t, uf.Groups[0].Users[0].Err)
	assert.Equal(t, "secret", uf.Groups[0].Users[0].Password)
}

func TestLoadUsersValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte("groups:\n  - name: g\n    users:\n      - username: alice\n"), 0o600))
	uf, err := LoadUsers(path, nil)
	require.NoError(t, err)
	require.Len(t, uf.Groups[0].Users, 1)
	assert.Equal(t, "alice", uf.Groups[0].Users[0].Username)
	assert.Error(t, uf.Groups[0].Users[0].Err)

	require.NoError(t, os.WriteFile(path, []byte("groups:\n  - enabled: true\n"), 0o600))
	_, err = LoadUsers(path, nil)
	assert.Error(t, err)

	_, err = LoadUsers(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

const looseUsersYAML = `
groups:
  - name: g
    enabled: true
    users:
      - username: alice
        password: pw
        reserve_info:
          date: 2025-06-10
          floor: "3"
          room: "4"
          seat_id: "021"
      - username: bob
        password: pw
        reserve_info:
          floor: "3"
          room: "4"
          seat_id: 021
      - username: carol
        password: pw
        reserve_info:
          floor: 3
          room: "4"
          seat_id: "7"
`

func TestLoadUsersKeepsScalarsTextual(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(looseUsersYAML), 0o600))

	uf, err := LoadUsers(path, nil)
	require.NoError(t, err)
	users := uf.Groups[0].Users
	require.Len(t, users, 3)

	alice := users[0]
	require.NoError(t, alice.Err)
	assert.Equal(t, "2025-06-10", alice.ReserveInfo.Date)
	assert.Equal(t, "021", alice.ReserveInfo.SeatID)

	bob := users[1]
	assert.Equal(t, "bob", bob.Username)
	assert.ErrorIs(t, bob.Err, ErrQuoteValue)
	assert.Empty(t, bob.ReserveInfo.SeatID)

	carol := users[2]
	assert.ErrorIs(t, carol.Err, ErrQuoteValue)
}
