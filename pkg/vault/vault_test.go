package vault

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// a low scrypt cost keeps the tests fast
const testWorkFactor = 10

func newPassVault(t *testing.T, path, pass string) *Vault {
	t.Helper()
	v, err := New(path, WithPassphrase(pass, testWorkFactor))
	require.NoError(t, err)
	return v
}

func TestSetGetDeleteList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.age")
	fixed := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	v, err := New(path, WithPassphrase("correct horse", testWorkFactor), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	names, _, err := v.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, v.Set("OPENAI_API_KEY", "sk-123"))
	require.NoError(t, v.Set("github.token", "ghp_abc"))
	require.NoError(t, v.Set("OPENAI_API_KEY", "sk-456"))

	got, err := v.Get("OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-456", got)

	names, updated, err := v.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"OPENAI_API_KEY", "github.token"}, names)
	assert.Equal(t, fixed, updated["github.token"])

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("sk-456")), "vault must not hold plaintext")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, v.Delete("github.token"))
	_, err = v.Get("github.token")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, v.Delete("github.token"), ErrNotFound)
}

func TestInvalidName(t *testing.T) {
	v := newPassVault(t, filepath.Join(t.TempDir(), "vault.age"), "pw")
	assert.ErrorContains(t, v.Set("has space", "x"), "invalid secret name")
	assert.ErrorContains(t, v.Set("", "x"), "invalid secret name")
}

func TestWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.age")
	require.NoError(t, newPassVault(t, path, "right").Set("k", "v"))

	_, err := newPassVault(t, path, "wrong").Get("k")
	assert.ErrorContains(t, err, "failed to decrypt vault")
}

func TestIdentityFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "keys", "identity.txt")

	recipient, err := GenerateIdentity(keyPath)
	require.NoError(t, err)
	assert.Contains(t, recipient, "age1")

	again, err := GenerateIdentity(keyPath)
	require.NoError(t, err)
	assert.Equal(t, recipient, again, "existing identity is reused")

	v, err := Open(filepath.Join(dir, "vault.age"), keyPath)
	require.NoError(t, err)
	require.NoError(t, v.Set("token", "t0k"))

	reopened, err := New(filepath.Join(dir, "vault.age"), WithIdentityFile(keyPath))
	require.NoError(t, err)
	got, err := reopened.Get("token")
	require.NoError(t, err)
	assert.Equal(t, "t0k", got)

	_, err = LoadIdentity(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestOpenFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.age")

	t.Setenv(PassphraseEnv, "")
	_, err := Open(path, "")
	assert.ErrorIs(t, err, ErrNoKey)

	t.Setenv(PassphraseEnv, "from-env")
	v, err := Open(path, "")
	require.NoError(t, err)
	assert.Len(t, v.identities, 1)

	_, err = New(path)
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestConcurrentSets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.age")

	vaults := make([]*Vault, 5)
	for i := range vaults {
		vaults[i] = newPassVault(t, path, "shared")
	}

	var wg sync.WaitGroup
	for i, v := range vaults {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.Set(string(rune('a'+i)), "x"))
		}()
	}
	wg.Wait()

	names, _, err := newPassVault(t, path, "shared").List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names)
}
