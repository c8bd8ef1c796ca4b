package auth

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bskyarchive/pkg/bsky"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func testAccount(id string) *Account {
	return &Account{
		Identifier: id,
		Session: bsky.Session{
			Handle:     id,
			DID:        "did:plc:" + strings.SplitN(id, ".", 2)[0],
			AccessJWT:  "access_token_for_" + id,
			RefreshJWT: "refresh_token_for_" + id,
			PDS:        "https://pds.example",
		},
	}
}

func TestCredentialManager(t *testing.T) {
	manager, mockStore := NewMockManager()

	account := testAccount("alice.bsky.social")
	require.NoError(t, manager.Store(account))
	assert.False(t, account.LastModified.IsZero())

	retrieved, err := manager.Retrieve("alice.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, account.Session, retrieved.Session)

	accounts, err := manager.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	require.NoError(t, manager.Delete("alice.bsky.social"))
	_, err = manager.Retrieve("alice.bsky.social")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.Zero(t, mockStore.Count())

	assert.ErrorIs(t, manager.Delete("alice.bsky.social"), ErrCredentialsNotFound)
}

func TestManagerStoreValidation(t *testing.T) {
	manager, _ := NewMockManager()

	assert.Error(t, manager.Store(nil))
	assert.Error(t, manager.Store(&Account{Session: testAccount("a").Session}))
	assert.Error(t, manager.Store(&Account{Identifier: "alice"}))
}

func TestManagerFallsThroughStores(t *testing.T) {
	broken := NewMockStore()
	broken.StoreError = errors.New("keyring locked")
	backup := NewMockStore()
	manager := NewManagerWithStores(broken, backup)

	require.NoError(t, manager.Store(testAccount("alice.bsky.social")))
	assert.Zero(t, broken.Count())
	assert.Equal(t, 1, backup.Count())

	backup.StoreError = errors.New("disk full")
	err := manager.Store(testAccount("bob.bsky.social"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestListPrefersNewestCopy(t *testing.T) {
	older := NewMockStore()
	newer := NewMockStore()

	stale := testAccount("alice.bsky.social")
	stale.LastModified = time.Now().Add(-time.Hour)
	stale.Session.AccessJWT = "stale"
	require.NoError(t, older.Store(stale))

	fresh := testAccount("alice.bsky.social")
	fresh.LastModified = time.Now()
	require.NoError(t, newer.Store(fresh))

	accounts, err := NewManagerWithStores(older, newer).List()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, fresh.Session.AccessJWT, accounts[0].Session.AccessJWT)
}

func TestLastUser(t *testing.T) {
	t.Setenv(EnvIdentifier, "")
	t.Setenv(EnvPassword, "")
	store := NewMockStore()
	manager := NewManagerWithStores(store, NewEnvironmentStore())

	_, err := manager.LastUser()
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"alice.bsky.social", "carol.bsky.social", "bob.bsky.social"} {
		a := testAccount(id)
		a.LastModified = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Store(a))
	}

	last, err := manager.LastUser()
	require.NoError(t, err)
	assert.Equal(t, "bob.bsky.social", last.Identifier)
}

func TestLastUserFallsBackToEnvironment(t *testing.T) {
	t.Setenv(EnvIdentifier, "env.bsky.social")
	t.Setenv(EnvPassword, "app-pass")
	manager := NewManagerWithStores(NewMockStore(), NewEnvironmentStore())

	last, err := manager.LastUser()
	require.NoError(t, err)
	assert.Equal(t, "env.bsky.social", last.Identifier)
	assert.Equal(t, "app-pass", last.Password)
	assert.False(t, last.HasSession())
}

func TestSanitizeAccount(t *testing.T) {
	account := testAccount("alice.bsky.social")
	account.Password = "secret"

	sanitized := SanitizeAccount(account)
	assert.Equal(t, account.Identifier, sanitized.Identifier)
	assert.Equal(t, account.Session.DID, sanitized.Session.DID)
	assert.NotEqual(t, account.Session.AccessJWT, sanitized.Session.AccessJWT)
	assert.True(t, strings.HasPrefix(sanitized.Session.AccessJWT, "acce"))
	assert.Contains(t, sanitized.Session.RefreshJWT, "...")
	assert.Empty(t, sanitized.Password)

	// The original is untouched
	assert.Equal(t, "secret", account.Password)
	assert.Nil(t, SanitizeAccount(nil))
	assert.Equal(t, "********", maskString("short"))
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(PassphraseEnv, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "tokens", "sessions.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	account := testAccount("alice.bsky.social")
	account.Password = "never-persisted"
	require.NoError(t, store.Store(account))
	require.NoError(t, store.Store(testAccount("bob.bsky.social")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), account.Session.AccessJWT)
	assert.NotContains(t, string(content), "never-persisted")

	retrieved, err := store.Retrieve("alice.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, account.Session, retrieved.Session)
	assert.Empty(t, retrieved.Password)

	accounts, err := store.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	require.NoError(t, store.Delete("alice.bsky.social"))
	assert.False(t, store.Exists("alice.bsky.social"))
	assert.True(t, store.Exists("bob.bsky.social"))

	require.NoError(t, store.Delete("bob.bsky.social"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "empty store removes its file")
	assert.ErrorIs(t, store.Delete("bob.bsky.social"), ErrCredentialsNotFound)
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.enc")

	t.Setenv(PassphraseEnv, "first")
	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(testAccount("alice.bsky.social")))

	t.Setenv(PassphraseEnv, "second")
	other, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = other.Retrieve("alice.bsky.social")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialsNotFound)
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(testAccount("alice.bsky.social")))

	info, err := os.Stat(filepath.Join(dir, passphraseFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A second store reuses the generated passphrase
	again, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	assert.True(t, again.Exists("alice.bsky.social"))
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv(EnvIdentifier, "")
	t.Setenv(EnvPassword, "")
	store := NewEnvironmentStore()

	_, err := store.Retrieve("")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	t.Setenv(EnvIdentifier, "alice.bsky.social")
	t.Setenv(EnvPassword, "app-pass")

	account, err := store.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, "alice.bsky.social", account.Identifier)
	assert.Equal(t, "app-pass", account.Password)

	_, err = store.Retrieve("bob.bsky.social")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.True(t, store.Exists("alice.bsky.social"))

	assert.ErrorIs(t, store.Store(account), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("alice.bsky.social"), ErrStoreUnavailable)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	require.NoError(t, err)

	require.NoError(t, store.Store(testAccount("alice.bsky.social")))
	require.NoError(t, store.Store(testAccount("bob.bsky.social")))
	// Storing again does not duplicate the index entry
	require.NoError(t, store.Store(testAccount("alice.bsky.social")))

	accounts, err := store.List()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice.bsky.social", accounts[0].Identifier)

	retrieved, err := store.Retrieve("bob.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:bob", retrieved.Session.DID)

	require.NoError(t, store.Delete("alice.bsky.social"))
	assert.False(t, store.Exists("alice.bsky.social"))
	accounts, err = store.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	assert.ErrorIs(t, store.Delete("alice.bsky.social"), ErrCredentialsNotFound)
	_, err = store.Retrieve("")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestNewManagerWithMockKeyring(t *testing.T) {
	keyring.MockInit()
	t.Setenv(PassphraseEnv, "test_passphrase_real_manager")
	t.Setenv(EnvIdentifier, "")
	t.Setenv(EnvPassword, "")

	manager, err := NewManager(filepath.Join(t.TempDir(), "tokens"))
	require.NoError(t, err)
	require.Len(t, manager.stores, 3)
	assert.True(t, manager.UsesKeyring())

	require.NoError(t, manager.Store(testAccount("alice.bsky.social")))
	last, err := manager.LastUser()
	require.NoError(t, err)
	assert.Equal(t, "alice.bsky.social", last.Identifier)

	require.NoError(t, manager.Delete("alice.bsky.social"))
}
