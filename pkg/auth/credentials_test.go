package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

// memStore is an in-memory CredentialStore keyed by username
type memStore struct {
	accounts map[string]Account
	storeErr error
}

func newMemStore() *memStore { return &memStore{accounts: make(map[string]Account)} }

func (m *memStore) Store(a *Account) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	m.accounts[a.Username] = *a
	return nil
}

func (m *memStore) Retrieve(username string) (*Account, error) {
	a, ok := m.accounts[username]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &a, nil
}

func (m *memStore) List() ([]*Account, error) {
	var out []*Account
	for _, a := range m.accounts {
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *memStore) Delete(username string) error {
	if _, ok := m.accounts[username]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.accounts, username)
	return nil
}

func (m *memStore) Exists(username string) bool {
	_, ok := m.accounts[username]
	return ok
}

func newVaultStore(t *testing.T) (*EncryptedFileStore, string) {
	t.Helper()
	t.Setenv(PassphraseEnv, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("Failed to create encrypted store: %v", err)
	}
	return store, path
}

func testAccount(username string) *Account {
	return &Account{
		Username:     username,
		Password:     "hunter2-password",
		ClientID:     "client_id_12345",
		ClientSecret: "client_secret_67890",
		UserAgent:    "subarchive-test/1.0",
	}
}

func TestCredentialManager(t *testing.T) {
	mem := newMemStore()
	manager := NewManagerWithStores(mem)

	account := testAccount("testuser")
	if err := manager.Store(account); err != nil {
		t.Fatalf("Failed to store account: %v", err)
	}
	if account.LastModified.IsZero() {
		t.Error("Store should stamp LastModified")
	}

	retrieved, err := manager.Retrieve("testuser")
	if err != nil {
		t.Fatalf("Failed to retrieve account: %v", err)
	}
	if retrieved.ClientID != account.ClientID {
		t.Errorf("ClientID mismatch: got %s, want %s", retrieved.ClientID, account.ClientID)
	}
	if retrieved.ClientSecret != account.ClientSecret {
		t.Errorf("ClientSecret mismatch: got %s, want %s", retrieved.ClientSecret, account.ClientSecret)
	}
	if retrieved.Password != account.Password {
		t.Errorf("Password mismatch: got %s, want %s", retrieved.Password, account.Password)
	}

	accounts, err := manager.List()
	if err != nil {
		t.Errorf("Failed to list accounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("Expected 1 account in list, got %d", len(accounts))
	}

	if err := manager.Delete("testuser"); err != nil {
		t.Errorf("Failed to delete account: %v", err)
	}
	_, err = manager.Retrieve("testuser")
	if !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound after deletion, got %v", err)
	}
	if len(mem.accounts) != 0 {
		t.Errorf("Expected 0 accounts after deletion, got %d", len(mem.accounts))
	}
}

func TestManagerStoreValidation(t *testing.T) {
	manager := NewManagerWithStores(newMemStore())

	tests := []struct {
		name   string
		mutate func(*Account)
	}{
		{"missing username", func(a *Account) { a.Username = "" }},
		{"missing password", func(a *Account) { a.Password = "" }},
		{"missing client id", func(a *Account) { a.ClientID = "" }},
		{"missing client secret", func(a *Account) { a.ClientSecret = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := testAccount("someone")
			tt.mutate(account)
			if err := manager.Store(account); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestManagerFallsBackToNextStore(t *testing.T) {
	broken := newMemStore()
	broken.storeErr = fmt.Errorf("keychain locked")
	working := newMemStore()
	manager := NewManagerWithStores(broken, working)

	if err := manager.Store(testAccount("fallback")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if !working.Exists("fallback") {
		t.Error("Account should land in the second store")
	}
}

func TestSanitizeAccount(t *testing.T) {
	account := testAccount("testuser")
	sanitized := SanitizeAccount(account)

	if sanitized.ClientSecret == account.ClientSecret {
		t.Error("ClientSecret should be masked")
	}
	if sanitized.Password == account.Password {
		t.Error("Password should be masked")
	}
	if sanitized.Username != account.Username {
		t.Error("Username should not be masked")
	}
	if got := maskString("short"); got != "********" {
		t.Errorf("maskString(short) = %s", got)
	}
	if got := maskString("client_secret_67890"); got != "clie...7890" {
		t.Errorf("maskString = %s", got)
	}
}

func TestEncryptedFileStore(t *testing.T) {
	store, path := newVaultStore(t)

	account := testAccount("encrypted_user")
	account.ClientSecret = "very_secret_value"
	if err := store.Store(account); err != nil {
		t.Fatalf("Failed to store in encrypted file: %v", err)
	}

	retrieved, err := store.Retrieve("encrypted_user")
	if err != nil {
		t.Fatalf("Failed to retrieve from encrypted file: %v", err)
	}
	if retrieved.ClientSecret != account.ClientSecret {
		t.Errorf("ClientSecret mismatch after encryption/decryption")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(content, []byte("very_secret_value")) {
		t.Error("File contains plaintext client secret")
	}
	if bytes.Contains(content, []byte(account.Password)) {
		t.Error("File contains plaintext password")
	}

	if err := store.Delete("encrypted_user"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Exists("encrypted_user") {
		t.Error("Account should be gone")
	}
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	dir := t.TempDir()

	store, err := NewEncryptedFileStore(filepath.Join(dir, "creds.enc"))
	if err != nil {
		t.Fatalf("Failed to create encrypted store: %v", err)
	}
	if err := store.Store(testAccount("first")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// a second store over the same directory reuses the saved passphrase
	again, err := NewEncryptedFileStore(filepath.Join(dir, "creds.enc"))
	if err != nil {
		t.Fatalf("Failed to reopen encrypted store: %v", err)
	}
	if !again.Exists("first") {
		t.Error("Reopened store should decrypt existing accounts")
	}
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv(EnvClientID, "env_client")
	t.Setenv(EnvClientSecret, "env_secret")
	t.Setenv(EnvUsername, "env_user")
	t.Setenv(EnvPassword, "env_password")

	store := NewEnvironmentStore()

	account, err := store.Retrieve("")
	if err != nil {
		t.Fatalf("Failed to retrieve from environment: %v", err)
	}
	if account.ClientID != "env_client" {
		t.Errorf("ClientID mismatch: got %s, want env_client", account.ClientID)
	}
	if account.Username != "env_user" {
		t.Errorf("Username mismatch: got %s, want env_user", account.Username)
	}
	if _, err := store.Retrieve("someone_else"); err != ErrCredentialsNotFound {
		t.Errorf("Expected ErrCredentialsNotFound for other user, got %v", err)
	}

	if err := store.Store(&Account{}); err != ErrStoreUnavailable {
		t.Error("Expected ErrStoreUnavailable for environment store")
	}
}

func TestEnvironmentStoreIncomplete(t *testing.T) {
	t.Setenv(EnvClientID, "env_client")
	t.Setenv(EnvClientSecret, "")
	t.Setenv(EnvUsername, "env_user")
	t.Setenv(EnvPassword, "env_password")

	if NewEnvironmentStore().Exists("") {
		t.Error("Incomplete environment credentials should not count")
	}
}

func TestRetrieveDefaultPrefersEnvironment(t *testing.T) {
	t.Setenv(EnvClientID, "env_client")
	t.Setenv(EnvClientSecret, "env_secret")
	t.Setenv(EnvUsername, "env_user")
	t.Setenv(EnvPassword, "env_password")

	stored := newMemStore()
	_ = stored.Store(testAccount("aaa"))
	manager := NewManagerWithStores(stored, NewEnvironmentStore())

	account, err := manager.RetrieveDefault()
	if err != nil {
		t.Fatalf("RetrieveDefault failed: %v", err)
	}
	if account.Username != "env_user" {
		t.Errorf("Expected environment account, got %s", account.Username)
	}
}

func TestAccountTokenSource(t *testing.T) {
	account := testAccount("tokenuser")
	account.UserAgent = ""

	ts := account.TokenSource("fallback-agent/1.0", http.DefaultClient)
	if ts.UserAgent != "fallback-agent/1.0" {
		t.Errorf("UserAgent = %s, want fallback", ts.UserAgent)
	}
	if ts.ClientID != account.ClientID || ts.Username != account.Username {
		t.Error("Token source should carry account credentials")
	}
}

func TestEncryptedFileStoreKeysByAppAndUser(t *testing.T) {
	store, _ := newVaultStore(t)

	older := testAccount("archivebot")
	older.ClientID = "app_one"
	older.LastModified = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := testAccount("archivebot")
	newer.ClientID = "app_two"
	newer.ClientSecret = "second_app_secret"
	newer.LastModified = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	other := testAccount("otheruser")
	other.ClientID = "app_one"

	for _, a := range []*Account{older, newer, other} {
		if err := store.Store(a); err != nil {
			t.Fatalf("Store(%s) failed: %v", a.Key(), err)
		}
	}

	accounts, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var keys []string
	for _, a := range accounts {
		keys = append(keys, a.Key())
	}
	want := []string{"app_one/archivebot", "app_two/archivebot", "app_one/otheruser"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Errorf("List keys = %v, want %v", keys, want)
	}

	got, err := store.Retrieve("archivebot")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if got.ClientID != "app_two" || got.ClientSecret != "second_app_secret" {
		t.Errorf("Retrieve should return the most recent app, got %s", got.Key())
	}

	// storing the same app and user again replaces the entry
	newer.Password = "rotated-password"
	if err := store.Store(newer); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if accounts, _ := store.List(); len(accounts) != 3 {
		t.Errorf("Expected 3 entries after update, got %d", len(accounts))
	}

	if err := store.Delete("archivebot"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	accounts, _ = store.List()
	if len(accounts) != 1 || accounts[0].Username != "otheruser" {
		t.Errorf("Delete should remove every app entry of the user, left %v", accounts)
	}
}

func TestEncryptedFileStoreRejectsMovedSecrets(t *testing.T) {
	store, path := newVaultStore(t)

	a := testAccount("alice")
	a.ClientSecret = "alice_secret_value"
	b := testAccount("bob")
	b.ClientSecret = "bob_secret_value"
	if err := store.Store(a); err != nil {
		t.Fatal(err)
	}
	if err := store.Store(b); err != nil {
		t.Fatal(err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var v vault
	if err := json.Unmarshal(content, &v); err != nil {
		t.Fatalf("vault is not JSON: %v", err)
	}
	if v.Version != vaultVersion {
		t.Errorf("version = %d", v.Version)
	}

	bobEntry := v.Entries[b.Key()]
	aliceEntry := v.Entries[a.Key()]
	if bobEntry.ClientID != b.ClientID || bobEntry.Username != "bob" {
		t.Errorf("entry metadata should be readable, got %+v", bobEntry)
	}
	bobEntry.ClientSecret = aliceEntry.ClientSecret
	v.Entries[b.Key()] = bobEntry

	tampered, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, tampered, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Retrieve("bob"); err == nil {
		t.Error("A secret sealed for another entry must not open")
	}
	if _, err := store.Retrieve("alice"); err != nil {
		t.Errorf("Untouched entry should still open: %v", err)
	}
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	store, path := newVaultStore(t)
	if err := store.Store(testAccount("alice")); err != nil {
		t.Fatal(err)
	}

	t.Setenv(PassphraseEnv, "a_different_passphrase")
	reopened, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reopened.Retrieve("alice"); err == nil || errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected a decryption error, got %v", err)
	}
}

func TestKeyringStoreSharesAppSecret(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	if err != nil {
		t.Fatalf("NewKeyringStore failed: %v", err)
	}

	alice := testAccount("alice")
	alice.ClientID = "shared_app"
	alice.ClientSecret = "shared_secret_1"
	if err := store.Store(alice); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	secret, err := keyring.Get(keyringService, "app:shared_app")
	if err != nil || secret != "shared_secret_1" {
		t.Errorf("app secret item = %q, %v", secret, err)
	}
	user, err := keyring.Get(keyringService, "user:alice")
	if err != nil {
		t.Fatalf("user item missing: %v", err)
	}
	if bytes.Contains([]byte(user), []byte("shared_secret_1")) {
		t.Error("User item must not carry the app secret")
	}

	// a second user of the same app rotates the shared secret
	bob := testAccount("bob")
	bob.ClientID = "shared_app"
	bob.ClientSecret = "shared_secret_2"
	if err := store.Store(bob); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := store.Retrieve("alice")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if got.ClientSecret != "shared_secret_2" || got.Password != alice.Password {
		t.Errorf("Retrieve = %+v", SanitizeAccount(got))
	}

	if err := store.Delete("bob"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Exists("bob") {
		t.Error("bob should be gone")
	}
	if _, err := store.Retrieve("alice"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("alice loses the deleted app secret, got %v", err)
	}
	if _, err := store.Retrieve("nobody"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound, got %v", err)
	}
}
