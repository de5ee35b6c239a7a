package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseEnv overrides the generated passphrase file.
const PassphraseEnv = "SUBARCHIVE_PASSPHRASE"

const (
	vaultVersion = 2
	saltSize     = 32
	keySize      = 32
	iterations   = 100000
)

// EncryptedFileStore keeps script-app accounts in a JSON vault. Usernames,
// client IDs and user agents are stored in the clear so accounts can be
// listed; the password and the client secret are sealed separately with
// AES-GCM under a PBKDF2 key, each bound to its entry and field.
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

// vault is the on-disk layout. Entries are keyed by Account.Key, so one
// user may hold accounts for several apps.
type vault struct {
	Version int                   `json:"version"`
	Salt    []byte                `json:"salt"`
	Entries map[string]vaultEntry `json:"entries"`
}

type vaultEntry struct {
	Username     string    `json:"username"`
	ClientID     string    `json:"client_id"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
	Password     []byte    `json:"password"`
	ClientSecret []byte    `json:"client_secret"`
}

// NewEncryptedFileStore opens the vault at path, creating its directory and
// passphrase on first use. The file itself is written by the first Store.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	store := &EncryptedFileStore{path: path}
	passphrase, err := store.loadPassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	store.passphrase = passphrase
	return store, nil
}

// Store seals the account's secrets and replaces any entry for the same
// app and user.
func (e *EncryptedFileStore) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		v, err = newVault()
	}
	if err != nil {
		return err
	}

	gcm, err := e.aead(v.Salt)
	if err != nil {
		return err
	}

	key := account.Key()
	entry := vaultEntry{
		Username:     account.Username,
		ClientID:     account.ClientID,
		UserAgent:    account.UserAgent,
		LastModified: account.LastModified,
	}
	if entry.Password, err = seal(gcm, []byte(account.Password), key, "password"); err != nil {
		return err
	}
	if entry.ClientSecret, err = seal(gcm, []byte(account.ClientSecret), key, "client_secret"); err != nil {
		return err
	}
	v.Entries[key] = entry

	return e.write(v)
}

// Retrieve returns the most recently stored account for username across
// all apps.
func (e *EncryptedFileStore) Retrieve(username string) (*Account, error) {
	if username == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, err := e.accounts(func(en vaultEntry) bool { return en.Username == username })
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrCredentialsNotFound
	}

	latest := accounts[0]
	for _, a := range accounts[1:] {
		if a.LastModified.After(latest.LastModified) {
			latest = a
		}
	}
	return latest, nil
}

// List opens every entry, sorted by username then client ID.
func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, err := e.accounts(func(vaultEntry) bool { return true })
	if err != nil {
		return nil, err
	}
	sortAccounts(accounts)
	return accounts, nil
}

// Delete removes every app entry of username. The vault file is removed
// with its last entry.
func (e *EncryptedFileStore) Delete(username string) error {
	if username == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return err
	}

	removed := 0
	for key, en := range v.Entries {
		if en.Username == username {
			delete(v.Entries, key)
			removed++
		}
	}
	if removed == 0 {
		return ErrCredentialsNotFound
	}
	if len(v.Entries) == 0 {
		return os.Remove(e.path)
	}
	return e.write(v)
}

// Exists checks if credentials exist
func (e *EncryptedFileStore) Exists(username string) bool {
	account, err := e.Retrieve(username)
	return err == nil && account != nil
}

// accounts opens the entries matching keep. A missing vault holds none.
func (e *EncryptedFileStore) accounts(keep func(vaultEntry) bool) ([]*Account, error) {
	v, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	gcm, err := e.aead(v.Salt)
	if err != nil {
		return nil, err
	}

	var out []*Account
	for key, en := range v.Entries {
		if !keep(en) {
			continue
		}
		password, err := open(gcm, en.Password, key, "password")
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt password of %s: %w", key, err)
		}
		secret, err := open(gcm, en.ClientSecret, key, "client_secret")
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt client secret of %s: %w", key, err)
		}

		account := &Account{
			Username:     en.Username,
			Password:     string(password),
			ClientID:     en.ClientID,
			ClientSecret: string(secret),
			UserAgent:    en.UserAgent,
			LastModified: en.LastModified,
		}
		if account.Key() != key {
			return nil, fmt.Errorf("vault entry %s does not match its account", key)
		}
		out = append(out, account)
	}
	return out, nil
}

func newVault() (*vault, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return &vault{Version: vaultVersion, Salt: salt, Entries: make(map[string]vaultEntry)}, nil
}

func (e *EncryptedFileStore) read() (*vault, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return nil, err
	}

	var v vault
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", e.path, err)
	}
	if v.Version != vaultVersion {
		return nil, fmt.Errorf("unsupported credentials file version %d", v.Version)
	}
	if len(v.Salt) != saltSize {
		return nil, errors.New("credentials file has no valid salt")
	}
	if v.Entries == nil {
		v.Entries = make(map[string]vaultEntry)
	}
	return &v, nil
}

func (e *EncryptedFileStore) write(v *vault) error {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return os.Rename(tmp, e.path)
}

func (e *EncryptedFileStore) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts plaintext with a fresh nonce prefix. The entry key and
// field name are authenticated so sealed values cannot be moved between
// entries.
func seal(gcm cipher.AEAD, plaintext []byte, key, field string) ([]byte, error) {
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, []byte(key+"|"+field)), nil
}

func open(gcm cipher.AEAD, sealed []byte, key, field string) ([]byte, error) {
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, []byte(key+"|"+field))
}

// loadPassphrase reads the passphrase from the environment or from a
// .passphrase file beside the vault, generating one on first use.
func (e *EncryptedFileStore) loadPassphrase() (string, error) {
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return pass, nil
	}

	file := filepath.Join(filepath.Dir(e.path), ".passphrase")
	if content, err := os.ReadFile(file); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := base64.URLEncoding.EncodeToString(b)
	if err := os.WriteFile(file, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}

func sortAccounts(accounts []*Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Username != accounts[j].Username {
			return accounts[i].Username < accounts[j].Username
		}
		return accounts[i].ClientID < accounts[j].ClientID
	})
}
