package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"
)

const keyringService = "subarchive"

// KeyringStore keeps accounts in the system keychain as two kinds of item:
// "app:<client id>" holds the client secret, shared by every user of that
// app, and "user:<username>" holds the user's password and the app it uses.
type KeyringStore struct{}

// keyringUser is the JSON stored under a user item
type keyringUser struct {
	ClientID     string    `json:"client_id"`
	Password     string    `json:"password"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

func appItem(clientID string) string  { return "app:" + clientID }
func userItem(username string) string { return "user:" + username }

// NewKeyringStore probes the keychain and fails when it cannot be written.
func NewKeyringStore() (*KeyringStore, error) {
	const probe = "probe"
	if err := keyring.Set(keyringService, probe, "ok"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	_ = keyring.Delete(keyringService, probe)
	return &KeyringStore{}, nil
}

// Store writes the app secret, then the user item pointing at it.
func (k *KeyringStore) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	if err := keyring.Set(keyringService, appItem(account.ClientID), account.ClientSecret); err != nil {
		return fmt.Errorf("failed to store app secret: %w", err)
	}

	data, err := json.Marshal(keyringUser{
		ClientID:     account.ClientID,
		Password:     account.Password,
		UserAgent:    account.UserAgent,
		LastModified: account.LastModified,
	})
	if err != nil {
		return err
	}
	if err := keyring.Set(keyringService, userItem(account.Username), string(data)); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

// Retrieve joins the user item with its app secret. A user whose app
// secret is gone is reported as not found.
func (k *KeyringStore) Retrieve(username string) (*Account, error) {
	if username == "" {
		return nil, ErrInvalidCredentials
	}

	data, err := get(userItem(username))
	if err != nil {
		return nil, err
	}
	var u keyringUser
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, fmt.Errorf("failed to decode keyring user %s: %w", username, err)
	}

	secret, err := get(appItem(u.ClientID))
	if err != nil {
		return nil, err
	}

	account := &Account{
		Username:     username,
		Password:     u.Password,
		ClientID:     u.ClientID,
		ClientSecret: secret,
		UserAgent:    u.UserAgent,
		LastModified: u.LastModified,
	}
	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return account, nil
}

// List returns nothing: go-keyring cannot enumerate items, so listing is
// left to the encrypted file store.
func (k *KeyringStore) List() ([]*Account, error) {
	return []*Account{}, nil
}

// Delete removes the user item and its app secret.
func (k *KeyringStore) Delete(username string) error {
	account, err := k.Retrieve(username)
	if err != nil {
		if errors.Is(err, ErrCredentialsNotFound) {
			// a dangling user item still gets cleaned up
			_ = keyring.Delete(keyringService, userItem(username))
		}
		return err
	}

	if err := keyring.Delete(keyringService, userItem(username)); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if err := keyring.Delete(keyringService, appItem(account.ClientID)); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete app secret: %w", err)
	}
	return nil
}

// Exists checks if a complete account is stored for username
func (k *KeyringStore) Exists(username string) bool {
	_, err := k.Retrieve(username)
	return err == nil
}

func get(item string) (string, error) {
	v, err := keyring.Get(keyringService, item)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrCredentialsNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read keyring item %s: %w", item, err)
	}
	return v, nil
}
