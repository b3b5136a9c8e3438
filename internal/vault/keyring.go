package vault

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	keyringService = "mailflow"
	masterKeyItem  = "smtp-encryption-key"
)

// ErrNoMasterKey is returned when neither the environment nor the keyring
// holds a master key.
var ErrNoMasterKey = errors.New("vault: master key not configured")

// KeyStore keeps the master key in the operating system keyring so
// operators do not have to export it in every shell.
type KeyStore struct {
	Ring keyring.Keyring
}

// OpenKeyStore opens the platform keyring with an encrypted file fallback.
func OpenKeyStore() (*KeyStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailflow/keys",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailflow-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &KeyStore{Ring: ring}, nil
}

// MasterKey returns the stored master key.
func (k *KeyStore) MasterKey() (string, error) {
	item, err := k.Ring.Get(masterKeyItem)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoMasterKey
	}
	if err != nil {
		return "", fmt.Errorf("getting master key: %w", err)
	}
	if len(item.Data) == 0 {
		return "", ErrNoMasterKey
	}
	return string(item.Data), nil
}

// SetMasterKey stores key, replacing any previous value.
func (k *KeyStore) SetMasterKey(key string) error {
	if key == "" {
		return ErrNoMasterKey
	}
	if err := k.Ring.Set(keyring.Item{Key: masterKeyItem, Data: []byte(key)}); err != nil {
		return fmt.Errorf("setting master key: %w", err)
	}
	return nil
}

// ResolveMasterKey prefers the configured value and falls back to the
// keyring.
func ResolveMasterKey(configured string, open func() (*KeyStore, error)) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if open == nil {
		return "", ErrNoMasterKey
	}
	store, err := open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoMasterKey, err)
	}
	return store.MasterKey()
}
