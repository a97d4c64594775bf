package infra

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// StoreKeyEnv, when set, carries the base64 store key and takes precedence
// over the key file.
const StoreKeyEnv = "NETGATE_STORE_KEY"

const keySize = 32 // 256-bit SQLCipher key

var errReadOnlyKey = errors.New("store key is supplied by the environment")

func encodeKey(key []byte) (string, error) {
	if len(key) != keySize {
		return "", fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// FileKeyProvider keeps the store key in a file only its owner can read.
type FileKeyProvider struct {
	keyPath string
}

func NewFileKeyProvider(keyPath string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: keyPath}
}

// Path returns the key file path.
func (p *FileKeyProvider) Path() string { return p.keyPath }

// GetKey rejects a key file that other users can read.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	info, err := os.Stat(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return nil, fmt.Errorf("key file %s is accessible by other users (mode %o)", p.keyPath, perm)
	}
	raw, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return decodeKey(string(raw))
}

func (p *FileKeyProvider) StoreKey(key []byte) error {
	encoded, err := encodeKey(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(p.keyPath, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// EnvKeyProvider reads the store key from an environment variable. It never
// generates one.
type EnvKeyProvider struct {
	name string
}

func NewEnvKeyProvider(name string) *EnvKeyProvider {
	return &EnvKeyProvider{name: name}
}

func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	v, ok := os.LookupEnv(p.name)
	if !ok {
		return nil, fmt.Errorf("%s is not set", p.name)
	}
	key, err := decodeKey(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return key, nil
}

func (p *EnvKeyProvider) StoreKey([]byte) error { return errReadOnlyKey }

func (p *EnvKeyProvider) KeyExists() bool {
	_, ok := os.LookupEnv(p.name)
	return ok
}

// KeyProviderFor picks the environment key when StoreKeyEnv is set and the
// data directory's key file otherwise.
func KeyProviderFor(mode *ExecModeConfig) domain.KeyProvider {
	if env := NewEnvKeyProvider(StoreKeyEnv); env.KeyExists() {
		return env
	}
	return NewFileKeyProvider(mode.KeyPath())
}

// GenerateKey creates a random store key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the provider's key, generating and persisting one on
// first use.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

var (
	_ domain.KeyProvider = (*FileKeyProvider)(nil)
	_ domain.KeyProvider = (*EnvKeyProvider)(nil)
)
