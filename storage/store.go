// Package storage provides the encrypted key-value store that persists
// session state between process runs.
package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// NonceSize is the AES-GCM nonce size (96 bits).
	NonceSize = 12

	// KeySize is the AES-256 key size.
	KeySize = 32

	// SaltSize is the key-derivation salt size.
	SaltSize = 32

	// PBKDF2Iterations follows the OWASP recommendation for PBKDF2-SHA-256.
	PBKDF2Iterations = 600000

	saltFileName  = "store.salt"
	entrySuffix   = ".enc"
	storeFileMode = 0o600
	storeDirMode  = 0o700
)

var ErrEmptyPassphrase = errors.New("store passphrase must not be empty")

// Store is the persisted key-value contract the session layer writes
// through. Values are opaque strings; encryption is the store's concern.
type Store interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string) error
	RemoveItem(key string) error
	Clear() error
}

// FileStore keeps one AES-256-GCM encrypted file per key under a directory.
// The key-derivation salt lives alongside the entries; the passphrase never
// touches disk. Entries that fail to decrypt are removed and reported
// absent, so a corrupted store degrades to a logged-out state rather than
// an error loop.
type FileStore struct {
	dir  string
	aead cipher.AEAD
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// OpenFileStore opens (creating if needed) an encrypted store rooted at dir.
func OpenFileStore(dir, passphrase string) (*FileStore, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if err := os.MkdirAll(dir, storeDirMode); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	salt, err := loadOrCreateSalt(filepath.Join(dir, saltFileName))
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &FileStore{dir: dir, aead: aead}, nil
}

// Dir returns the directory backing the store. The logout broadcast watches
// this directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) GetItem(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.entryPath(key)
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	if len(ciphertext) < NonceSize {
		_ = os.Remove(path)
		return "", false
	}

	plaintext, err := s.aead.Open(nil, ciphertext[:NonceSize], ciphertext[NonceSize:], nil)
	if err != nil {
		// Wrong passphrase or tampered entry. Drop it.
		_ = os.Remove(path)
		return "", false
	}
	return string(plaintext), true
}

func (s *FileStore) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, []byte(value), nil)

	if err := os.WriteFile(s.entryPath(key), ciphertext, storeFileMode); err != nil {
		return fmt.Errorf("store %q: %w", key, err)
	}
	return nil
}

func (s *FileStore) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.entryPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Clear removes every entry but keeps the salt, so the same passphrase
// still opens the store afterwards.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read store dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), entrySuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("clear store: %w", err)
		}
	}
	return nil
}

func (s *FileStore) entryPath(key string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(key))
	return filepath.Join(s.dir, name+entrySuffix)
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == SaltSize {
		return salt, nil
	}

	salt = make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, storeFileMode); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	return salt, nil
}
