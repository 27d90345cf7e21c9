package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

const (
	// KeyFileName holds the generated database key when DUPGUARD_DB_KEY is unset.
	KeyFileName = "db.key"
	keySize     = 32 // SQLCipher raw key, 256 bits
)

// StaticKey is a database key supplied up front, e.g. from DUPGUARD_DB_KEY.
type StaticKey []byte

// LoadKey implements domain.KeySource.
func (k StaticKey) LoadKey() ([]byte, error) {
	if len(k) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d bytes, want %d", len(k), keySize)
	}
	return k, nil
}

// ParseHexKey decodes a hex-encoded 256-bit key.
func ParseHexKey(s string) (StaticKey, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if _, err := StaticKey(key).LoadKey(); err != nil {
		return nil, err
	}
	return key, nil
}

// FileKeySource keeps a hex key in the data directory and generates it on
// first use. The directory must exist; OpenStore creates it.
type FileKeySource struct {
	path string
}

// NewFileKeySource returns a FileKeySource for dataDir.
func NewFileKeySource(dataDir string) *FileKeySource {
	return &FileKeySource{path: filepath.Join(dataDir, KeyFileName)}
}

// LoadKey implements domain.KeySource.
func (s *FileKeySource) LoadKey() ([]byte, error) {
	key, err := s.read()
	if errors.Is(err, fs.ErrNotExist) {
		return s.create()
	}
	return key, err
}

func (s *FileKeySource) read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	key, err := ParseHexKey(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return key, nil
}

// create writes a fresh key. A concurrent first start that wins the O_EXCL
// race owns the key; the loser reads it back.
func (s *FileKeySource) create() ([]byte, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, fs.ErrExist) {
		return s.read()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.WriteString(hex.EncodeToString(key)); err != nil {
		f.Close()
		os.Remove(s.path)
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return key, nil
}

// NewKeySource prefers an explicit hex key and falls back to the key file.
func NewKeySource(hexKey, dataDir string) (domain.KeySource, error) {
	if hexKey == "" {
		return NewFileKeySource(dataDir), nil
	}
	return ParseHexKey(hexKey)
}

// GenerateKey returns a random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

var (
	_ domain.KeySource = StaticKey(nil)
	_ domain.KeySource = (*FileKeySource)(nil)
)
