// Package keystore holds issuers' Ed25519 private keys on the local machine,
// apart from the public ledger and registry.
//
// With a passphrase every key is sealed with XChaCha20-Poly1305 under a key
// derived by PBKDF2-SHA256. Without one keys are stored hex-encoded.
package keystore

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"credledger/ledger"
)

const (
	fileVersion      = 1
	saltSize         = 16
	pbkdf2Iterations = 210_000
)

var (
	ErrKeyNotFound = errors.New("keystore: no key for issuer")
	ErrSealed      = errors.New("keystore: cannot unseal key")
	ErrMode        = errors.New("keystore: file sealing does not match passphrase")
)

type entry struct {
	PrivateKey string `json:"private_key,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
}

type file struct {
	Version int              `json:"version"`
	Sealed  bool             `json:"sealed"`
	Salt    string           `json:"salt,omitempty"`
	Keys    map[string]entry `json:"keys"`
}

// Store is a JSON key file. It is not safe for concurrent use.
type Store struct {
	path string
	data file
	aead cipher.AEAD
}

// Open loads the key file at path, creating an empty one on first use. A
// file created with a passphrase can only be opened with a passphrase, and
// the other way round.
func Open(path, passphrase string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path}

	payload, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.data = file{Version: fileVersion, Sealed: passphrase != "", Keys: map[string]entry{}}
		if s.data.Sealed {
			salt := make([]byte, saltSize)
			if _, err := rand.Read(salt); err != nil {
				return nil, fmt.Errorf("generate salt: %w", err)
			}
			s.data.Salt = base64.RawStdEncoding.EncodeToString(salt)
		}
	case err != nil:
		return nil, fmt.Errorf("read key file: %w", err)
	default:
		if err := json.Unmarshal(payload, &s.data); err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		if s.data.Keys == nil {
			s.data.Keys = map[string]entry{}
		}
	}

	if s.data.Sealed != (passphrase != "") {
		return nil, ErrMode
	}
	if !s.data.Sealed {
		logger.Warn("issuer keys are stored unencrypted; set a key passphrase to seal them", "path", path)
		return s, nil
	}

	salt, err := base64.RawStdEncoding.DecodeString(s.data.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, chacha20poly1305.KeySize, sha256.New)
	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("init xchacha20poly1305: %w", err)
	}
	s.aead = aead
	return s, nil
}

// Generate creates a new issuer, stores its private key and returns the
// public identity.
func (s *Store) Generate(name string) (ledger.Issuer, error) {
	issuer, key, err := ledger.NewIssuer(name)
	if err != nil {
		return ledger.Issuer{}, err
	}
	if err := s.Put(issuer.ID, key); err != nil {
		return ledger.Issuer{}, err
	}
	return issuer, nil
}

// Put stores key for the issuer and writes the file.
func (s *Store) Put(issuerID uuid.UUID, key ed25519.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("keystore: private key must be %d bytes", ed25519.PrivateKeySize)
	}
	var e entry
	if s.aead == nil {
		e.PrivateKey = hex.EncodeToString(key)
	} else {
		nonce := make([]byte, s.aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return err
		}
		e.Nonce = base64.RawStdEncoding.EncodeToString(nonce)
		e.Ciphertext = base64.RawStdEncoding.EncodeToString(s.aead.Seal(nil, nonce, key, issuerID[:]))
	}
	s.data.Keys[issuerID.String()] = e
	return s.save()
}

// Get returns the private key of the issuer.
func (s *Store) Get(issuerID uuid.UUID) (ed25519.PrivateKey, error) {
	e, ok := s.data.Keys[issuerID.String()]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrKeyNotFound, issuerID)
	}

	var raw []byte
	if s.aead == nil {
		decoded, err := hex.DecodeString(e.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("decode key %s: %w", issuerID, err)
		}
		raw = decoded
	} else {
		nonce, err := base64.RawStdEncoding.DecodeString(e.Nonce)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSealed, err)
		}
		ciphertext, err := base64.RawStdEncoding.DecodeString(e.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSealed, err)
		}
		raw, err = s.aead.Open(nil, nonce, ciphertext, issuerID[:])
		if err != nil {
			return nil, ErrSealed
		}
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keystore: key %s has %d bytes", issuerID, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	payload, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode key file: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, append(payload, '\n'), 0o600); err != nil {
		return fmt.Errorf("write temp key file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace key file: %w", err)
	}
	return nil
}
