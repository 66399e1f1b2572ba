package store

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Token errors.
var (
	// ErrNoToken is returned when no token is standing.
	ErrNoToken = errors.New("store: no verification token")
	// ErrTokenTampered is returned when the persisted token record fails
	// its integrity check.
	ErrTokenTampered = errors.New("store: token record tampered")
)

// TokenRecord is the standing verification token with issuance context.
type TokenRecord struct {
	Token        string    `json:"token"`
	DocumentHash string    `json:"documentHash,omitempty"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// tokenEnvelope is the on-disk form: the record plus an HMAC over its
// serialized bytes.
type tokenEnvelope struct {
	Record TokenRecord `json:"record"`
	MAC    string      `json:"mac"`
}

// TokenStore persists the standing verification token with HMAC
// integrity protection. The MAC key is derived from a per-installation
// secret, so a casually edited token file is detected rather than
// trusted.
type TokenStore struct {
	path       string
	secretPath string
}

// NewTokenStore creates a token store rooted at path. The key secret is
// kept alongside the token file.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{
		path:       path,
		secretPath: path + ".key",
	}
}

// Save persists a token record, replacing any standing token.
func (t *TokenStore) Save(rec TokenRecord) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	key, err := t.macKey()
	if err != nil {
		return err
	}

	mac, err := recordMAC(key, rec)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(tokenEnvelope{Record: rec, MAC: mac}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := os.WriteFile(t.path, data, 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// Load returns the standing token record. A record whose MAC does not
// verify is reported as tampered, not returned.
func (t *TokenStore) Load() (TokenRecord, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TokenRecord{}, ErrNoToken
		}
		return TokenRecord{}, fmt.Errorf("read token: %w", err)
	}

	var env tokenEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return TokenRecord{}, fmt.Errorf("unmarshal token: %w", err)
	}

	key, err := t.macKey()
	if err != nil {
		return TokenRecord{}, err
	}

	want, err := recordMAC(key, env.Record)
	if err != nil {
		return TokenRecord{}, err
	}
	if !hmac.Equal([]byte(want), []byte(env.MAC)) {
		return TokenRecord{}, ErrTokenTampered
	}

	return env.Record, nil
}

// Clear removes the standing token. Clearing an absent token is not an
// error.
func (t *TokenStore) Clear() error {
	if err := os.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// macKey derives the HMAC key from the per-installation secret, creating
// the secret on first use.
func (t *TokenStore) macKey() ([]byte, error) {
	secret, err := os.ReadFile(t.secretPath)
	if errors.Is(err, os.ErrNotExist) {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(t.secretPath), 0700); err != nil {
			return nil, fmt.Errorf("create token directory: %w", err)
		}
		if err := os.WriteFile(t.secretPath, secret, 0600); err != nil {
			return nil, fmt.Errorf("write token secret: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read token secret: %w", err)
	}

	kdf := hkdf.New(sha256.New, secret, []byte("proofwrite-token"), []byte("token-record-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return key, nil
}

// recordMAC computes the hex HMAC-SHA256 over the record's JSON bytes.
func recordMAC(key []byte, rec TokenRecord) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal token record: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
