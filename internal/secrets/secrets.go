// Package secrets stores project-scoped secrets under an AEAD envelope.
// Plaintext exists only in memory inside Get and Set; it is never persisted
// and never logged.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// KeyEnvVar names the environment variable carrying the master key.
const KeyEnvVar = "SECRETS_ENCRYPTION_KEY"

const gcmTagSize = 16

// Store persists encrypted secret records.
type Store interface {
	Put(ctx context.Context, s *models.Secret) error
	Get(ctx context.Context, projectID, key string) (*models.Secret, error)
	List(ctx context.Context, projectID string) ([]models.SecretMetadata, error)
	Delete(ctx context.Context, projectID, key string) error
}

// KeyFromEnv reads and decodes the master key from KeyEnvVar. The value may
// be 64 hex characters or standard base64, either way decoding to 32 bytes.
func KeyFromEnv() ([]byte, error) {
	raw := os.Getenv(KeyEnvVar)
	if raw == "" {
		return nil, fault.New(fault.CodeConfig, "%s is not set", KeyEnvVar)
	}
	if key, err := hex.DecodeString(raw); err == nil && len(key) == 32 {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) == 32 {
		return key, nil
	}
	return nil, fault.New(fault.CodeConfig, "%s must decode to 32 bytes (hex or base64)", KeyEnvVar)
}

// Service encrypts and decrypts project secrets with AES-256-GCM.
type Service struct {
	aead   cipher.AEAD
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a secret service. key must be 32 bytes.
func NewService(key []byte, store Store, logger *slog.Logger) (*Service, error) {
	if len(key) != 32 {
		return nil, fault.New(fault.CodeConfig, "secret key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fault.Wrap(fault.CodeConfig, err, "secret cipher init failed")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fault.Wrap(fault.CodeConfig, err, "secret cipher init failed")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{aead: aead, store: store, logger: logger, now: time.Now}, nil
}

// Set encrypts plaintext under a fresh IV and upserts the record.
func (s *Service) Set(ctx context.Context, projectID, key, plaintext, description string) error {
	if projectID == "" || key == "" {
		return fault.New(fault.CodeValidation, "secret project_id and key are required")
	}
	iv := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return fault.Wrap(fault.CodeConfig, err, "iv generation failed")
	}

	// Seal appends the auth tag to the ciphertext; store them split.
	sealed := s.aead.Seal(nil, iv, []byte(plaintext), s.aad(projectID, key))
	split := len(sealed) - gcmTagSize

	now := s.now()
	record := &models.Secret{
		ProjectID:   projectID,
		Key:         key,
		Ciphertext:  sealed[:split],
		IV:          iv,
		AuthTag:     sealed[split:],
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Put(ctx, record); err != nil {
		return err
	}
	s.logger.Info("secret stored", "project_id", projectID, "key", key)
	return nil
}

// Get decrypts and returns the plaintext, or ("", nil) when the key does
// not exist.
func (s *Service) Get(ctx context.Context, projectID, key string) (string, error) {
	record, err := s.store.Get(ctx, projectID, key)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", nil
	}
	sealed := append(append([]byte{}, record.Ciphertext...), record.AuthTag...)
	plaintext, err := s.aead.Open(nil, record.IV, sealed, s.aad(projectID, key))
	if err != nil {
		return "", fault.Wrap(fault.CodeConfig, err, "secret %q failed authentication", key)
	}
	return string(plaintext), nil
}

// List returns metadata only.
func (s *Service) List(ctx context.Context, projectID string) ([]models.SecretMetadata, error) {
	return s.store.List(ctx, projectID)
}

// Delete removes a secret.
func (s *Service) Delete(ctx context.Context, projectID, key string) error {
	if err := s.store.Delete(ctx, projectID, key); err != nil {
		return err
	}
	s.logger.Info("secret deleted", "project_id", projectID, "key", key)
	return nil
}

// aad binds each record to its project and key so ciphertexts cannot be
// swapped between rows.
func (s *Service) aad(projectID, key string) []byte {
	return []byte(projectID + "\x00" + key)
}
