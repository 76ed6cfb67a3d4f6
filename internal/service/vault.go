package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"skylift/internal/models"
)

// Vault stores the single publishing credential, AES-256-GCM encrypted with a
// key derived from the configured secret. Saving replaces whatever was stored
// before; the table never accumulates history.
type Vault struct {
	db     *gorm.DB
	key    [32]byte
	logger *zap.Logger
}

func NewVault(db *gorm.DB, secretKey string, logger *zap.Logger) (*Vault, error) {
	if secretKey == "" {
		// Refusing to start beats silently storing plaintext passwords.
		return nil, fmt.Errorf("credential secret key is not configured")
	}
	return &Vault{
		db:     db,
		key:    sha256.Sum256([]byte(secretKey)),
		logger: logger,
	}, nil
}

// Save encrypts the password and replaces the stored credential.
func (v *Vault) Save(ctx context.Context, handle, password string) error {
	encrypted, err := v.encrypt(password)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	err = v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Credential{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Credential{
			Handle:            handle,
			EncryptedPassword: encrypted,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	v.logger.Info("Credential saved", zap.String("handle", handle))
	return nil
}

// Load returns the most recently stored credential with its password
// decrypted, or ErrNoCredential when nothing is stored.
func (v *Vault) Load(ctx context.Context) (handle, password string, err error) {
	var cred models.Credential
	dbErr := v.db.WithContext(ctx).Order("created_at DESC").First(&cred).Error
	if errors.Is(dbErr, gorm.ErrRecordNotFound) {
		return "", "", ErrNoCredential
	}
	if dbErr != nil {
		return "", "", fmt.Errorf("failed to load credential: %w", dbErr)
	}

	password, err = v.decrypt(cred.EncryptedPassword)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return cred.Handle, password, nil
}

func (v *Vault) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
