// Package encryption seals phone numbers carried by security events with
// envelope encryption: AES-256-GCM under a data key that KMS wraps.
package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealzee-auth/internal/config"
	"mealzee-auth/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// dataKeyLifetime bounds how long one data key seals events before a new one
// is requested from KMS.
const dataKeyLifetime = time.Hour

// KMSAPI is the subset of the KMS client used here.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type EncryptedData struct {
	EncryptedValue string `json:"encrypted_value"`
	EncryptedDEK   string `json:"encrypted_dek"`
	KeyID          string `json:"key_id"`
	Version        string `json:"version"`
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
	createdAt  time.Time
}

type EncryptionManager struct {
	kmsClient KMSAPI
	enabled   bool
	keyID     string

	mu      sync.Mutex
	current *DataKey
	// decrypted DEKs by their wrapped form
	keyCache sync.Map
}

// NewKMSClient builds a KMS client from the default AWS credential chain.
func NewKMSClient(ctx context.Context, cfg *config.Config) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// NewEncryptionManager seals with KMS when cfg.KMS.Enabled, otherwise with a
// locally generated key whose "wrapped" form is just its base64 encoding.
func NewEncryptionManager(cfg *config.Config, kmsClient KMSAPI) *EncryptionManager {
	return &EncryptionManager{
		kmsClient: kmsClient,
		enabled:   cfg.KMS.Enabled && kmsClient != nil,
		keyID:     cfg.KMS.KeyID,
	}
}

func (em *EncryptionManager) dataKey(ctx context.Context) (*DataKey, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.current != nil && time.Since(em.current.createdAt) < dataKeyLifetime {
		return em.current, nil
	}

	var (
		key *DataKey
		err error
	)
	if em.enabled {
		key, err = em.generateKMSKey(ctx)
	} else {
		key, err = generateLocalKey()
	}
	if err != nil {
		return nil, err
	}

	em.keyCache.Store(base64.StdEncoding.EncodeToString(key.Ciphertext), key.Plaintext)
	em.current = key
	util.Debug("Data key generated", zap.String("key_id", key.KeyID), zap.Bool("kms", em.enabled))
	return key, nil
}

func (em *EncryptionManager) generateKMSKey(ctx context.Context) (*DataKey, error) {
	result, err := em.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      em.keyID,
		createdAt:  time.Now(),
	}, nil
}

func generateLocalKey() (*DataKey, error) {
	key := make([]byte, 32) // AES-256
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate local key: %w", err)
	}
	return &DataKey{
		Plaintext:  key,
		Ciphertext: []byte(base64.StdEncoding.EncodeToString(key)),
		KeyID:      "local-" + uuid.New().String(),
		createdAt:  time.Now(),
	}, nil
}

// EncryptField seals plaintext under the current data key.
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext string) (*EncryptedData, error) {
	dataKey, err := em.dataKey(ctx)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(dataKey.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)),
		EncryptedDEK:   base64.StdEncoding.EncodeToString(dataKey.Ciphertext),
		KeyID:          dataKey.KeyID,
		Version:        "v1",
	}, nil
}

// DecryptField opens data sealed by EncryptField, unwrapping the DEK via KMS
// when it is not cached.
func (em *EncryptionManager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	if cached, ok := em.keyCache.Load(data.EncryptedDEK); ok {
		return decryptWithKey(data.EncryptedValue, cached.([]byte))
	}

	wrapped, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	var plaintextDEK []byte
	if em.enabled {
		result, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: wrapped})
		if err != nil {
			return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		plaintextDEK = result.Plaintext
	} else {
		plaintextDEK, err = base64.StdEncoding.DecodeString(string(wrapped))
		if err != nil {
			return "", fmt.Errorf("%w: invalid local DEK", ErrDecryptionFailed)
		}
	}

	em.keyCache.Store(data.EncryptedDEK, plaintextDEK)
	return decryptWithKey(data.EncryptedValue, plaintextDEK)
}

// ClearCache drops every plaintext data key held in memory.
func (em *EncryptionManager) ClearCache() {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.current = nil
	em.keyCache.Range(func(k, _ interface{}) bool {
		em.keyCache.Delete(k)
		return true
	})
}

func decryptWithKey(encryptedValue string, key []byte) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
