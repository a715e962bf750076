// Package crypto encrypts session secrets before they are persisted. The
// registry stores access tokens at rest; nothing else in the system may see
// them unencrypted.
package crypto

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Encryptor seals and unseals session secrets.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// KMSService is the production Encryptor, backed by an AWS KMS key. Ciphertext
// is carried base64-encoded so it can live in a string attribute.
type KMSService struct {
	client *kms.Client
	keyID  string
}

// NewKMSService creates a KMSService. keyID accepts a key id, ARN, or alias
// such as "alias/refhub-session-key".
func NewKMSService(client *kms.Client, keyID string) *KMSService {
	return &KMSService{client: client, keyID: keyID}
}

func (s *KMSService) Encrypt(ctx context.Context, plaintext string) (string, error) {
	out, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(s.keyID),
		Plaintext: []byte(plaintext),
	})
	if err != nil {
		return "", fmt.Errorf("kms encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

func (s *KMSService) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	out, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: blob,
		KeyId:          aws.String(s.keyID),
	})
	if err != nil {
		return "", fmt.Errorf("kms decrypt: %w", err)
	}
	return string(out.Plaintext), nil
}
