package crypto

import (
	"context"
	"strings"
)

// MockEncryptor is the DEV_MODE Encryptor: no KMS, just a visible prefix so
// tests can tell sealed values from raw ones.
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (m *MockEncryptor) Encrypt(_ context.Context, plaintext string) (string, error) {
	return "mock:" + plaintext, nil
}

func (m *MockEncryptor) Decrypt(_ context.Context, ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, "mock:"), nil
}
