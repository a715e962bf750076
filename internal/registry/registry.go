// Package registry persists active session records so a recycled process can
// resume a user's session. Access tokens are encrypted at rest and deleted
// wholesale on logout.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/refhub/internal/crypto"
	"github.com/jun/refhub/internal/model"
)

// ErrNotFound is returned when no session record exists for the user.
var ErrNotFound = errors.New("session not found")

// Registry stores session records in DynamoDB, with an in-memory fallback
// when no client is configured (tests and local runs).
type Registry struct {
	dynamoClient *dynamodb.Client
	tableName    string
	encryptor    crypto.Encryptor

	mu      sync.RWMutex
	records map[string]model.SessionRecord
}

// New creates a Registry. A nil dynamoClient selects the in-memory fallback.
func New(dynamoClient *dynamodb.Client, tableName string, encryptor crypto.Encryptor) *Registry {
	return &Registry{
		dynamoClient: dynamoClient,
		tableName:    tableName,
		encryptor:    encryptor,
		records:      make(map[string]model.SessionRecord),
	}
}

// Save encrypts the access token and stores the session record, replacing any
// previous record for the user.
func (r *Registry) Save(ctx context.Context, userID, email, accessToken string) error {
	if accessToken == "" {
		return fmt.Errorf("no access token to save")
	}

	encrypted, err := r.encryptor.Encrypt(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	record := model.SessionRecord{
		UserID:               userID,
		EncryptedAccessToken: encrypted,
		Email:                email,
		UpdatedAt:            time.Now(),
	}

	if r.dynamoClient == nil {
		r.mu.Lock()
		r.records[userID] = record
		r.mu.Unlock()
		return nil
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	_, err = r.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

// Get retrieves the session record for the user.
func (r *Registry) Get(ctx context.Context, userID string) (*model.SessionRecord, error) {
	if r.dynamoClient == nil {
		r.mu.RLock()
		record, ok := r.records[userID]
		r.mu.RUnlock()
		if !ok {
			return nil, ErrNotFound
		}
		return &record, nil
	}

	out, err := r.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var record model.SessionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &record, nil
}

// AccessToken returns the decrypted access token for the user's session.
func (r *Registry) AccessToken(ctx context.Context, userID string) (string, error) {
	record, err := r.Get(ctx, userID)
	if err != nil {
		return "", err
	}

	token, err := r.encryptor.Decrypt(ctx, record.EncryptedAccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return token, nil
}

// Delete removes the session record. Deleting a missing record is not an
// error: logout must be repeatable.
func (r *Registry) Delete(ctx context.Context, userID string) error {
	if r.dynamoClient == nil {
		r.mu.Lock()
		delete(r.records, userID)
		r.mu.Unlock()
		return nil
	}

	_, err := r.dynamoClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}
