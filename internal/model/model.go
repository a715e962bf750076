package model

import "time"

// SessionRecord is the durable trace of an authenticated session: who the
// user is and the encrypted access token the orchestrator holds. It survives
// process recycling so a fresh instance can resume the session; on logout it
// is deleted, never reused.
type SessionRecord struct {
	UserID               string    `json:"user_id" dynamodbav:"user_id"`
	EncryptedAccessToken string    `json:"encrypted_access_token" dynamodbav:"encrypted_access_token"`
	Email                string    `json:"email" dynamodbav:"email"`
	UpdatedAt            time.Time `json:"updated_at" dynamodbav:"updated_at"`
}
