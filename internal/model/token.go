package model

import "time"

// Token is a MAC authentication credential issued for an activation.
// The token ID doubles as the lookup key; the secret is random and
// returned to the caller exactly once inside the encrypted response.
//
// Fields:
//  TokenID       – unique token identifier (primary key).
//  TokenSecret   – base64 random secret used for digest verification.
//  ActivationID  – activation that owns the token.
//  SignatureType – signature type that authorized token creation.
//  CreatedAt     – creation timestamp.
type Token struct {
	TokenID       string    // tokens.token_id
	TokenSecret   string    // tokens.token_secret
	ActivationID  string    // tokens.activation_id
	SignatureType string    // tokens.signature_type
	CreatedAt     time.Time // tokens.created_at
}
