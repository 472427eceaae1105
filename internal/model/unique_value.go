package model

import "time"

// UniqueValueType distinguishes the protocol operations guarded against
// replay. The type is mixed into the derived unique value so that values
// recorded for one operation family can never collide with another.
type UniqueValueType string

const (
	UniqueEnvelopeActivationScope  UniqueValueType = "ENVELOPE_ACTIVATION_SCOPE"
	UniqueEnvelopeApplicationScope UniqueValueType = "ENVELOPE_APPLICATION_SCOPE"
	UniqueMACToken                 UniqueValueType = "MAC_TOKEN"
)

// UniqueValue is a replay-guard record. One row is written for every
// replay-checked request; a duplicate insert means the request was seen
// before and must be rejected. Rows expire and are removed by the
// periodic sweep.
//
// Fields:
//  Value     – derived composite value (primary key).
//  Type      – operation family that recorded the value.
//  ExpiresAt – when the record stops blocking repeats.
type UniqueValue struct {
	Value     string          // unique_values.unique_value
	Type      UniqueValueType // unique_values.type
	ExpiresAt time.Time       // unique_values.expires_at
}
