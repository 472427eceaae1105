package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenDigestRoundTrip(t *testing.T) {
	secret, err := GenerateTokenSecret()
	require.NoError(t, err)
	nonce := mustRandom(t, NonceLength)
	ts := time.Now().UnixMilli()

	digest := ComputeTokenDigest(nonce, ts, secret)
	require.Len(t, digest, 32)
	require.True(t, ValidateTokenDigest(nonce, ts, secret, digest))

	require.False(t, ValidateTokenDigest(nonce, ts+1, secret, digest))
	require.False(t, ValidateTokenDigest(mustRandom(t, NonceLength), ts, secret, digest))
	other, err := GenerateTokenSecret()
	require.NoError(t, err)
	require.False(t, ValidateTokenDigest(nonce, ts, other, digest))
}

func TestGenerateTokenIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateTokenID()
		require.NotEmpty(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestCounterAdvance(t *testing.T) {
	seed, err := InitCounter()
	require.NoError(t, err)
	require.Len(t, seed, 16)

	next := NextCounter(seed)
	require.Len(t, next, 16)
	require.NotEqual(t, seed, next)
	// Advancing is deterministic.
	require.Equal(t, next, NextCounter(seed))
	require.NotEqual(t, next, NextCounter(next))
}
