package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealPrivateKeyRoundTrip(t *testing.T) {
	masterKey := mustRandom(t, 32)
	keyBytes := mustRandom(t, 32)
	context := []byte("user-1\x00activation-1")

	sealed, err := SealPrivateKey(masterKey, context, keyBytes)
	require.NoError(t, err)
	require.NotContains(t, sealed, string(keyBytes))

	opened, err := OpenPrivateKey(masterKey, context, sealed)
	require.NoError(t, err)
	require.Equal(t, keyBytes, opened)
}

func TestOpenPrivateKeyRejectsWrongContext(t *testing.T) {
	masterKey := mustRandom(t, 32)
	keyBytes := mustRandom(t, 32)

	sealed, err := SealPrivateKey(masterKey, []byte("user-1\x00activation-1"), keyBytes)
	require.NoError(t, err)

	_, err = OpenPrivateKey(masterKey, []byte("user-1\x00activation-2"), sealed)
	require.ErrorIs(t, err, ErrDecryptionFailed)
	_, err = OpenPrivateKey(mustRandom(t, 32), []byte("user-1\x00activation-1"), sealed)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpenPrivateKeyRejectsMalformedInput(t *testing.T) {
	masterKey := mustRandom(t, 32)
	_, err := OpenPrivateKey(masterKey, nil, "not base64 !!!")
	require.ErrorIs(t, err, ErrInvalidKeyFormat)
	_, err = OpenPrivateKey(masterKey, nil, "AAAA")
	require.ErrorIs(t, err, ErrInvalidKeyFormat)
}
