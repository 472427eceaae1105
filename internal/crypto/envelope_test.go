package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testParams(t *testing.T, timestamp int64) Parameters {
	t.Helper()
	nonce, err := RandomBytes(NonceLength)
	require.NoError(t, err)
	return Parameters{
		Nonce:          nonce,
		AssociatedData: AssociatedData(ScopeActivation, "3.2", "app-key", "activation-1"),
		Timestamp:      timestamp,
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	server, err := GenerateKeyPair()
	require.NoError(t, err)
	appSecret := []byte("application-secret")
	transportKey, err := RandomBytes(16)
	require.NoError(t, err)

	client, err := NewRequestEncryptor(server.PublicKey(), appSecret, transportKey, TagCreateToken)
	require.NoError(t, err)

	params := testParams(t, time.Now().UnixMilli())
	plaintext := []byte(`{"requestedScope":"full"}`)
	cryptogram, err := client.Encrypt(plaintext, params)
	require.NoError(t, err)
	require.NotEmpty(t, cryptogram.EphemeralPublicKey)
	require.Len(t, cryptogram.Mac, 16)

	decryptor, err := NewDecryptor(server, appSecret, transportKey, TagCreateToken, params, cryptogram.EphemeralPublicKey)
	require.NoError(t, err)
	got, err := decryptor.Decrypt(Payload{Cryptogram: cryptogram, Parameters: params})
	require.NoError(t, err)
	require.Equal(t, plaintext, got)

	// Response rides on the same envelope key with a fresh nonce.
	respParams := testParams(t, time.Now().UnixMilli())
	respPlain := []byte(`{"tokenId":"abc"}`)
	respCryptogram, err := NewEncryptor(decryptor.EnvelopeKey(), appSecret, transportKey).Encrypt(respPlain, respParams)
	require.NoError(t, err)
	gotResp, err := client.DecryptResponse(respCryptogram, respParams)
	require.NoError(t, err)
	require.Equal(t, respPlain, gotResp)
}

func TestEnvelopeResponseNonceReuseIsSafe(t *testing.T) {
	// Pre-3.2 responses reuse the request nonce; the directional label
	// must still yield a different message key, so a response sealed with
	// identical parameters can never be confused with the request.
	server, err := GenerateKeyPair()
	require.NoError(t, err)
	appSecret := []byte("secret")
	transportKey, err := RandomBytes(16)
	require.NoError(t, err)

	client, err := NewRequestEncryptor(server.PublicKey(), appSecret, transportKey, TagUpgrade)
	require.NoError(t, err)
	params := Parameters{
		Nonce:          mustRandom(t, NonceLength),
		AssociatedData: AssociatedData(ScopeActivation, "3.0", "app-key", "activation-1"),
	}
	plaintext := []byte(`{}`)
	reqCryptogram, err := client.Encrypt(plaintext, params)
	require.NoError(t, err)

	decryptor, err := NewDecryptor(server, appSecret, transportKey, TagUpgrade, params, reqCryptogram.EphemeralPublicKey)
	require.NoError(t, err)
	respCryptogram, err := NewEncryptor(decryptor.EnvelopeKey(), appSecret, transportKey).Encrypt(plaintext, params)
	require.NoError(t, err)
	require.NotEqual(t, reqCryptogram.EncryptedData, respCryptogram.EncryptedData)

	// A response cryptogram cannot be opened as a request.
	_, err = decryptor.Decrypt(Payload{Cryptogram: respCryptogram, Parameters: params})
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEnvelopeRejectsWrongOperationTag(t *testing.T) {
	server, err := GenerateKeyPair()
	require.NoError(t, err)
	appSecret := []byte("secret")
	transportKey, err := RandomBytes(16)
	require.NoError(t, err)

	client, err := NewRequestEncryptor(server.PublicKey(), appSecret, transportKey, TagCreateToken)
	require.NoError(t, err)
	params := testParams(t, time.Now().UnixMilli())
	cryptogram, err := client.Encrypt([]byte(`{}`), params)
	require.NoError(t, err)

	decryptor, err := NewDecryptor(server, appSecret, transportKey, TagUpgrade, params, cryptogram.EphemeralPublicKey)
	require.NoError(t, err)
	_, err = decryptor.Decrypt(Payload{Cryptogram: cryptogram, Parameters: params})
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEnvelopeRejectsTamperedInputs(t *testing.T) {
	server, err := GenerateKeyPair()
	require.NoError(t, err)
	appSecret := []byte("secret")
	transportKey, err := RandomBytes(16)
	require.NoError(t, err)

	client, err := NewRequestEncryptor(server.PublicKey(), appSecret, transportKey, TagCreateToken)
	require.NoError(t, err)
	params := testParams(t, time.Now().UnixMilli())
	cryptogram, err := client.Encrypt([]byte(`{"a":1}`), params)
	require.NoError(t, err)

	cases := map[string]func() (Cryptogram, Parameters){
		"flipped ciphertext bit": func() (Cryptogram, Parameters) {
			c := cryptogram
			data := append([]byte(nil), c.EncryptedData...)
			data[0] ^= 0x01
			c.EncryptedData = data
			return c, params
		},
		"flipped mac bit": func() (Cryptogram, Parameters) {
			c := cryptogram
			mac := append([]byte(nil), c.Mac...)
			mac[0] ^= 0x01
			c.Mac = mac
			return c, params
		},
		"different associated data": func() (Cryptogram, Parameters) {
			p := params
			p.AssociatedData = AssociatedData(ScopeActivation, "3.2", "app-key", "activation-2")
			return cryptogram, p
		},
		"different timestamp": func() (Cryptogram, Parameters) {
			p := params
			p.Timestamp++
			return cryptogram, p
		},
		"truncated mac": func() (Cryptogram, Parameters) {
			c := cryptogram
			c.Mac = c.Mac[:8]
			return c, params
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c, p := mutate()
			decryptor, err := NewDecryptor(server, appSecret, transportKey, TagCreateToken, p, c.EphemeralPublicKey)
			require.NoError(t, err)
			_, err = decryptor.Decrypt(Payload{Cryptogram: c, Parameters: p})
			require.ErrorIs(t, err, ErrDecryptionFailed)
		})
	}
}

func TestEnvelopeRejectsEmptyPlaintext(t *testing.T) {
	server, err := GenerateKeyPair()
	require.NoError(t, err)
	appSecret := []byte("secret")
	transportKey, err := RandomBytes(16)
	require.NoError(t, err)

	client, err := NewRequestEncryptor(server.PublicKey(), appSecret, transportKey, TagCreateToken)
	require.NoError(t, err)
	params := testParams(t, time.Now().UnixMilli())
	cryptogram, err := client.Encrypt(nil, params)
	require.NoError(t, err)

	decryptor, err := NewDecryptor(server, appSecret, transportKey, TagCreateToken, params, cryptogram.EphemeralPublicKey)
	require.NoError(t, err)
	_, err = decryptor.Decrypt(Payload{Cryptogram: cryptogram, Parameters: params})
	require.ErrorIs(t, err, ErrInvalidInputFormat)
}

func TestAssociatedDataDistinguishesFields(t *testing.T) {
	base := AssociatedData(ScopeActivation, "3.2", "app-key", "activation-1")
	require.NotEqual(t, base, AssociatedData(ScopeActivation, "3.2", "app-key", "activation-2"))
	require.NotEqual(t, base, AssociatedData(ScopeActivation, "3.1", "app-key", "activation-1"))
	require.NotEqual(t, base, AssociatedData(ScopeApplication, "3.2", "app-key", "activation-1"))
	// Length prefixes keep adjacent fields from bleeding into each other.
	require.NotEqual(t,
		AssociatedData(ScopeActivation, "3.2", "ab", "c"),
		AssociatedData(ScopeActivation, "3.2", "a", "bc"))
}

func TestRequiresTimestamp(t *testing.T) {
	for version, want := range map[string]bool{
		"3.0": false,
		"3.1": false,
		"3.2": true,
		"3.3": true,
	} {
		require.Equal(t, want, RequiresTimestamp(version), "version %s", version)
	}
}

func mustRandom(t *testing.T, n int) []byte {
	t.Helper()
	b, err := RandomBytes(n)
	require.NoError(t, err)
	return b
}
