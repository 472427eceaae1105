package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateRecoveryCode(t *testing.T) {
	secret := mustRandom(t, 16)
	info, err := GenerateRecoveryCode(secret, 10)
	require.NoError(t, err)

	require.True(t, ValidateRecoveryCodeFormat(info.RecoveryCode), "code %q", info.RecoveryCode)
	groups := strings.Split(info.RecoveryCode, "-")
	require.Len(t, groups, 4)
	for _, g := range groups {
		require.Len(t, g, 5)
	}

	require.Len(t, info.Puks, 10)
	require.Len(t, info.Seed.PukDerivationIndexes, 10)
	for i := 1; i <= 10; i++ {
		puk, ok := info.Puks[i]
		require.True(t, ok, "missing puk %d", i)
		require.Len(t, puk, 8)
		for _, c := range puk {
			require.True(t, c >= '0' && c <= '9')
		}
	}
}

func TestDerivePukIsReproducible(t *testing.T) {
	// The printing partner re-derives every PUK from the shared secret,
	// the seed nonce and the derivation index alone.
	secret := mustRandom(t, 16)
	info, err := GenerateRecoveryCode(secret, 5)
	require.NoError(t, err)
	for i, idx := range info.Seed.PukDerivationIndexes {
		puk, err := DerivePuk(secret, info.Seed.Nonce, idx)
		require.NoError(t, err)
		require.Equal(t, info.Puks[i], puk)
	}
}

func TestGenerateRecoveryCodePukCountBounds(t *testing.T) {
	secret := mustRandom(t, 16)
	_, err := GenerateRecoveryCode(secret, 0)
	require.ErrorIs(t, err, ErrGenericCrypto)
	_, err = GenerateRecoveryCode(secret, MaxPukCount+1)
	require.ErrorIs(t, err, ErrGenericCrypto)
}

func TestValidateRecoveryCodeFormat(t *testing.T) {
	secret := mustRandom(t, 16)
	info, err := GenerateRecoveryCode(secret, 1)
	require.NoError(t, err)
	code := info.RecoveryCode

	require.True(t, ValidateRecoveryCodeFormat(code))
	require.False(t, ValidateRecoveryCodeFormat(""))
	require.False(t, ValidateRecoveryCodeFormat(strings.ReplaceAll(code, "-", "")))
	require.False(t, ValidateRecoveryCodeFormat(code[:len(code)-1]+"?"))

	// Swapping one non-check character breaks the check character.
	swapped := []byte(code)
	if swapped[0] == 'A' {
		swapped[0] = 'B'
	} else {
		swapped[0] = 'A'
	}
	require.False(t, ValidateRecoveryCodeFormat(string(swapped)))
}

func TestMaskRecoveryCode(t *testing.T) {
	masked := MaskRecoveryCode("ABCDE-FGHJK-MNPQR-STVWX")
	require.Equal(t, "XXXXX-XXXXX-XXXXX-STVWX", masked)
}
