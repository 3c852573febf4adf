// AngelaMos | 2026
// security_test.go

package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPassword_VerifyRoundtrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$"))

	ok, err := VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("wrong password", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	h1, err := HashPassword("same input")
	require.NoError(t, err)
	h2, err := HashPassword("same input")
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestVerifyPasswordTimingSafe_NilHash(t *testing.T) {
	// The nil-hash path exists so unknown accounts burn the same cost.
	ok, rehash, err := VerifyPasswordTimingSafe("anything", nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, rehash)
}

func TestVerifyPasswordTimingSafe_Valid(t *testing.T) {
	hash, err := HashPassword("s3cret-passphrase")
	require.NoError(t, err)

	ok, rehash, err := VerifyPasswordTimingSafe("s3cret-passphrase", &hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, rehash)
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	_, err := VerifyPassword("pw", "not-an-encoded-hash")
	require.Error(t, err)
}

func TestGenerateOpaqueToken(t *testing.T) {
	t1, err := GenerateOpaqueToken()
	require.NoError(t, err)
	t2, err := GenerateOpaqueToken()
	require.NoError(t, err)

	require.NotEqual(t, t1, t2)
	require.GreaterOrEqual(t, len(t1), 43) // 32 bytes base64url, no padding
}

func TestHashToken_Deterministic(t *testing.T) {
	h1 := HashToken("some-token")
	h2 := HashToken("some-token")
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64) // hex sha256

	require.NotEqual(t, h1, HashToken("other-token"))
}

func TestCompareTokenHash(t *testing.T) {
	h := HashToken("some-token")
	require.True(t, CompareTokenHash("some-token", h))
	require.False(t, CompareTokenHash("other-token", h))
}
