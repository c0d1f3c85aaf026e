package tokenservice

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/bearertoken/internal/tokenservice/domain"
)

// §6: "Token ids are 22-character base64url of 128 random bits", behind
// the "token_" document-id prefix §3/§6 require.
func TestNewDocumentID_HasTokenPrefixAndCorrectLength(t *testing.T) {
	id := newDocumentID()
	require.True(t, len(id) > len(tokenIDPrefix))
	assert.Equal(t, tokenIDPrefix, id[:len(tokenIDPrefix)])

	suffix := id[len(tokenIDPrefix):]
	assert.Len(t, suffix, 22, "128 random bits base64url-encoded without padding is 22 characters")

	decoded, err := base64.RawURLEncoding.DecodeString(suffix)
	require.NoError(t, err)
	assert.Len(t, decoded, 16)
}

func TestNewDocumentID_Unique(t *testing.T) {
	a := newDocumentID()
	b := newDocumentID()
	assert.NotEqual(t, a, b)
}

func TestRequireTokenIDPrefix(t *testing.T) {
	require.NoError(t, requireTokenIDPrefix(newDocumentID()))

	err := requireTokenIDPrefix("bf20c9de-1234-4fa2-8b8e-abcdef012345")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFatalInconsistency)
}
