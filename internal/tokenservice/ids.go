package tokenservice

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/allisson/bearertoken/internal/tokenservice/domain"
)

// tokenIDPrefix is the fixed prefix every persisted document id carries,
// per spec §3/§6: documents are keyed by "token_" + <tokenId>, and any id
// surfaced in a response without it is a fatal inconsistency.
const tokenIDPrefix = "token_"

// newDocumentID mints a fresh document/token id: "token_" followed by a
// 22-character base64url encoding of 128 random bits, per §6's "Token ids
// are 22-character base64url of 128 random bits."
func newDocumentID() string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(fmt.Errorf("tokenservice: reading random bytes for a token id: %w", err))
	}
	return tokenIDPrefix + base64.RawURLEncoding.EncodeToString(raw[:])
}

// requireTokenIDPrefix enforces §6/§7's "any id in a response not
// beginning with token_ is a fatal inconsistency" rule against an id read
// back from the store before it reaches a caller.
func requireTokenIDPrefix(id string) error {
	if !strings.HasPrefix(id, tokenIDPrefix) {
		return fmt.Errorf("%w: response id %q missing %q prefix", domain.ErrFatalInconsistency, id, tokenIDPrefix)
	}
	return nil
}
