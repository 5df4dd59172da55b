package binance

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
)

// ClientOrderIDGenerator produces prefixed client order ids.
type ClientOrderIDGenerator struct {
	newUUID func() (uuid.UUID, error)
}

// NewClientOrderIDGenerator returns a generator backed by random v4 UUIDs.
func NewClientOrderIDGenerator() *ClientOrderIDGenerator {
	return &ClientOrderIDGenerator{newUUID: uuid.NewV4}
}

// Generate returns supplied with prefix prepended when missing. An empty
// supplied id is replaced by 32 uppercase hex characters: the two halves of a
// random UUID's hex form XORed byte by byte.
func (g *ClientOrderIDGenerator) Generate(supplied, prefix string) (string, error) {
	id := supplied
	if id == "" {
		u, err := g.newUUID()
		if err != nil {
			return "", fmt.Errorf("generate client order id: %w", err)
		}
		id = foldUUID(u)
	}
	if !strings.HasPrefix(id, prefix) {
		id = prefix + id
	}
	return id, nil
}

func foldUUID(u uuid.UUID) string {
	raw := hex.EncodeToString(u[:])
	left, right := raw[:16], raw[16:]
	folded := make([]byte, 16)
	for i := range folded {
		folded[i] = left[i] ^ right[i]
	}
	return strings.ToUpper(hex.EncodeToString(folded))
}
