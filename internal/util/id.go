package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/oklog/ulid/v2"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewComponentID allocates a server-side component id. ULIDs from the same
// source sort by creation time, which keeps op logs and debugging sane.
func NewComponentID() string {
	return ulid.Make().String()
}
