package manager

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// newID returns a random 32-character lowercase hex id.
func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
