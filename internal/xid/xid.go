package xid

import (
	"github.com/google/uuid"
)

// New returns a prefixed random id, e.g. "op-3f2c...".
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
