package payments

import (
	"strings"

	"github.com/google/uuid"
)

// NewTransactionRef returns a fresh provider-safe reference: 32 upper-case hex characters.
func NewTransactionRef() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
