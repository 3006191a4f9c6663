package jobs

import (
	"fmt"

	"github.com/google/uuid"
)

// UUIDGenerator creates UUIDv7 job IDs, which sort by creation time.
type UUIDGenerator struct{}

// NewID returns a UUIDv7 string.
func (UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
