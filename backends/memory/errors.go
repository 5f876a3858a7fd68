package memory

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyKey      = errors.New("bucket key cannot be empty")
	ErrNoBands       = errors.New("consume requires at least one band")
	ErrBackendClosed = errors.New("memory backend is closed")
)

func NewInvalidPermitsError(permits int64) error {
	return fmt.Errorf("permits must be positive, got %d", permits)
}
