package reload

import "fmt"

func NewBadPayloadError(err error) error {
	return fmt.Errorf("malformed reload payload: %w", err)
}
