package redis

import (
	"errors"
	"fmt"

	"github.com/fluxgate/fluxgate/backends"
)

var (
	ErrEmptyKey = errors.New("bucket key cannot be empty")
	ErrNoBands  = errors.New("consume requires at least one band")
)

func NewInvalidPermitsError(permits int64) error {
	return fmt.Errorf("permits must be positive, got %d", permits)
}

func NewConnectionFailedError(addr string, err error) error {
	return backends.NewConnectionError(fmt.Sprintf("connect to redis at %s", addr), err)
}

func NewPingFailedError(err error) error {
	return backends.NewConnectionError("ping", err)
}

func NewEvalFailedError(err error) error {
	return fmt.Errorf("failed to evaluate consume script: %w", err)
}

func NewBadReplyError(reply any) error {
	return fmt.Errorf("unexpected consume script reply: %v", reply)
}

func NewPublishFailedError(channel string, err error) error {
	return fmt.Errorf("failed to publish on channel %q: %w", channel, err)
}

func NewSubscribeFailedError(channel string, err error) error {
	return fmt.Errorf("failed to subscribe to channel %q: %w", channel, err)
}

func NewCloseFailedError(err error) error {
	return fmt.Errorf("failed to close redis connection: %w", err)
}
