package sink

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by uploads to a required sink that has no
// configuration.
var ErrNotConfigured = errors.New("sink not configured")

// Unconfigured stands in for a required sink that is missing, so exports
// fail instead of reaching only part of the destinations.
type Unconfigured struct {
	name string
}

func NewUnconfigured(name string) *Unconfigured {
	return &Unconfigured{name: name}
}

func (u *Unconfigured) Name() string { return u.name }

func (u *Unconfigured) Upload(_ context.Context, name string, _ []byte) error {
	return fmt.Errorf("%s upload %s: %w", u.name, name, ErrNotConfigured)
}

// Remove has nothing to delete.
func (u *Unconfigured) Remove(context.Context, string) error { return nil }
