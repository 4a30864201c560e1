package connector

import (
	"context"
)

// Dialer opens an authenticated session to one host.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Connection, error)
}

type sshDialer struct{}

// NewDialer returns the default SSH dialer.
func NewDialer() Dialer {
	return &sshDialer{}
}

func (d *sshDialer) Dial(ctx context.Context, cfg Config) (Connection, error) {
	return NewConnection(ctx, cfg)
}

var _ Dialer = (*sshDialer)(nil)
