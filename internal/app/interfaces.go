package app

import (
	"context"

	"dataninja/internal/backend"
)

// Backend is the sign-in and score service behind the proxy.
type Backend interface {
	Exchange(ctx context.Context, code string) (string, error)
	Submit(ctx context.Context, req backend.SubmitRequest) error
}
