package grading

import (
	"context"

	"dataninja/internal/sandbox"
)

type Grader interface {
	Grade(ctx context.Context, k sandbox.Kernel, req Request) (Result, error)
}
