package sandbox

import "context"

type Runner interface {
	Detect(ctx context.Context, forceInterpreter string) (EngineInfo, error)
	Start(ctx context.Context, spec StartSpec) (Kernel, error)
}

// Kernel is one live interpreter. Calls are serialized; state defined by
// one Run is visible to later Run and Eval calls.
type Kernel interface {
	Run(ctx context.Context, code string) (Result, error)
	Eval(ctx context.Context, expr string) (Value, error)
	Capabilities() Capabilities
	WorkDir() string
	Stop(ctx context.Context) error
	IsMock() bool
}
