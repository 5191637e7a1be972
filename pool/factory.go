package pool

import "context"

// HandleFactory adapts a plain constructor/destructor pair (the common case:
// wrapping an arbitrary SourceTool's connection handle) into a Factory.
type HandleFactory struct {
	CreateFn func(ctx context.Context, toolID string) (interface{}, error)
	DestroyFn func(ctx context.Context, resource interface{}) error
	HealthCheckFn func(ctx context.Context, resource interface{}) error
}

func (f *HandleFactory) Create(ctx context.Context, toolID string) (interface{}, error) {
	return f.CreateFn(ctx, toolID)
}

func (f *HandleFactory) Destroy(ctx context.Context, resource interface{}) error {
	if f.DestroyFn == nil {
		return nil
	}
	return f.DestroyFn(ctx, resource)
}

func (f *HandleFactory) HealthCheck(ctx context.Context, resource interface{}) error {
	if f.HealthCheckFn == nil {
		return nil
	}
	return f.HealthCheckFn(ctx, resource)
}
