package pipeline

import "context"

// Middleware is one fixed stage of the augmentation chain (cache lookup,
// injector, interaction logger, ...). The set of stages and their order
// is assembled once at startup by internal/daemon; this is not a
// registry third parties extend at runtime.
type Middleware interface {
	// Name returns the unique name of this stage, used for timing and tracing.
	Name() string

	// Enabled reports whether this stage is active for the current config.
	Enabled() bool

	// ProcessRequest processes an incoming request. A stage may modify the
	// request, short-circuit the chain by setting req.Flags["cache_hit"]=true
	// and storing a *CachedResponse in req.Metadata["cached_response"], or
	// return an error to abort.
	ProcessRequest(ctx context.Context, req *Request) (*Request, error)

	// ProcessResponse processes an outgoing response. A stage may modify the
	// response or return an error.
	ProcessResponse(ctx context.Context, req *Request, resp *Response) (*Response, error)
}
