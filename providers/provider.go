package providers

import "context"

// Provider is the set of extension hooks the engine invokes at fixed points of
// each endpoint's pipeline.
//
// Hooks mutate the context they receive to signal an outcome. A returned error
// is an integration failure (e.g. the client registry is unreachable): the
// engine aborts the request with a generic server_error and logs the detail.
type Provider interface {
	ValidateAuthorizationRequest(ctx context.Context, c *ValidateAuthorizationRequestContext) error
	HandleAuthorizationRequest(ctx context.Context, c *HandleAuthorizationRequestContext) error
	ApplyAuthorizationResponse(ctx context.Context, c *ApplyAuthorizationResponseContext) error

	ValidateTokenRequest(ctx context.Context, c *ValidateTokenRequestContext) error
	HandleTokenRequest(ctx context.Context, c *HandleTokenRequestContext) error
	ApplyTokenResponse(ctx context.Context, c *ApplyTokenResponseContext) error

	ValidateRevocationRequest(ctx context.Context, c *ValidateRevocationRequestContext) error
	HandleRevocationRequest(ctx context.Context, c *HandleRevocationRequestContext) error
	ApplyRevocationResponse(ctx context.Context, c *ApplyRevocationResponseContext) error
}

// Base implements every hook as a no-op. Embed it and override the hooks you need.
//
// With Base alone, authorization requests are rejected (the validate hook
// leaves them unresolved), token requests are rejected the same way, and
// revocation requests are treated as unauthenticated.
type Base struct{}

var _ Provider = Base{}

// ValidateAuthorizationRequest leaves the request unresolved.
func (Base) ValidateAuthorizationRequest(context.Context, *ValidateAuthorizationRequestContext) error {
	return nil
}

// HandleAuthorizationRequest lets the engine continue.
func (Base) HandleAuthorizationRequest(context.Context, *HandleAuthorizationRequestContext) error {
	return nil
}

// ApplyAuthorizationResponse lets the engine dispatch the response.
func (Base) ApplyAuthorizationResponse(context.Context, *ApplyAuthorizationResponseContext) error {
	return nil
}

// ValidateTokenRequest leaves the request unresolved.
func (Base) ValidateTokenRequest(context.Context, *ValidateTokenRequestContext) error {
	return nil
}

// HandleTokenRequest lets the engine continue.
func (Base) HandleTokenRequest(context.Context, *HandleTokenRequestContext) error {
	return nil
}

// ApplyTokenResponse lets the engine return the response.
func (Base) ApplyTokenResponse(context.Context, *ApplyTokenResponseContext) error {
	return nil
}

// ValidateRevocationRequest treats the caller as unauthenticated.
func (Base) ValidateRevocationRequest(_ context.Context, c *ValidateRevocationRequestContext) error {
	c.Skip()
	return nil
}

// HandleRevocationRequest does not revoke anything.
func (Base) HandleRevocationRequest(context.Context, *HandleRevocationRequestContext) error {
	return nil
}

// ApplyRevocationResponse lets the engine return the response.
func (Base) ApplyRevocationResponse(context.Context, *ApplyRevocationResponseContext) error {
	return nil
}

// Funcs adapts plain functions to Provider. Nil fields fall back to Base.
type Funcs struct {
	Base

	ValidateAuthorization func(ctx context.Context, c *ValidateAuthorizationRequestContext) error
	HandleAuthorization   func(ctx context.Context, c *HandleAuthorizationRequestContext) error
	ApplyAuthorization    func(ctx context.Context, c *ApplyAuthorizationResponseContext) error
	ValidateToken         func(ctx context.Context, c *ValidateTokenRequestContext) error
	HandleToken           func(ctx context.Context, c *HandleTokenRequestContext) error
	ApplyToken            func(ctx context.Context, c *ApplyTokenResponseContext) error
	ValidateRevocation    func(ctx context.Context, c *ValidateRevocationRequestContext) error
	HandleRevocation      func(ctx context.Context, c *HandleRevocationRequestContext) error
	ApplyRevocation       func(ctx context.Context, c *ApplyRevocationResponseContext) error
}

var _ Provider = (*Funcs)(nil)

func (f *Funcs) ValidateAuthorizationRequest(ctx context.Context, c *ValidateAuthorizationRequestContext) error {
	if f.ValidateAuthorization == nil {
		return f.Base.ValidateAuthorizationRequest(ctx, c)
	}
	return f.ValidateAuthorization(ctx, c)
}

func (f *Funcs) HandleAuthorizationRequest(ctx context.Context, c *HandleAuthorizationRequestContext) error {
	if f.HandleAuthorization == nil {
		return f.Base.HandleAuthorizationRequest(ctx, c)
	}
	return f.HandleAuthorization(ctx, c)
}

func (f *Funcs) ApplyAuthorizationResponse(ctx context.Context, c *ApplyAuthorizationResponseContext) error {
	if f.ApplyAuthorization == nil {
		return f.Base.ApplyAuthorizationResponse(ctx, c)
	}
	return f.ApplyAuthorization(ctx, c)
}

func (f *Funcs) ValidateTokenRequest(ctx context.Context, c *ValidateTokenRequestContext) error {
	if f.ValidateToken == nil {
		return f.Base.ValidateTokenRequest(ctx, c)
	}
	return f.ValidateToken(ctx, c)
}

func (f *Funcs) HandleTokenRequest(ctx context.Context, c *HandleTokenRequestContext) error {
	if f.HandleToken == nil {
		return f.Base.HandleTokenRequest(ctx, c)
	}
	return f.HandleToken(ctx, c)
}

func (f *Funcs) ApplyTokenResponse(ctx context.Context, c *ApplyTokenResponseContext) error {
	if f.ApplyToken == nil {
		return f.Base.ApplyTokenResponse(ctx, c)
	}
	return f.ApplyToken(ctx, c)
}

func (f *Funcs) ValidateRevocationRequest(ctx context.Context, c *ValidateRevocationRequestContext) error {
	if f.ValidateRevocation == nil {
		return f.Base.ValidateRevocationRequest(ctx, c)
	}
	return f.ValidateRevocation(ctx, c)
}

func (f *Funcs) HandleRevocationRequest(ctx context.Context, c *HandleRevocationRequestContext) error {
	if f.HandleRevocation == nil {
		return f.Base.HandleRevocationRequest(ctx, c)
	}
	return f.HandleRevocation(ctx, c)
}

func (f *Funcs) ApplyRevocationResponse(ctx context.Context, c *ApplyRevocationResponseContext) error {
	if f.ApplyRevocation == nil {
		return f.Base.ApplyRevocationResponse(ctx, c)
	}
	return f.ApplyRevocation(ctx, c)
}
