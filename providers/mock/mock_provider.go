// Package mock provides a mock implementation of the Provider interface for testing.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oidc-engine/providers"
)

// MockProvider is a mock implementation of the Provider interface for testing.
//
// By default it validates every authorization and token request, treats
// revocation callers as unauthenticated, confirms every revocation, and
// leaves handle/apply hooks at their defaults.
type MockProvider struct {
	ValidateAuthorizationRequestFunc func(ctx context.Context, c *providers.ValidateAuthorizationRequestContext) error
	HandleAuthorizationRequestFunc   func(ctx context.Context, c *providers.HandleAuthorizationRequestContext) error
	ApplyAuthorizationResponseFunc   func(ctx context.Context, c *providers.ApplyAuthorizationResponseContext) error
	ValidateTokenRequestFunc         func(ctx context.Context, c *providers.ValidateTokenRequestContext) error
	HandleTokenRequestFunc           func(ctx context.Context, c *providers.HandleTokenRequestContext) error
	ApplyTokenResponseFunc           func(ctx context.Context, c *providers.ApplyTokenResponseContext) error
	ValidateRevocationRequestFunc    func(ctx context.Context, c *providers.ValidateRevocationRequestContext) error
	HandleRevocationRequestFunc      func(ctx context.Context, c *providers.HandleRevocationRequestContext) error
	ApplyRevocationResponseFunc      func(ctx context.Context, c *providers.ApplyRevocationResponseContext) error

	// CallCounts tracks how many times each hook was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

var _ providers.Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock provider with default implementations
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		ValidateAuthorizationRequestFunc: func(_ context.Context, c *providers.ValidateAuthorizationRequestContext) error {
			c.Validate()
			return nil
		},
		HandleAuthorizationRequestFunc: func(context.Context, *providers.HandleAuthorizationRequestContext) error {
			return nil
		},
		ApplyAuthorizationResponseFunc: func(context.Context, *providers.ApplyAuthorizationResponseContext) error {
			return nil
		},
		ValidateTokenRequestFunc: func(_ context.Context, c *providers.ValidateTokenRequestContext) error {
			c.Validate()
			return nil
		},
		HandleTokenRequestFunc: func(context.Context, *providers.HandleTokenRequestContext) error {
			return nil
		},
		ApplyTokenResponseFunc: func(context.Context, *providers.ApplyTokenResponseContext) error {
			return nil
		},
		ValidateRevocationRequestFunc: func(_ context.Context, c *providers.ValidateRevocationRequestContext) error {
			c.Skip()
			return nil
		},
		HandleRevocationRequestFunc: func(_ context.Context, c *providers.HandleRevocationRequestContext) error {
			c.Revoke()
			return nil
		},
		ApplyRevocationResponseFunc: func(context.Context, *providers.ApplyRevocationResponseContext) error {
			return nil
		},
	}
}

func (m *MockProvider) ValidateAuthorizationRequest(ctx context.Context, c *providers.ValidateAuthorizationRequestContext) error {
	m.incrementCallCount("ValidateAuthorizationRequest")
	return m.ValidateAuthorizationRequestFunc(ctx, c)
}

func (m *MockProvider) HandleAuthorizationRequest(ctx context.Context, c *providers.HandleAuthorizationRequestContext) error {
	m.incrementCallCount("HandleAuthorizationRequest")
	return m.HandleAuthorizationRequestFunc(ctx, c)
}

func (m *MockProvider) ApplyAuthorizationResponse(ctx context.Context, c *providers.ApplyAuthorizationResponseContext) error {
	m.incrementCallCount("ApplyAuthorizationResponse")
	return m.ApplyAuthorizationResponseFunc(ctx, c)
}

func (m *MockProvider) ValidateTokenRequest(ctx context.Context, c *providers.ValidateTokenRequestContext) error {
	m.incrementCallCount("ValidateTokenRequest")
	return m.ValidateTokenRequestFunc(ctx, c)
}

func (m *MockProvider) HandleTokenRequest(ctx context.Context, c *providers.HandleTokenRequestContext) error {
	m.incrementCallCount("HandleTokenRequest")
	return m.HandleTokenRequestFunc(ctx, c)
}

func (m *MockProvider) ApplyTokenResponse(ctx context.Context, c *providers.ApplyTokenResponseContext) error {
	m.incrementCallCount("ApplyTokenResponse")
	return m.ApplyTokenResponseFunc(ctx, c)
}

func (m *MockProvider) ValidateRevocationRequest(ctx context.Context, c *providers.ValidateRevocationRequestContext) error {
	m.incrementCallCount("ValidateRevocationRequest")
	return m.ValidateRevocationRequestFunc(ctx, c)
}

func (m *MockProvider) HandleRevocationRequest(ctx context.Context, c *providers.HandleRevocationRequestContext) error {
	m.incrementCallCount("HandleRevocationRequest")
	return m.HandleRevocationRequestFunc(ctx, c)
}

func (m *MockProvider) ApplyRevocationResponse(ctx context.Context, c *providers.ApplyRevocationResponseContext) error {
	m.incrementCallCount("ApplyRevocationResponse")
	return m.ApplyRevocationResponseFunc(ctx, c)
}

// incrementCallCount safely increments the call count for a method
func (m *MockProvider) incrementCallCount(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

// GetCallCount safely returns the call count for a method
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// ResetCallCounts resets all call counts to zero
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts = make(map[string]int)
}
