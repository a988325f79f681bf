package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/ticket"
)

// Fixture values shared by the engine tests
const (
	TestClientID     = "c1"
	TestClientSecret = "s3cret"
	TestRedirectURI  = "https://rp.example/cb"
	TestState        = "xyz"
	TestSubject      = "alice"
	TestIssuer       = "https://auth.example.com"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair for testing.
// Returns (challenge, verifier) where challenge is the S256 hash of the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// AuthorizationRequest builds an authorization request message from name/value pairs.
// Example: AuthorizationRequest(t, "client_id", "c1", "response_type", "code")
func AuthorizationRequest(t *testing.T, pairs ...string) *message.Message {
	t.Helper()
	return build(t, message.KindAuthorizationRequest, pairs)
}

// TokenRequest builds a token request message from name/value pairs.
func TokenRequest(t *testing.T, pairs ...string) *message.Message {
	t.Helper()
	return build(t, message.KindTokenRequest, pairs)
}

// RevocationRequest builds a revocation request message from name/value pairs.
func RevocationRequest(t *testing.T, pairs ...string) *message.Message {
	t.Helper()
	return build(t, message.KindRevocationRequest, pairs)
}

func build(t *testing.T, kind message.Kind, pairs []string) *message.Message {
	t.Helper()
	if len(pairs)%2 != 0 {
		t.Fatalf("odd number of name/value arguments: %v", pairs)
	}
	m := message.New(kind)
	for i := 0; i < len(pairs); i += 2 {
		m.Set(pairs[i], pairs[i+1])
	}
	return m
}

// CodeFlowValues returns the query of a typical OpenID Connect code flow request.
func CodeFlowValues() url.Values {
	return url.Values{
		message.ParamClientID:     {TestClientID},
		message.ParamRedirectURI:  {TestRedirectURI},
		message.ParamResponseType: {message.ResponseTypeCode},
		message.ParamScope:        {message.ScopeOpenID},
		message.ParamState:        {TestState},
	}
}

// GenerateTestTicket creates a ticket for subject presentable by the given clients.
func GenerateTestTicket(subject string, expiresAt time.Time, presenters ...string) *ticket.Ticket {
	props := ticket.NewProperties()
	props.ExpiresAt = expiresAt
	if len(presenters) > 0 {
		props.SetPresenters(presenters...)
	}
	return ticket.New(ticket.NewPrincipal(subject, nil), props)
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertStringContains fails the test if s does not contain substr
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("string %q does not contain %q", s, substr)
	}
}

// HTTPRequest is a helper for making test HTTP requests
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// NewHTTPRequest creates a new HTTP request helper
func NewHTTPRequest(method, url string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.Headers[key] = value
	return r
}

// WithForm sets a form-encoded body and its content type
func (r *HTTPRequest) WithForm(values url.Values) *HTTPRequest {
	r.Body = values.Encode()
	r.Headers["Content-Type"] = "application/x-www-form-urlencoded"
	return r
}

// WithBody sets a raw request body
func (r *HTTPRequest) WithBody(body string) *HTTPRequest {
	r.Body = body
	return r
}

// Do executes the HTTP request
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(r.Method, r.URL, strings.NewReader(r.Body))
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
