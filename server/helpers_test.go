package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oidc-engine/internal/testutil"
	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/providers"
	"github.com/giantswarm/oidc-engine/providers/mock"
	"github.com/giantswarm/oidc-engine/storage"
	storagemock "github.com/giantswarm/oidc-engine/storage/mock"
	"github.com/giantswarm/oidc-engine/ticket"
)

var testEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// idTokenBinding captures what the codec saw when serializing an identity token
type idTokenBinding struct {
	code        string
	accessToken string
	nonce       string
}

type storedToken struct {
	usage  string
	ticket *ticket.Ticket
}

// fakeCodec is an in-memory TokenCodec. Tokens are "<usage>-<n>" and resolve
// to a copy of the ticket they were issued for.
type fakeCodec struct {
	mu sync.Mutex

	now                 func() time.Time
	accessTokenLifetime time.Duration

	seq      int
	tokens   map[string]storedToken
	order    []string
	lookups  []string
	bindings []idTokenBinding

	empty map[string]bool
	fail  map[string]error
}

var _ TokenCodec = (*fakeCodec)(nil)

func newFakeCodec(now func() time.Time) *fakeCodec {
	return &fakeCodec{
		now:                 now,
		accessTokenLifetime: time.Hour,
		tokens:              make(map[string]storedToken),
		empty:               make(map[string]bool),
		fail:                make(map[string]error),
	}
}

func (c *fakeCodec) serialize(usage string, t *ticket.Ticket, response *message.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order = append(c.order, usage)
	if err := c.fail[usage]; err != nil {
		return "", err
	}
	if c.empty[usage] {
		return "", nil
	}

	switch usage {
	case artifactCode:
		t.Properties.ExpiresAt = c.now().Add(10 * time.Minute)
	case artifactAccessToken:
		if c.accessTokenLifetime > 0 {
			t.Properties.ExpiresAt = c.now().Add(c.accessTokenLifetime)
		}
	case artifactIDToken:
		c.bindings = append(c.bindings, idTokenBinding{
			code:        response.Code(),
			accessToken: response.Get(message.ParamAccessToken),
			nonce:       t.Properties.Get(ticket.PropertyNonce),
		})
	}

	c.seq++
	token := fmt.Sprintf("%s-%d", usage, c.seq)
	c.tokens[token] = storedToken{usage: usage, ticket: ticket.New(t.Principal.Clone(), t.Properties.Clone())}
	return token, nil
}

func (c *fakeCodec) deserialize(usage, token string) (*ticket.Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lookups = append(c.lookups, usage)
	if err := c.fail["deserialize_"+usage]; err != nil {
		return nil, err
	}
	stored, ok := c.tokens[token]
	if !ok || stored.usage != usage {
		return nil, nil
	}
	return ticket.New(stored.ticket.Principal.Clone(), stored.ticket.Properties.Clone()), nil
}

// put registers a token for t directly.
func (c *fakeCodec) put(usage string, t *ticket.Ticket) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	token := fmt.Sprintf("%s-%d", usage, c.seq)
	c.tokens[token] = storedToken{usage: usage, ticket: t}
	return token
}

func (c *fakeCodec) issued(token string) *ticket.Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[token].ticket
}

func (c *fakeCodec) SerializeAuthorizationCode(_ context.Context, t *ticket.Ticket, _, response *message.Message) (string, error) {
	return c.serialize(artifactCode, t, response)
}

func (c *fakeCodec) SerializeAccessToken(_ context.Context, t *ticket.Ticket, _, response *message.Message) (string, error) {
	return c.serialize(artifactAccessToken, t, response)
}

func (c *fakeCodec) SerializeIdentityToken(_ context.Context, t *ticket.Ticket, _, response *message.Message) (string, error) {
	return c.serialize(artifactIDToken, t, response)
}

func (c *fakeCodec) SerializeRefreshToken(_ context.Context, t *ticket.Ticket, _, response *message.Message) (string, error) {
	return c.serialize(artifactRefreshToken, t, response)
}

func (c *fakeCodec) DeserializeAuthorizationCode(_ context.Context, token string, _ *message.Message) (*ticket.Ticket, error) {
	return c.deserialize(artifactCode, token)
}

func (c *fakeCodec) DeserializeAccessToken(_ context.Context, token string, _ *message.Message) (*ticket.Ticket, error) {
	return c.deserialize(artifactAccessToken, token)
}

func (c *fakeCodec) DeserializeRefreshToken(_ context.Context, token string, _ *message.Message) (*ticket.Ticket, error) {
	return c.deserialize(artifactRefreshToken, token)
}

type testEnv struct {
	srv      *Server
	provider *mock.MockProvider
	store    *storagemock.MockPendingRequestStore
	codec    *fakeCodec
	clock    *testutil.MockTime
}

func newTestEnv(t *testing.T, config *Config) *testEnv {
	t.Helper()

	if config == nil {
		config = &Config{}
	}
	if config.Issuer == "" {
		config.Issuer = testutil.TestIssuer
	}

	clock := testutil.NewMockTime(testEpoch)
	provider := mock.NewMockProvider()
	store := storagemock.NewMockPendingRequestStore()
	codec := newFakeCodec(clock.Now)

	srv, err := New(provider, codec, store, config, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv.SetClock(clock.Now)

	return &testEnv{srv: srv, provider: provider, store: store, codec: codec, clock: clock}
}

func getRequest(values url.Values) *Request {
	return &Request{Method: http.MethodGet, Query: values}
}

func postRequest(values url.Values) *Request {
	return &Request{
		Method:      http.MethodPost,
		ContentType: "application/x-www-form-urlencoded",
		Form:        values,
		Header:      make(http.Header),
	}
}

// codeFlow returns the query of the reference code flow with extra overrides.
func codeFlow(pairs ...string) url.Values {
	values := testutil.CodeFlowValues()
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			values.Del(pairs[i])
			continue
		}
		values.Set(pairs[i], pairs[i+1])
	}
	return values
}

// authorize runs an authorization request and fails on server errors.
func (e *testEnv) authorize(t *testing.T, values url.Values) *Outcome {
	t.Helper()
	outcome, err := e.srv.Authorize(context.Background(), getRequest(values))
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	return outcome
}

// signInOnHandle makes the handle hook complete every request for subject.
func (e *testEnv) signInOnHandle(subject string) {
	e.provider.HandleAuthorizationRequestFunc = func(_ context.Context, c *providers.HandleAuthorizationRequestContext) error {
		c.SignIn(ticket.New(ticket.NewPrincipal(subject, nil), nil))
		return nil
	}
}

func (e *testEnv) pendingKey(requestID string) string {
	return storage.DefaultKeyPrefix + ":" + requestID
}

// redirectParams returns the parameters delivered by a redirect outcome,
// reading the query or the fragment.
func redirectParams(t *testing.T, outcome *Outcome, fragment bool) url.Values {
	t.Helper()
	if outcome.Kind != OutcomeRedirect {
		t.Fatalf("outcome kind = %v, want redirect", outcome.Kind)
	}
	u, err := url.Parse(outcome.Location)
	if err != nil {
		t.Fatalf("invalid Location %q: %v", outcome.Location, err)
	}
	raw := u.RawQuery
	if fragment {
		raw = u.Fragment
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("invalid parameters %q: %v", raw, err)
	}
	return values
}

func assertNativeError(t *testing.T, outcome *Outcome, wantCode string) {
	t.Helper()
	if outcome.Kind != OutcomeDocument {
		t.Fatalf("outcome kind = %v, want document (location %q)", outcome.Kind, outcome.Location)
	}
	if outcome.StatusCode < 400 || outcome.StatusCode >= 500 {
		t.Errorf("status = %d, want 4xx", outcome.StatusCode)
	}
	if got := outcome.Response.Error(); got != wantCode {
		t.Errorf("error = %q, want %q (%s)", got, wantCode, outcome.Response.ErrorDescription())
	}
}
