package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oidc-engine/internal/testutil"
	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/providers"
	"github.com/giantswarm/oidc-engine/providers/mock"
	"github.com/giantswarm/oidc-engine/storage"
	"github.com/giantswarm/oidc-engine/storage/memory"
)

func TestAuthorize_MissingClientID(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
	}{
		{
			name:   "code flow",
			values: codeFlow(message.ParamClientID, ""),
		},
		{
			name: "implicit flow with invalid everything else",
			values: url.Values{
				message.ParamResponseType: {"id_token token"},
				message.ParamResponseMode: {"query"},
				message.ParamRedirectURI:  {"not a uri"},
			},
		},
		{
			name:   "empty request",
			values: url.Values{},
		},
		{
			name: "empty client_id",
			values: url.Values{
				message.ParamClientID:     {""},
				message.ParamResponseType: {"code"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			outcome := env.authorize(t, tt.values)

			assertNativeError(t, outcome, ErrorCodeInvalidRequest)
			testutil.AssertStringContains(t, outcome.Response.ErrorDescription(), "client_id")

			if got := env.provider.GetCallCount("ValidateAuthorizationRequest"); got != 0 {
				t.Errorf("validation hook called %d times, want 0", got)
			}
			if env.store.Calls("Set") != 0 {
				t.Error("no pending request must be stored for an invalid request")
			}
		})
	}
}

func TestAuthorize_QueryModeRejectsTokens(t *testing.T) {
	responseTypes := []string{
		"token",
		"id_token",
		"id_token token",
		"code token",
		"code id_token",
		"code id_token token",
	}

	for _, responseType := range responseTypes {
		t.Run(responseType, func(t *testing.T) {
			env := newTestEnv(t, nil)
			outcome := env.authorize(t, codeFlow(
				message.ParamResponseType, responseType,
				message.ParamResponseMode, message.ResponseModeQuery,
				message.ParamNonce, "n-0S6_WzA2Mj",
			))

			assertNativeError(t, outcome, ErrorCodeInvalidRequest)
			if outcome.Location != "" {
				t.Errorf("tokens must never reach a redirect, got Location %q", outcome.Location)
			}
		})
	}
}

func TestAuthorize_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   *Config
		req      *Request
		wantCode string
		wantDesc string
	}{
		{
			name:     "unsupported method",
			req:      &Request{Method: http.MethodPut},
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "GET or POST",
		},
		{
			name:     "post without form content type",
			req:      &Request{Method: http.MethodPost, ContentType: "application/json", Form: codeFlow()},
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Content-Type",
		},
		{
			name: "duplicate parameter",
			req: getRequest(url.Values{
				message.ParamClientID:     {"c1", "c2"},
				message.ParamResponseType: {"code"},
			}),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "malformed",
		},
		{
			name:     "openid without redirect_uri",
			req:      getRequest(codeFlow(message.ParamRedirectURI, "")),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "redirect_uri",
		},
		{
			name:     "redirect_uri with fragment",
			req:      getRequest(codeFlow(message.ParamRedirectURI, "https://rp.example/cb#frag")),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "fragment",
		},
		{
			name:     "relative redirect_uri",
			req:      getRequest(codeFlow(message.ParamRedirectURI, "/cb")),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "absolute",
		},
		{
			name:     "dangerous redirect_uri scheme",
			req:      getRequest(codeFlow(message.ParamRedirectURI, "javascript:alert(1)")),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "not allowed",
		},
		{
			name:     "http redirect_uri on a remote host",
			req:      getRequest(codeFlow(message.ParamRedirectURI, "http://rp.example/cb")),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "HTTPS",
		},
		{
			name:     "request object",
			req:      getRequest(codeFlow(message.ParamRequest, "eyJhbGciOiJub25lIn0.e30.")),
			wantCode: ErrorCodeRequestNotSupported,
		},
		{
			name:     "request_uri",
			req:      getRequest(codeFlow(message.ParamRequestURI, "https://rp.example/request.jwt")),
			wantCode: ErrorCodeRequestURINotSupported,
		},
		{
			name:     "missing response_type",
			req:      getRequest(codeFlow(message.ParamResponseType, "")),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "response_type",
		},
		{
			name:     "unknown response_type",
			req:      getRequest(codeFlow(message.ParamResponseType, "code foo")),
			wantCode: ErrorCodeUnsupportedResponseType,
		},
		{
			name:     "none combined with code",
			req:      getRequest(codeFlow(message.ParamResponseType, "none code")),
			wantCode: ErrorCodeUnsupportedResponseType,
		},
		{
			name:     "unknown response_mode",
			req:      getRequest(codeFlow(message.ParamResponseMode, "web_message")),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "response_mode",
		},
		{
			name:     "implicit openid without nonce",
			req:      getRequest(codeFlow(message.ParamResponseType, "id_token token")),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "nonce",
		},
		{
			name: "id_token without openid",
			req: getRequest(codeFlow(
				message.ParamResponseType, "id_token",
				message.ParamScope, "profile",
				message.ParamNonce, "n",
			)),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "openid",
		},
		{
			name:     "code flow disabled",
			config:   &Config{DisableAuthorizationCodeGrant: true},
			req:      getRequest(codeFlow()),
			wantCode: ErrorCodeUnsupportedResponseType,
		},
		{
			name:     "unsupported scope",
			config:   &Config{SupportedScopes: []string{"openid"}},
			req:      getRequest(codeFlow(message.ParamScope, "openid admin")),
			wantCode: ErrorCodeInvalidScope,
		},
		{
			name:     "code_challenge_method without challenge",
			req:      getRequest(codeFlow(message.ParamCodeChallengeMethod, PKCEMethodS256)),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "PKCE",
		},
		{
			name:     "plain PKCE not allowed",
			req:      getRequest(codeFlow(message.ParamCodeChallenge, strings.Repeat("a", 43))),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "plain",
		},
		{
			name: "code_challenge with implicit flow",
			req: getRequest(codeFlow(
				message.ParamResponseType, "token",
				message.ParamScope, "profile",
				message.ParamCodeChallenge, strings.Repeat("a", 43),
				message.ParamCodeChallengeMethod, PKCEMethodS256,
			)),
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "PKCE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.config)
			outcome, err := env.srv.Authorize(context.Background(), tt.req)
			testutil.AssertNoError(t, err)

			assertNativeError(t, outcome, tt.wantCode)
			if tt.wantDesc != "" {
				testutil.AssertStringContains(t, outcome.Response.ErrorDescription(), tt.wantDesc)
			}
		})
	}
}

func TestAuthorize_NativeErrorEchoesState(t *testing.T) {
	env := newTestEnv(t, nil)
	outcome := env.authorize(t, codeFlow(message.ParamResponseType, ""))

	assertNativeError(t, outcome, ErrorCodeInvalidRequest)
	testutil.AssertEqual(t, outcome.Response.State(), testutil.TestState)
	testutil.AssertEqual(t, outcome.ContentType, contentTypeHTML)
	testutil.AssertEqual(t, outcome.Header.Get("Cache-Control"), "no-store")
	testutil.AssertStringContains(t, string(outcome.Body), "invalid_request")
}

func TestAuthorize_ApplicationCanDisplayErrors(t *testing.T) {
	env := newTestEnv(t, &Config{ApplicationCanDisplayErrors: true})
	outcome := env.authorize(t, codeFlow(message.ParamClientID, ""))

	if outcome.Kind != OutcomeContinue {
		t.Fatalf("outcome kind = %v, want continue", outcome.Kind)
	}
	if !outcome.IsError() {
		t.Fatal("expected the error response to be handed to the application")
	}
	testutil.AssertEqual(t, outcome.Response.Error(), ErrorCodeInvalidRequest)
	if outcome.Body != nil {
		t.Error("no document must be rendered")
	}
}

func TestAuthorize_MintsRequestID(t *testing.T) {
	env := newTestEnv(t, nil)
	outcome := env.authorize(t, codeFlow())

	if outcome.Kind != OutcomeContinue {
		t.Fatalf("outcome kind = %v, want continue", outcome.Kind)
	}

	requestID := outcome.Request.RequestID()
	if len(requestID) != 43 {
		t.Errorf("request_id length = %d, want 43", len(requestID))
	}
	for _, ch := range requestID {
		if !strings.ContainsRune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_", ch) {
			t.Fatalf("request_id %q is not base64url", requestID)
		}
	}

	if len(env.store.SetCalls) != 1 {
		t.Fatalf("Set called %d times, want 1", len(env.store.SetCalls))
	}
	call := env.store.SetCalls[0]
	testutil.AssertEqual(t, call.Key, env.pendingKey(requestID))
	if !call.ExpiresAt.Equal(testEpoch.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", call.ExpiresAt, testEpoch.Add(time.Hour))
	}

	params, err := storage.DecodeRequest(call.Value)
	testutil.AssertNoError(t, err)
	stored := message.New(message.KindAuthorizationRequest)
	stored.Merge(params)

	if stored.Has(message.ParamRequestID) {
		t.Error("request_id must not be persisted")
	}
	testutil.AssertEqual(t, stored.ClientID(), testutil.TestClientID)
	testutil.AssertEqual(t, stored.RedirectURI(), testutil.TestRedirectURI)
	testutil.AssertEqual(t, stored.State(), testutil.TestState)
}

func TestAuthorize_MintsDistinctRequestIDs(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.authorize(t, codeFlow()).Request.RequestID()
	second := env.authorize(t, codeFlow()).Request.RequestID()

	if first == second {
		t.Errorf("request ids must be unique, got %q twice", first)
	}
	testutil.AssertEqual(t, env.store.Len(), 2)
}

func TestAuthorize_CustomPendingRequestTTL(t *testing.T) {
	env := newTestEnv(t, &Config{PendingRequestTTL: 300, PendingRequestKeyPrefix: "tenant-a"})
	outcome := env.authorize(t, codeFlow())

	call := env.store.SetCalls[0]
	testutil.AssertEqual(t, call.Key, "tenant-a:"+outcome.Request.RequestID())
	if !call.ExpiresAt.Equal(testEpoch.Add(5 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want %v", call.ExpiresAt, testEpoch.Add(5*time.Minute))
	}
}

func TestAuthorize_ResumesPendingRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	requestID := env.authorize(t, codeFlow()).Request.RequestID()

	outcome := env.authorize(t, url.Values{message.ParamRequestID: {requestID}})

	if outcome.Kind != OutcomeContinue {
		t.Fatalf("outcome kind = %v, want continue (%v)", outcome.Kind, outcome.Response)
	}
	request := outcome.Request
	testutil.AssertEqual(t, request.RequestID(), requestID)
	testutil.AssertEqual(t, request.ClientID(), testutil.TestClientID)
	testutil.AssertEqual(t, request.RedirectURI(), testutil.TestRedirectURI)
	testutil.AssertEqual(t, request.ResponseType(), message.ResponseTypeCode)
	testutil.AssertEqual(t, request.Scope(), message.ScopeOpenID)
	testutil.AssertEqual(t, request.State(), testutil.TestState)

	if len(env.store.SetCalls) != 1 {
		t.Errorf("a resumed request must not be stored again, Set called %d times", len(env.store.SetCalls))
	}
}

func TestAuthorize_OversizedRequestIsRejected(t *testing.T) {
	withExtras := func(n int) url.Values {
		values := codeFlow()
		for i := 0; i < n; i++ {
			values.Set(fmt.Sprintf("x%d", i), "v")
		}
		return values
	}
	// Each string stays under the per-string limit, the sum does not.
	withBulk := func() url.Values {
		values := codeFlow()
		for i := 0; i < 5; i++ {
			values.Set(fmt.Sprintf("bulk%d", i), strings.Repeat("b", storage.MaxEncodedStringLength-16))
		}
		return values
	}

	tests := []struct {
		name   string
		values url.Values
	}{
		{
			name:   "state longer than a stored string",
			values: codeFlow(message.ParamState, strings.Repeat("s", 70*1024)),
		},
		{
			name:   "too many parameters",
			values: withExtras(1100),
		},
		{
			name:   "total size over the limit",
			values: withBulk(),
		},
		{
			name:   "oversized parameter name",
			values: codeFlow(strings.Repeat("n", storage.MaxEncodedStringLength+1), "v"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			outcome, err := env.srv.Authorize(context.Background(), postRequest(tt.values))
			testutil.AssertNoError(t, err)

			assertNativeError(t, outcome, ErrorCodeInvalidRequest)
			testutil.AssertStringContains(t, outcome.Response.ErrorDescription(), "too large")
			testutil.AssertEqual(t, outcome.Response.Get(message.ParamRequestID), "")
			if env.store.Calls("Set") != 0 {
				t.Error("an oversized request must not be stored")
			}
		})
	}
}

func TestAuthorize_LargeRequestWithinLimitsResumes(t *testing.T) {
	env := newTestEnv(t, nil)
	state := strings.Repeat("s", storage.MaxEncodedStringLength)
	values := codeFlow(message.ParamState, state)
	for i := 0; i < 100; i++ {
		values.Set(fmt.Sprintf("x%d", i), "v")
	}

	outcome, err := env.srv.Authorize(context.Background(), postRequest(values))
	testutil.AssertNoError(t, err)
	if outcome.Kind != OutcomeContinue {
		t.Fatalf("outcome kind = %v, want continue (%v)", outcome.Kind, outcome.Response)
	}
	requestID := outcome.Request.RequestID()

	resumed := env.authorize(t, url.Values{message.ParamRequestID: {requestID}})
	if resumed.Kind != OutcomeContinue {
		t.Fatalf("resumed outcome kind = %v, want continue (%v)", resumed.Kind, resumed.Response)
	}
	testutil.AssertEqual(t, resumed.Request.State(), state)
	testutil.AssertEqual(t, resumed.Request.Get("x99"), "v")
}

func TestAuthorize_IncomingParametersWinOverStored(t *testing.T) {
	env := newTestEnv(t, nil)
	requestID := env.authorize(t, codeFlow(message.ParamPrompt, "login")).Request.RequestID()

	outcome := env.authorize(t, url.Values{
		message.ParamRequestID: {requestID},
		message.ParamState:     {"fresh"},
		message.ParamPrompt:    {"none"},
	})

	request := outcome.Request
	testutil.AssertEqual(t, request.State(), "fresh")
	testutil.AssertEqual(t, request.Get(message.ParamPrompt), "none")
	testutil.AssertEqual(t, request.ClientID(), testutil.TestClientID)
	testutil.AssertEqual(t, request.RedirectURI(), testutil.TestRedirectURI)
}

func TestAuthorize_ExplicitEmptyParameterWinsOverStored(t *testing.T) {
	env := newTestEnv(t, nil)
	requestID := env.authorize(t, codeFlow(message.ParamPrompt, "login")).Request.RequestID()

	outcome := env.authorize(t, url.Values{
		message.ParamRequestID: {requestID},
		message.ParamPrompt:    {""},
	})

	if outcome.Kind != OutcomeContinue {
		t.Fatalf("outcome kind = %v, want continue (%v)", outcome.Kind, outcome.Response)
	}
	if v, ok := outcome.Request.Lookup(message.ParamPrompt); !ok || v != "" {
		t.Errorf("prompt = %q (present %v), want the explicit empty value", v, ok)
	}
	testutil.AssertEqual(t, outcome.Request.State(), testutil.TestState)
}

func TestAuthorize_PendingRequestUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *testEnv, key string)
		evict bool
	}{
		{
			name:  "unknown request_id",
			setup: func(*testEnv, string) {},
		},
		{
			name: "unsupported format version",
			setup: func(env *testEnv, key string) {
				blob := storage.EncodeRequest([]message.Parameter{{Name: message.ParamClientID, Value: "c1"}})
				blob[0] = 2
				env.store.Put(key, blob)
			},
			evict: true,
		},
		{
			name: "corrupted payload",
			setup: func(env *testEnv, key string) {
				env.store.Put(key, []byte{0x01, 0x00})
			},
			evict: true,
		},
		{
			name: "backend failure",
			setup: func(env *testEnv, _ string) {
				env.store.GetFunc = func(context.Context, string) ([]byte, error) {
					return nil, errors.New("connection refused")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			key := env.pendingKey("abc")
			tt.setup(env, key)

			outcome := env.authorize(t, url.Values{message.ParamRequestID: {"abc"}})

			assertNativeError(t, outcome, ErrorCodeInvalidRequest)
			testutil.AssertEqual(t, outcome.Response.ErrorDescription(), "Invalid request: timeout expired.")

			if tt.evict {
				if _, ok := env.store.Raw(key); ok {
					t.Error("unreadable payload must be evicted")
				}
			}
			if got := env.provider.GetCallCount("ValidateAuthorizationRequest"); got != 0 {
				t.Errorf("validation hook called %d times, want 0", got)
			}
		})
	}
}

func TestAuthorize_ExpiredPendingRequest(t *testing.T) {
	clock := testutil.NewMockTime(testEpoch)
	store := memory.NewWithInterval(time.Hour)
	defer store.Stop()
	store.SetClock(clock.Now)

	srv, err := New(mock.NewMockProvider(), newFakeCodec(clock.Now), store,
		&Config{Issuer: testutil.TestIssuer, PendingRequestTTL: 60}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	testutil.AssertNoError(t, err)
	srv.SetClock(clock.Now)

	first, err := srv.Authorize(context.Background(), getRequest(codeFlow()))
	testutil.AssertNoError(t, err)
	requestID := first.Request.RequestID()

	clock.Advance(59 * time.Second)
	resumed, err := srv.Authorize(context.Background(), getRequest(url.Values{message.ParamRequestID: {requestID}}))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resumed.Kind, OutcomeContinue)

	clock.Advance(2 * time.Second)
	expired, err := srv.Authorize(context.Background(), getRequest(url.Values{message.ParamRequestID: {requestID}}))
	testutil.AssertNoError(t, err)
	assertNativeError(t, expired, ErrorCodeInvalidRequest)
}

func TestAuthorize_StoreFailureOnSave(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.SetFunc = func(context.Context, string, []byte, time.Time) error {
		return errors.New("READONLY")
	}

	outcome, err := env.srv.Authorize(context.Background(), getRequest(codeFlow()))
	if err == nil {
		t.Fatalf("expected an error, got outcome %v", outcome.Kind)
	}
	if errors.Is(err, ErrServerMisconfigured) {
		t.Error("a store failure is not a misconfiguration")
	}
	if got := env.provider.GetCallCount("HandleAuthorizationRequest"); got != 0 {
		t.Errorf("handle hook called %d times, want 0", got)
	}
}

func TestAuthorize_ValidationHook(t *testing.T) {
	tests := []struct {
		name     string
		hook     func(c *providers.ValidateAuthorizationRequestContext)
		wantCode string
		wantDesc string
	}{
		{
			name:     "rejected without code",
			hook:     func(c *providers.ValidateAuthorizationRequestContext) { c.Reject("", "unknown client", "") },
			wantCode: ErrorCodeInvalidClient,
			wantDesc: "unknown client",
		},
		{
			name: "rejected with code",
			hook: func(c *providers.ValidateAuthorizationRequestContext) {
				c.Reject(ErrorCodeUnauthorizedClient, "client may not use implicit", "")
			},
			wantCode: ErrorCodeUnauthorizedClient,
		},
		{
			name:     "left unresolved",
			hook:     func(*providers.ValidateAuthorizationRequestContext) {},
			wantCode: ErrorCodeInvalidClient,
		},
		{
			name:     "skipped",
			hook:     func(c *providers.ValidateAuthorizationRequestContext) { c.Skip() },
			wantCode: ErrorCodeInvalidClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.provider.ValidateAuthorizationRequestFunc = func(_ context.Context, c *providers.ValidateAuthorizationRequestContext) error {
				tt.hook(c)
				return nil
			}

			outcome := env.authorize(t, codeFlow())

			// The redirect_uri is not trusted until the hook validated it
			assertNativeError(t, outcome, tt.wantCode)
			if tt.wantDesc != "" {
				testutil.AssertEqual(t, outcome.Response.ErrorDescription(), tt.wantDesc)
			}
			if env.store.Calls("Set") != 0 {
				t.Error("a rejected request must not be stored")
			}
		})
	}
}

func TestAuthorize_ValidationHookError(t *testing.T) {
	env := newTestEnv(t, nil)
	hookErr := errors.New("client registry down")
	env.provider.ValidateAuthorizationRequestFunc = func(context.Context, *providers.ValidateAuthorizationRequestContext) error {
		return hookErr
	}

	_, err := env.srv.Authorize(context.Background(), getRequest(codeFlow()))
	if !errors.Is(err, hookErr) {
		t.Errorf("error = %v, want wrapped hook error", err)
	}
}

func TestAuthorize_HookSuppliedRedirectURI(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.ValidateAuthorizationRequestFunc = func(_ context.Context, c *providers.ValidateAuthorizationRequestContext) error {
		c.ValidateRedirectURI("https://rp.example/registered")
		return nil
	}

	outcome := env.authorize(t, codeFlow(
		message.ParamScope, "profile",
		message.ParamRedirectURI, "",
	))

	if outcome.Kind != OutcomeContinue {
		t.Fatalf("outcome kind = %v, want continue", outcome.Kind)
	}
	testutil.AssertEqual(t, outcome.Request.RedirectURI(), "https://rp.example/registered")
}

func TestAuthorize_RedirectURIMisconfiguration(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
		hook   func(c *providers.ValidateAuthorizationRequestContext)
	}{
		{
			name:   "validated without any redirect_uri",
			values: codeFlow(message.ParamScope, "profile", message.ParamRedirectURI, ""),
			hook:   func(c *providers.ValidateAuthorizationRequestContext) { c.Validate() },
		},
		{
			name:   "hook replaced the supplied redirect_uri",
			values: codeFlow(),
			hook: func(c *providers.ValidateAuthorizationRequestContext) {
				c.ValidateRedirectURI("https://evil.example/cb")
			},
		},
		{
			name:   "hook supplied an invalid redirect_uri",
			values: codeFlow(message.ParamScope, "profile", message.ParamRedirectURI, ""),
			hook: func(c *providers.ValidateAuthorizationRequestContext) {
				c.ValidateRedirectURI("javascript:alert(1)")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.provider.ValidateAuthorizationRequestFunc = func(_ context.Context, c *providers.ValidateAuthorizationRequestContext) error {
				tt.hook(c)
				return nil
			}

			_, err := env.srv.Authorize(context.Background(), getRequest(tt.values))
			if !errors.Is(err, ErrServerMisconfigured) {
				t.Errorf("error = %v, want ErrServerMisconfigured", err)
			}
		})
	}
}

func TestAuthorize_HandleHook(t *testing.T) {
	t.Run("handled", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.provider.HandleAuthorizationRequestFunc = func(_ context.Context, c *providers.HandleAuthorizationRequestContext) error {
			c.HandleResponse()
			return nil
		}
		outcome := env.authorize(t, codeFlow())
		testutil.AssertEqual(t, outcome.Kind, OutcomeHandled)
	})

	t.Run("skipped", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.provider.HandleAuthorizationRequestFunc = func(_ context.Context, c *providers.HandleAuthorizationRequestContext) error {
			c.SkipDefault()
			return nil
		}
		outcome := env.authorize(t, codeFlow())
		testutil.AssertEqual(t, outcome.Kind, OutcomeContinue)
		if outcome.Request.RequestID() == "" {
			t.Error("the continued request must carry its request_id")
		}
	})

	t.Run("rejected is redirected", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.provider.HandleAuthorizationRequestFunc = func(_ context.Context, c *providers.HandleAuthorizationRequestContext) error {
			c.Reject("", "consent required", "")
			return nil
		}
		outcome := env.authorize(t, codeFlow())

		params := redirectParams(t, outcome, false)
		testutil.AssertEqual(t, params.Get("error"), ErrorCodeAccessDenied)
		testutil.AssertEqual(t, params.Get("error_description"), "consent required")
		testutil.AssertEqual(t, params.Get("state"), testutil.TestState)
		if !strings.HasPrefix(outcome.Location, testutil.TestRedirectURI+"?") {
			t.Errorf("Location = %q, want redirect to %s", outcome.Location, testutil.TestRedirectURI)
		}
	})

	t.Run("sign in from hook", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.signInOnHandle(testutil.TestSubject)
		outcome := env.authorize(t, codeFlow())

		params := redirectParams(t, outcome, false)
		if params.Get("code") == "" {
			t.Error("expected an authorization code")
		}
		testutil.AssertEqual(t, env.store.Len(), 0)
	})
}

func TestAuthorize_PostForm(t *testing.T) {
	env := newTestEnv(t, nil)
	req := postRequest(codeFlow())
	req.ContentType = "application/x-www-form-urlencoded; charset=UTF-8"

	outcome, err := env.srv.Authorize(context.Background(), req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, outcome.Kind, OutcomeContinue)
	testutil.AssertEqual(t, outcome.Request.ClientID(), testutil.TestClientID)
}
