package main

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	oidc "github.com/giantswarm/oidc-engine"
	"github.com/giantswarm/oidc-engine/internal/clients"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/server"
)

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<h1>Sign in to {{.Client}}</h1>
{{if .Scope}}<p>Requested access: {{.Scope}}</p>{{end}}
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
<form method="post" action="{{.Action}}">
<input type="hidden" name="request_id" value="{{.RequestID}}">
<label>Username <input name="username" autocomplete="username" required></label>
<label>Password <input name="password" type="password" autocomplete="current-password" required></label>
<button type="submit" name="action" value="login">Sign in</button>
<button type="submit" name="action" value="deny" formnovalidate>Cancel</button>
</form>
</body>
</html>
`))

var errorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Authorization error</title></head>
<body>
<h1>{{.Error}}</h1>
{{if .Description}}<p>{{.Description}}</p>{{end}}
</body>
</html>
`))

type loginPageData struct {
	Client    string
	Scope     string
	Error     string
	Action    string
	RequestID string
}

// loginHandler is the interaction handler: it authenticates users against the
// registry and completes or denies the pending authorization request.
type loginHandler struct {
	registry *clients.Registry
	handler  *oidc.Handler
	action   string
	issuer   string
	logger   *slog.Logger
}

func newLoginHandler(registry *clients.Registry, issuer string, logger *slog.Logger) *loginHandler {
	return &loginHandler{
		registry: registry,
		action:   issuer + server.DefaultAuthorizationPath,
		issuer:   issuer,
		logger:   logger,
	}
}

func (l *loginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if response, ok := oidc.ErrorResponseFromContext(r.Context()); ok {
		l.renderError(w, response.Error(), response.ErrorDescription())
		return
	}

	request, ok := oidc.AuthorizationRequest(r.Context())
	if !ok {
		l.renderError(w, "invalid_request", "No authorization request in progress.")
		return
	}

	if r.Method != http.MethodPost {
		l.renderLogin(w, r, http.StatusOK, "")
		return
	}

	switch r.PostForm.Get("action") {
	case "deny":
		l.logger.Info("User declined the authorization request", "client_id", request.ClientID())
		l.handler.Forbid(w, r)

	case "login":
		t, err := l.registry.Authenticate(r.PostForm.Get("username"), r.PostForm.Get("password"))
		if errors.Is(err, clients.ErrInvalidCredentials) {
			l.logger.Warn("Login failed", "client_id", request.ClientID())
			l.renderLogin(w, r, http.StatusUnauthorized, "Invalid username or password.")
			return
		}
		l.handler.SignIn(w, r, t)

	default:
		l.renderLogin(w, r, http.StatusOK, "")
	}
}

func (l *loginHandler) renderLogin(w http.ResponseWriter, r *http.Request, status int, message string) {
	request, _ := oidc.AuthorizationRequest(r.Context())

	name := request.ClientID()
	if client, ok := l.registry.Client(name); ok && client.Name != "" {
		name = client.Name
	}

	security.SetSecurityHeaders(w, l.issuer)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	err := loginTemplate.Execute(w, loginPageData{
		Client:    name,
		Scope:     request.Scope(),
		Error:     message,
		Action:    l.action,
		RequestID: oidc.PendingRequestID(r.Context()),
	})
	if err != nil {
		l.logger.Error("Failed to render login page", "error", err)
	}
}

func (l *loginHandler) renderError(w http.ResponseWriter, code, description string) {
	security.SetSecurityHeaders(w, l.issuer)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusBadRequest)
	err := errorTemplate.Execute(w, struct{ Error, Description string }{code, description})
	if err != nil {
		l.logger.Error("Failed to render error page", "error", err)
	}
}
