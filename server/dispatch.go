package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/providers"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/ticket"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json;charset=UTF-8"
)

var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Working...</title></head>
<body>
<form method="post" action="{{.Action}}">
{{- range .Parameters}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}" />
{{- end}}
<noscript><button type="submit">Continue</button></noscript>
</form>
<script>{{.Script}}</script>
</body>
</html>
`))

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Authorization error</title></head>
<body>
<h1>Authorization error</h1>
<p>error: {{.Error}}</p>
{{- if .Description}}
<p>error_description: {{.Description}}</p>
{{- end}}
{{- if .URI}}
<p>error_uri: {{.URI}}</p>
{{- end}}
</body>
</html>
`))

type formPostData struct {
	Action     template.URL
	Parameters []message.Parameter
	Script     template.JS
}

type errorPageData struct {
	Error       string
	Description string
	URI         string
}

// responseMode returns the delivery mode of request: the explicit
// response_mode, otherwise query for "code" and "none" and fragment for every
// response type carrying tokens.
func responseMode(request *message.Message) string {
	if mode := request.ResponseMode(); mode != "" {
		return mode
	}
	if request.IsAuthorizationCodeFlow() || request.IsNoneFlow() {
		return message.ResponseModeQuery
	}
	return message.ResponseModeFragment
}

// sendAuthorizationResponse offers response to the ApplyAuthorizationResponse
// hook and dispatches it unless the hook handled or skipped it.
func (s *Server) sendAuthorizationResponse(ctx context.Context, request, response *message.Message, t *ticket.Ticket) (*Outcome, error) {
	if t == nil {
		t = ticket.New(ticket.Anonymous(), nil)
	}

	actx := &providers.ApplyAuthorizationResponseContext{Request: request, Response: response, Ticket: t}
	if err := s.provider.ApplyAuthorizationResponse(ctx, actx); err != nil {
		return nil, fmt.Errorf("apply authorization response hook failed: %w", err)
	}
	switch {
	case actx.IsHandled():
		return &Outcome{Kind: OutcomeHandled, Request: request, Response: response}, nil
	case actx.IsSkipped():
		return &Outcome{Kind: OutcomeContinue, Request: request, Response: response}, nil
	}

	return s.dispatch(ctx, request, response)
}

// dispatch delivers an authorization response through the mode selected by
// the request. Every parameter but redirect_uri is delivered.
func (s *Server) dispatch(ctx context.Context, request, response *message.Message) (*Outcome, error) {
	redirectURI := response.RedirectURI()
	if redirectURI == "" {
		return s.nativePage(ctx, request, response)
	}

	params := response.Clone()
	params.Remove(message.ParamRedirectURI)

	mode := responseMode(request)
	s.recordDispatch(ctx, mode)

	switch mode {
	case message.ResponseModeFormPost:
		return renderFormPost(request, response, redirectURI, params.Parameters())
	case message.ResponseModeFragment:
		location, err := appendFragment(redirectURI, params.Parameters())
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: OutcomeRedirect, Location: location, Request: request, Response: response}, nil
	case message.ResponseModeQuery:
		location, err := appendQuery(redirectURI, params.Parameters())
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: OutcomeRedirect, Location: location, Request: request, Response: response}, nil
	default:
		return nil, misconfigured("unsupported response_mode %q reached the dispatcher", mode)
	}
}

// nativePage renders a response that has no trusted redirect_uri. Errors use
// a 400-class status. When the application displays errors itself the
// response is handed over instead.
func (s *Server) nativePage(ctx context.Context, request, response *message.Message) (*Outcome, error) {
	s.recordDispatch(ctx, "native")

	if s.Config.ApplicationCanDisplayErrors {
		return &Outcome{Kind: OutcomeContinue, Request: request, Response: response}, nil
	}

	status := http.StatusOK
	if response.Error() != "" {
		status = http.StatusBadRequest
	}

	var buf bytes.Buffer
	err := errorPageTemplate.Execute(&buf, errorPageData{
		Error:       response.Error(),
		Description: response.ErrorDescription(),
		URI:         response.ErrorURI(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render error page: %w", err)
	}

	return &Outcome{
		Kind:        OutcomeDocument,
		StatusCode:  status,
		ContentType: contentTypeHTML,
		Body:        buf.Bytes(),
		Header:      noStoreHeader(),
		Request:     request,
		Response:    response,
	}, nil
}

// renderFormPost builds the auto-submitting document. html/template escapes
// the action URL and every field name and value.
func renderFormPost(request, response *message.Message, redirectURI string, params []message.Parameter) (*Outcome, error) {
	var buf bytes.Buffer
	err := formPostTemplate.Execute(&buf, formPostData{
		// redirect_uri passed validation; template.URL keeps non-http schemes intact
		Action:     template.URL(redirectURI), //nolint:gosec // validated redirect_uri
		Parameters: params,
		Script:     template.JS(security.FormPostScript),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render form_post response: %w", err)
	}

	header := noStoreHeader()
	header.Set("Content-Security-Policy", security.FormPostContentSecurityPolicy())

	return &Outcome{
		Kind:        OutcomeDocument,
		StatusCode:  http.StatusOK,
		ContentType: contentTypeHTML,
		Body:        buf.Bytes(),
		Header:      header,
		Request:     request,
		Response:    response,
	}, nil
}

// appendQuery adds params to the query of redirectURI, keeping any query the
// registered URI already carries.
func appendQuery(redirectURI string, params []message.Parameter) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("failed to parse redirect_uri: %w", err)
	}
	encoded := encodeParameters(params)
	if encoded != "" {
		if u.RawQuery == "" {
			u.RawQuery = encoded
		} else {
			u.RawQuery += "&" + encoded
		}
	}
	return u.String(), nil
}

// appendFragment places params in the fragment of redirectURI.
func appendFragment(redirectURI string, params []message.Parameter) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("failed to parse redirect_uri: %w", err)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String() + "#" + encodeParameters(params), nil
}

// encodeParameters form-encodes params in message order.
func encodeParameters(params []message.Parameter) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// jsonDocument renders a token or revocation endpoint response. expires_in is
// emitted as a number.
func jsonDocument(request, response *message.Message, status int) (*Outcome, error) {
	body := make(map[string]any, response.Len())
	for _, p := range response.Parameters() {
		if p.Name == message.ParamExpiresIn {
			if n, err := strconv.ParseInt(p.Value, 10, 64); err == nil {
				body[p.Name] = n
				continue
			}
		}
		body[p.Name] = p.Value
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}

	return &Outcome{
		Kind:        OutcomeDocument,
		StatusCode:  status,
		ContentType: contentTypeJSON,
		Body:        data,
		Header:      noStoreHeader(),
		Request:     request,
		Response:    response,
	}, nil
}

// errorResponse converts a protocol error to a response message.
func errorResponse(perr *ProtocolError) *message.Message {
	response := message.New(message.KindResponse)
	response.Set(message.ParamError, perr.Code)
	response.Set(message.ParamErrorDescription, perr.Description)
	response.Set(message.ParamErrorURI, perr.URI)
	return response
}

func noStoreHeader() http.Header {
	h := make(http.Header)
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	return h
}

func (s *Server) recordDispatch(ctx context.Context, mode string) {
	instrumentation.SetSpanAttributes(trace.SpanFromContext(ctx), attribute.String(instrumentation.AttrResponseMode, mode))
	if s.metrics != nil {
		s.metrics.RecordResponseDispatched(ctx, mode)
	}
}
