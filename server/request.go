package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/giantswarm/oidc-engine/message"
)

const formContentType = "application/x-www-form-urlencoded"

// Request is the transport-neutral view of an inbound HTTP request.
type Request struct {
	// Method is the HTTP method
	Method string

	// ContentType is the raw Content-Type header
	ContentType string

	// Query holds the URL query parameters
	Query url.Values

	// Form holds the parsed form body (POST only)
	Form url.Values

	// Header holds the request headers; only Authorization is consulted
	Header http.Header

	// ClientIP is the caller address, used for audit logging only
	ClientIP string
}

type clientIPKey struct{}

// ContextWithClientIP stores the caller address for the audit events of
// Forbid, which receives no Request.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// OutcomeKind tells the transport adapter what to do with an Outcome.
type OutcomeKind int

const (
	// OutcomeRedirect asks for a 302 redirect to Location
	OutcomeRedirect OutcomeKind = iota

	// OutcomeDocument asks for Body to be written with StatusCode and ContentType
	OutcomeDocument

	// OutcomeContinue hands the request to the embedding application, e.g. to
	// authenticate the user. Request carries the normalized request; Response
	// carries an error response when the application displays errors itself.
	OutcomeContinue

	// OutcomeHandled means a hook already produced the response
	OutcomeHandled
)

// String returns the outcome kind name
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRedirect:
		return "redirect"
	case OutcomeDocument:
		return "document"
	case OutcomeContinue:
		return "continue"
	case OutcomeHandled:
		return "handled"
	default:
		return "unknown"
	}
}

// Outcome is the result of processing a request.
type Outcome struct {
	Kind OutcomeKind

	// Location is the redirect target (OutcomeRedirect)
	Location string

	// StatusCode, ContentType and Body describe a document (OutcomeDocument)
	StatusCode  int
	ContentType string
	Body        []byte

	// Header holds extra response headers to set, e.g. Cache-Control
	Header http.Header

	// Request is the normalized request message
	Request *message.Message

	// Response is the response message the outcome was built from, if any
	Response *message.Message
}

// IsError reports whether the outcome delivers a protocol error
func (o *Outcome) IsError() bool {
	return o.Response != nil && o.Response.Error() != ""
}

// parameters selects the parameter source for the request method: the query
// string for GET, the form body for a form-encoded POST.
func (r *Request) parameters() (url.Values, *ProtocolError) {
	switch r.Method {
	case http.MethodGet:
		return r.Query, nil
	case http.MethodPost:
		if !isFormContentType(r.ContentType) {
			return nil, invalidRequest("A malformed request has been received: the mandatory 'Content-Type' header must be 'application/x-www-form-urlencoded'.")
		}
		return r.Form, nil
	default:
		return nil, invalidRequest("A malformed request has been received: make sure to use either GET or POST.")
	}
}

// postParameters is parameters restricted to form-encoded POST requests.
func (r *Request) postParameters() (url.Values, *ProtocolError) {
	if r.Method != http.MethodPost {
		return nil, invalidRequest("A malformed request has been received: make sure to use POST.")
	}
	return r.parameters()
}

// isFormContentType matches the content type with a case-insensitive prefix
// comparison, so charset parameters are accepted.
func isFormContentType(contentType string) bool {
	return len(contentType) >= len(formContentType) &&
		strings.EqualFold(contentType[:len(formContentType)], formContentType)
}

// basicCredentials extracts client credentials from a Basic authorization
// header. A malformed header yields ok == false and is otherwise ignored.
func basicCredentials(header http.Header) (clientID, clientSecret string, ok bool) {
	if header == nil {
		return "", "", false
	}
	auth := header.Get("Authorization")
	const prefix = "Basic "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(auth[len(prefix):]))
	if err != nil {
		return "", "", false
	}

	clientID, clientSecret, found := strings.Cut(string(decoded), ":")
	if !found || clientID == "" {
		return "", "", false
	}
	return clientID, clientSecret, true
}

// applyBasicCredentials copies Basic credentials into request when the
// request carries no client_id of its own.
func applyBasicCredentials(request *message.Message, header http.Header) {
	if request.ClientID() != "" {
		return
	}
	clientID, clientSecret, ok := basicCredentials(header)
	if !ok {
		return
	}
	request.Set(message.ParamClientID, clientID)
	request.Set(message.ParamClientSecret, clientSecret)
}
