package clients

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oidc-engine/internal/util"
	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/providers"
	"github.com/giantswarm/oidc-engine/server"
	"github.com/giantswarm/oidc-engine/ticket"
)

// dummyHash is compared against when the client or user does not exist, so
// lookups of unknown ids cost the same as failed comparisons (bcrypt of "test").
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ErrInvalidCredentials is returned by Authenticate for an unknown user or a
// wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Client is a statically registered relying party.
type Client struct {
	// ID is the client_id
	ID string `yaml:"id" validate:"required,printascii"`

	// Name is shown on the login page
	Name string `yaml:"name"`

	// SecretHash is the bcrypt hash of the client secret. Empty for public clients.
	SecretHash string `yaml:"secret_hash"`

	// RedirectURIs lists the exact redirect_uri values the client may use
	RedirectURIs []string `yaml:"redirect_uris" validate:"required,min=1,dive,uri"`
}

// IsPublic reports whether the client has no secret.
func (c *Client) IsPublic() bool {
	return c.SecretHash == ""
}

// User is a local account that can sign in on the login page or with the
// password grant.
type User struct {
	Username     string         `yaml:"username" validate:"required"`
	PasswordHash string         `yaml:"password_hash" validate:"required"`
	Claims       map[string]any `yaml:"claims"`
}

// Registry holds the registered clients and users and implements the
// provider hooks on top of them. It also remembers revoked refresh tokens
// and redeemed authorization codes until they expire.
type Registry struct {
	clients map[string]*Client
	users   map[string]*User
	logger  *slog.Logger

	mu      sync.Mutex
	spent   map[string]time.Time
	nowFunc func() time.Time
}

// NewRegistry validates clients and users and builds the registry.
func NewRegistry(clients []Client, users []User, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	validate := validator.New()
	r := &Registry{
		clients: make(map[string]*Client, len(clients)),
		users:   make(map[string]*User, len(users)),
		logger:  logger,
		spent:   make(map[string]time.Time),
		nowFunc: time.Now,
	}

	for i := range clients {
		c := clients[i]
		if err := validate.Struct(&c); err != nil {
			return nil, fmt.Errorf("invalid client %q: %w", c.ID, err)
		}
		if _, exists := r.clients[c.ID]; exists {
			return nil, fmt.Errorf("duplicate client %q", c.ID)
		}
		r.clients[c.ID] = &c
	}
	for i := range users {
		u := users[i]
		if err := validate.Struct(&u); err != nil {
			return nil, fmt.Errorf("invalid user %q: %w", u.Username, err)
		}
		if _, exists := r.users[u.Username]; exists {
			return nil, fmt.Errorf("duplicate user %q", u.Username)
		}
		r.users[u.Username] = &u
	}

	return r, nil
}

// SetClock replaces the time source used to expire remembered tokens.
func (r *Registry) SetClock(clock func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if clock == nil {
		clock = time.Now
	}
	r.nowFunc = clock
}

// Client returns the registered client with the given id.
func (r *Registry) Client(id string) (*Client, bool) {
	c, ok := r.clients[id]
	return c, ok
}

// Authenticate checks a username and password and returns the ticket to sign
// in with.
func (r *Registry) Authenticate(username, password string) (*ticket.Ticket, error) {
	hash := dummyHash
	user, ok := r.users[username]
	if ok {
		hash = user.PasswordHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if !ok || err != nil {
		return nil, ErrInvalidCredentials
	}
	return ticket.New(ticket.NewPrincipal(user.Username, user.Claims), ticket.NewProperties()), nil
}

// Provider returns the hooks enforcing the registry.
func (r *Registry) Provider() providers.Provider {
	return &providers.Funcs{
		ValidateAuthorization: r.validateAuthorization,
		ValidateToken:         r.validateClient,
		HandleToken:           r.handleToken,
		ValidateRevocation:    r.validateRevocation,
		HandleRevocation:      r.handleRevocation,
	}
}

func (r *Registry) validateAuthorization(_ context.Context, c *providers.ValidateAuthorizationRequestContext) error {
	client, ok := r.clients[c.Request.ClientID()]
	if !ok {
		c.Reject(server.ErrorCodeInvalidClient, "The specified 'client_id' is not registered.", "")
		return nil
	}

	redirectURI := c.Request.RedirectURI()
	switch {
	case redirectURI == "" && len(client.RedirectURIs) == 1:
		c.ValidateRedirectURI(client.RedirectURIs[0])
	case redirectURI == "":
		c.Reject(server.ErrorCodeInvalidRequest, "The mandatory 'redirect_uri' parameter is missing.", "")
	case slices.Contains(client.RedirectURIs, redirectURI):
		c.Validate()
	default:
		r.logger.Warn("Authorization request with an unregistered redirect_uri",
			"client_id", client.ID,
			"redirect_uri", redirectURI)
		c.Reject(server.ErrorCodeInvalidRequest, "The specified 'redirect_uri' is not registered for this client.", "")
	}
	return nil
}

// credentialValidation is the subset shared by the token and revocation
// validation contexts.
type credentialValidation interface {
	Validate()
	Skip()
	Reject(code, description, uri string)
}

// authenticateClient validates confidential clients, skips public ones and
// rejects unknown clients or bad secrets.
func (r *Registry) authenticateClient(request *message.Message, v credentialValidation) {
	clientID := request.ClientID()
	if clientID == "" {
		v.Skip()
		return
	}

	hash := dummyHash
	client, ok := r.clients[clientID]
	if ok && !client.IsPublic() {
		hash = client.SecretHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(request.ClientSecret()))

	switch {
	case !ok:
		v.Reject(server.ErrorCodeInvalidClient, "The specified client is unknown.", "")
	case client.IsPublic() && request.ClientSecret() != "":
		v.Reject(server.ErrorCodeInvalidClient, "Public clients must not send a client_secret.", "")
	case client.IsPublic():
		v.Skip()
	case err != nil:
		r.logger.Warn("Client authentication failed", "client_id", clientID)
		v.Reject(server.ErrorCodeInvalidClient, "The specified client credentials are invalid.", "")
	default:
		v.Validate()
	}
}

func (r *Registry) validateClient(_ context.Context, c *providers.ValidateTokenRequestContext) error {
	r.authenticateClient(c.Request, &c.Validation)
	return nil
}

func (r *Registry) validateRevocation(_ context.Context, c *providers.ValidateRevocationRequestContext) error {
	r.authenticateClient(c.Request, &c.Validation)
	return nil
}

func (r *Registry) handleToken(_ context.Context, c *providers.HandleTokenRequestContext) error {
	request := c.Request
	switch {
	case request.IsAuthorizationCodeGrantType():
		// Codes are single use
		if !r.spend(request.Code(), c.Ticket) {
			r.logger.Warn("Authorization code replayed",
				"client_id", request.ClientID(),
				"subject", c.Ticket.Principal.Subject())
			c.Reject(server.ErrorCodeInvalidGrant, "The specified authorization code has already been redeemed.", "")
		}

	case request.IsRefreshTokenGrantType():
		// Rotated refresh tokens must not be redeemed twice either
		if !r.spend(request.RefreshToken(), c.Ticket) {
			c.Reject(server.ErrorCodeInvalidGrant, "The specified refresh token is no longer valid.", "")
		}

	case request.IsPasswordGrantType():
		t, err := r.Authenticate(request.Username(), request.Password())
		if err != nil {
			c.Reject(server.ErrorCodeInvalidGrant, "The specified username or password is invalid.", "")
			return nil
		}
		c.SignIn(t)

	case request.IsClientCredentialsGrantType():
		c.SignIn(ticket.New(ticket.NewPrincipal(request.ClientID(), nil), ticket.NewProperties()))
	}
	return nil
}

func (r *Registry) handleRevocation(_ context.Context, c *providers.HandleRevocationRequestContext) error {
	if c.TokenType != message.TokenTypeHintRefreshToken {
		// Self-contained access tokens expire on their own
		return nil
	}
	r.spend(c.Request.Token(), c.Ticket)
	r.logger.Info("Refresh token revoked",
		"client_id", c.Request.ClientID(),
		"token_prefix", util.SafeTruncate(c.Request.Token(), 8))
	c.Revoke()
	return nil
}

// IsRevoked reports whether token was revoked or redeemed.
func (r *Registry) IsRevoked(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.spent[fingerprint(token)]
	return ok
}

// spend remembers token until the expiry of t. It returns false when the
// token was already spent.
func (r *Registry) spend(token string, t *ticket.Ticket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	for key, expiresAt := range r.spent {
		if !expiresAt.IsZero() && now.After(expiresAt) {
			delete(r.spent, key)
		}
	}

	key := fingerprint(token)
	if _, ok := r.spent[key]; ok {
		return false
	}
	var expiresAt time.Time
	if t != nil {
		expiresAt = t.Properties.ExpiresAt
	}
	r.spent[key] = expiresAt
	return true
}

func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashSecret returns the bcrypt hash to put into SecretHash or PasswordHash.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}
