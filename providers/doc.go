// Package providers defines the extension hooks of the protocol engine.
//
// The engine calls a Provider at nine fixed points: validate, handle and apply
// for each of the authorization, token and revocation endpoints. Each hook
// receives a mutable context and signals its outcome through it:
//
//   - validate contexts: Validate, Reject(code, description, uri) or Skip
//   - handle and apply contexts: HandleResponse, SkipDefault or Reject
//
// Embed Base to implement only the hooks you need, or use Funcs to wire plain
// functions. A hook that returns an error aborts the request with a generic
// server_error.
//
// Example usage:
//
//	provider := &providers.Funcs{
//	    ValidateAuthorization: func(ctx context.Context, c *providers.ValidateAuthorizationRequestContext) error {
//	        client, ok := registry.Lookup(c.Request.ClientID())
//	        if !ok {
//	            c.Reject("invalid_client", "unknown client", "")
//	            return nil
//	        }
//	        if !client.AllowsRedirectURI(c.RedirectURI) {
//	            c.Reject("invalid_client", "redirect_uri is not registered", "")
//	            return nil
//	        }
//	        c.Validate()
//	        return nil
//	    },
//	}
//
// Implementations are provided in subpackages:
//   - providers/mock: recording mock provider for testing
package providers
