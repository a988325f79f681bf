// Package server implements the OpenID Connect protocol engine.
//
// The engine validates authorization, token and revocation requests, keeps
// in-flight authorization requests in a shared PendingRequestStore, issues
// codes and tokens through a TokenCodec and decides how every response is
// delivered (query, fragment, form_post or a native page). It never touches
// an http.ResponseWriter: each entry point returns an Outcome that a
// transport adapter writes.
//
// Extension points are provided by a providers.Provider, whose hooks can
// validate, reject or skip requests and can take over response handling.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(myProvider, myCodec, store, &server.Config{
//	    Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	outcome, err := srv.Authorize(ctx, &server.Request{
//	    Method: http.MethodGet,
//	    Query:  r.URL.Query(),
//	})
//
// Errors returned by the entry points are failures of the server or of the
// embedding application (see ErrServerMisconfigured). Protocol errors caused
// by the client are part of the Outcome.
package server
