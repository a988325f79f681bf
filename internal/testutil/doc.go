// Package testutil provides test fixtures, assertions, and a controllable clock
// for the oidc-engine packages. It must only depend on leaf packages (message,
// ticket) so that any package's tests can import it.
package testutil
