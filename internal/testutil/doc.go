// Package testutil provides fixtures shared by the engine tests: registered
// clients, signing keys, signed and encrypted client assertions, PKCE pairs,
// form-encoded requests and a controllable clock.
package testutil
