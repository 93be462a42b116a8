// Package authorization holds the Authorization aggregate of one browser
// flow and the ordered parameter checkers validating an authorization
// request.
//
// The ResponseType and ResponseMode capability interfaces live here as well;
// the responsetype and responsemode packages provide the implementations and
// the name-keyed registries the checkers resolve them from.
package authorization
