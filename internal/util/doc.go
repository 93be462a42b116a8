// Package util provides small helpers shared by the engine packages.
//
// Key utilities:
//   - SafeTruncate: truncates identifiers before they are logged
//   - NormalizeURL: compares issuer and audience URLs ignoring trailing slashes
//   - ClassifyIP, IsLoopbackHostname, IsInternalHostname: host classification
//     used when validating redirect URIs and remote key set locations
//   - ContainsAll: subset checks over scope and type lists
package util
