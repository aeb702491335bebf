// Package auth verifies bearer access tokens for the Convoy HTTP API.
//
// Tokens are PASETO v4.public, issued by the marketplace's identity service.
// This package only holds the public key: it verifies, it never issues.
package auth
