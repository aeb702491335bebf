// Package identity resolves Convoy accounts into the participant attributes
// stamped on conversations and messages.
//
// It owns the read side of the account store (accounts plus the driver and
// employer profiles that point at them) and the Resolver used by messaging.
// Account registration and authentication live elsewhere.
package identity
