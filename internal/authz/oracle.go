// Package authz implements the incremental authorization workflow.
//
// The user connects a wallet once and then proves token ownership for each community separately.
// Sessions, signature checks and on-chain lookups all belong to the Oracle. The Controller only
// tracks the outcome of the most recent check for each community and derives the badge shown
// for it.
package authz

import "context"

// Requirements describe what the session must hold to access a community
type Requirements struct {
	ContractAddress string `json:"contractAddress"`
	MinTokenBalance string `json:"minTokenBalance,omitempty"`
}

// User is the authenticated wallet
type User struct {
	WalletAddress  string `json:"walletAddress"`
	DisplayAddress string `json:"displayAddress"`
	Chain          string `json:"chain,omitempty"`
}

// Oracle is the session and authorization provider for one browser session.
type Oracle interface {
	// IsAuthenticated reports whether a live session exists
	IsAuthenticated() bool

	// Login runs the wallet login flow. A nil user with a nil error means the user cancelled.
	Login(ctx context.Context) (*User, error)

	// Logout ends the session
	Logout(ctx context.Context) error

	// IsAuthorized is the authoritative ownership check and may call out to the network
	IsAuthorized(ctx context.Context, req Requirements) (bool, error)

	// IsAlreadyAuthorized reports a cached result. It never blocks on the network.
	IsAlreadyAuthorized(req Requirements) bool

	// User returns the current user, or nil when there is no session
	User() *User
}

// AlreadyAuthorizer is the part of the Oracle used when deriving badges
type AlreadyAuthorizer interface {
	IsAlreadyAuthorized(req Requirements) bool
}
