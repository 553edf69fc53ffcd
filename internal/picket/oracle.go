package picket

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/information-sharing-networks/incremental-auth/internal/authz"
)

// StateStore persists the Picket session for a browser session.
// SetAuth replaces the session and drops any grants from a previous wallet.
type StateStore interface {
	SetAuth(ctx context.Context, sessionID string, state AuthState) error
	ClearAuth(ctx context.Context, sessionID string) error
	Grant(ctx context.Context, sessionID, contractAddress, balance string) error
}

// WalletCredentials are produced by the wallet after the user signs the Picket nonce
type WalletCredentials struct {
	WalletAddress string
	Signature     string
	Chain         string
}

// WalletPrompt runs the wallet side of the login flow. It returns nil credentials when the user cancelled.
type WalletPrompt func(ctx context.Context) (*WalletCredentials, error)

// NoPrompt is used where no wallet interaction is possible, e.g. when rendering a page. Login always reports a cancellation.
func NoPrompt(context.Context) (*WalletCredentials, error) {
	return nil, nil
}

// Oracle implements authz.Oracle on top of the Picket API for a single browser session.
//
// It starts from the state loaded with the session and writes every change through to the StateStore,
// so later requests for the same browser session see the new state.
type Oracle struct {
	client    *Client
	store     StateStore
	sessionID string
	prompt    WalletPrompt
	now       func() time.Time

	mu     sync.Mutex
	auth   *AuthState
	grants map[string]string
}

var _ authz.Oracle = (*Oracle)(nil)

// NewOracle binds the Picket client to the session identified by sessionID.
// auth and grants are the values currently held in the session store (either may be nil).
func NewOracle(client *Client, store StateStore, sessionID string, auth *AuthState, grants map[string]string, prompt WalletPrompt) *Oracle {
	if prompt == nil {
		prompt = NoPrompt
	}
	o := &Oracle{
		client:    client,
		store:     store,
		sessionID: sessionID,
		prompt:    prompt,
		now:       time.Now,
		grants:    maps.Clone(grants),
	}
	if o.grants == nil {
		o.grants = make(map[string]string)
	}
	if auth != nil {
		a := *auth
		o.auth = &a
	}
	return o
}

// IsAuthenticated is true while the session holds an unexpired access token
func (o *Oracle) IsAuthenticated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.authenticatedLocked()
}

func (o *Oracle) authenticatedLocked() bool {
	return o.auth != nil && CheckToken(o.auth.AccessToken, o.now()) == TokenValid
}

// User returns the wallet for the current session, or nil when the session has ended
func (o *Oracle) User() *authz.User {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.authenticatedLocked() {
		return nil
	}
	u := o.auth.User
	return &u
}

// AccessToken returns the current access token ("" when not authenticated)
func (o *Oracle) AccessToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.authenticatedLocked() {
		return ""
	}
	return o.auth.AccessToken
}

// Login prompts the wallet for signed credentials and exchanges them for a Picket session
func (o *Oracle) Login(ctx context.Context) (*authz.User, error) {
	creds, err := o.prompt(ctx)
	if err != nil {
		return nil, fmt.Errorf("wallet prompt failed: %w", err)
	}
	if creds == nil || creds.Signature == "" {
		return nil, nil
	}

	state, err := o.client.Auth(ctx, AuthRequest{
		WalletAddress: creds.WalletAddress,
		Signature:     creds.Signature,
		Chain:         creds.Chain,
	})
	if err != nil {
		return nil, err
	}

	if err := o.store.SetAuth(ctx, o.sessionID, *state); err != nil {
		return nil, fmt.Errorf("could not save session: %w", err)
	}

	o.mu.Lock()
	o.auth = state
	o.grants = make(map[string]string)
	o.mu.Unlock()

	u := state.User
	return &u, nil
}

// Logout drops the Picket session. Picket access tokens are bearer tokens, so ending the session only requires forgetting it.
func (o *Oracle) Logout(ctx context.Context) error {
	if err := o.store.ClearAuth(ctx, o.sessionID); err != nil {
		return fmt.Errorf("could not clear session: %w", err)
	}

	o.mu.Lock()
	o.auth = nil
	o.grants = make(map[string]string)
	o.mu.Unlock()
	return nil
}

// IsAuthorized asks Picket whether the session's wallet meets req. A successful check is cached as a grant for IsAlreadyAuthorized.
func (o *Oracle) IsAuthorized(ctx context.Context, req authz.Requirements) (bool, error) {
	token := o.AccessToken()
	if token == "" {
		return false, ErrSessionEnded
	}

	contract := strings.ToLower(req.ContractAddress)

	result, allowed, err := o.client.Authz(ctx, token, req)
	if err != nil {
		if errors.Is(err, ErrSessionEnded) {
			if clearErr := o.Logout(ctx); clearErr != nil {
				return false, fmt.Errorf("%w (and %v)", err, clearErr)
			}
		}
		return false, err
	}
	if !allowed {
		return false, nil
	}

	// Picket has confirmed the requirement, so never cache less than the minimum
	required := minBalance(req.MinTokenBalance)
	balance := balanceFor(result.User.TokenBalances, contract)
	if have, ok := new(big.Int).SetString(balance, 10); !ok || have.Cmp(required) < 0 {
		balance = required.String()
	}

	if err := o.store.Grant(ctx, o.sessionID, contract, balance); err != nil {
		return true, fmt.Errorf("could not save grant: %w", err)
	}

	o.mu.Lock()
	o.grants[contract] = balance
	o.mu.Unlock()

	return true, nil
}

// IsAlreadyAuthorized checks the cached grants without calling Picket
func (o *Oracle) IsAlreadyAuthorized(req authz.Requirements) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.authenticatedLocked() {
		return false
	}

	balance, ok := o.grants[strings.ToLower(req.ContractAddress)]
	if !ok {
		return false
	}

	have, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return false
	}
	return have.Cmp(minBalance(req.MinTokenBalance)) >= 0
}

// minBalance parses a requirement's minimum balance, defaulting to 1
func minBalance(s string) *big.Int {
	if s != "" {
		if v, ok := new(big.Int).SetString(s, 10); ok && v.Sign() > 0 {
			return v
		}
	}
	return big.NewInt(1)
}

func balanceFor(balances map[string]string, contract string) string {
	for addr, bal := range balances {
		if strings.EqualFold(addr, contract) {
			return bal
		}
	}
	return ""
}
