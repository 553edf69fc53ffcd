package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/information-sharing-networks/incremental-auth/internal/badge"
	"github.com/information-sharing-networks/incremental-auth/internal/community"
)

const (
	// MsgNotAuthorized is recorded when the oracle reports the session does not hold the token
	MsgNotAuthorized = "User is not authorized"

	// MsgCheckFailed is recorded when the oracle could not complete the check
	MsgCheckFailed = "Unable to verify authorization"
)

var ErrUnknownCommunity = errors.New("unknown community")

// Outcome is the business result of an Authorize call
type Outcome int

const (
	OutcomeAuthorized Outcome = iota
	OutcomeDenied
	OutcomeLoginCancelled
	OutcomeLoginFailed
	OutcomeCheckFailed
)

var outcomeNames = []string{"authorized", "denied", "login_cancelled", "login_failed", "check_failed"}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

// CommunityStatus pairs a community with the badge currently shown for it
type CommunityStatus struct {
	Community community.Community
	Status    badge.Status
}

// Controller runs the authorization workflow for one session
type Controller struct {
	catalog *community.Catalog
	oracle  Oracle
	errors  ErrorMap
	logger  *slog.Logger
}

func NewController(catalog *community.Catalog, oracle Oracle, errMap ErrorMap, logger *slog.Logger) *Controller {
	return &Controller{
		catalog: catalog,
		oracle:  oracle,
		errors:  errMap,
		logger:  logger,
	}
}

// Authorize checks whether the session may access the community identified by communityID, starting the login flow first when there is no session.
//
// A denied check is a normal outcome and is recorded in the error map. It is never returned as an error.
// The returned error is non-nil for an unknown community, for login and oracle failures (for logging only - the outcome already reflects them) and for error map failures.
func (c *Controller) Authorize(ctx context.Context, communityID string) (Outcome, error) {
	com, ok := c.catalog.Lookup(communityID)
	if !ok {
		return OutcomeDenied, fmt.Errorf("%w: %s", ErrUnknownCommunity, communityID)
	}

	if !c.oracle.IsAuthenticated() {
		user, err := c.oracle.Login(ctx)
		if err != nil {
			return OutcomeLoginFailed, fmt.Errorf("login failed: %w", err)
		}
		if user == nil {
			c.logger.Debug("login cancelled by user",
				slog.String("component", "authz.Authorize"),
				slog.String("community_id", com.ID),
			)
			return OutcomeLoginCancelled, nil
		}
	}

	req := Requirements{
		ContractAddress: com.ID,
		MinTokenBalance: com.MinTokenBalance,
	}

	allowed, err := c.oracle.IsAuthorized(ctx, req)
	if err != nil {
		if setErr := c.errors.Set(ctx, com.ID, MsgCheckFailed); setErr != nil {
			return OutcomeCheckFailed, errors.Join(fmt.Errorf("authorization check failed: %w", err), setErr)
		}
		return OutcomeCheckFailed, fmt.Errorf("authorization check failed: %w", err)
	}

	if !allowed {
		if err := c.errors.Set(ctx, com.ID, MsgNotAuthorized); err != nil {
			return OutcomeDenied, fmt.Errorf("could not record denied authorization: %w", err)
		}
		return OutcomeDenied, nil
	}

	if err := c.errors.Delete(ctx, com.ID); err != nil {
		return OutcomeAuthorized, fmt.Errorf("could not clear authorization error: %w", err)
	}

	// gated content would be linked from here - the demo stays on the same page
	return OutcomeAuthorized, nil
}

// SyncSession clears all recorded errors when the oracle no longer has a user.
// Call it before reading statuses so that errors from an ended session are never shown in a new one.
func (c *Controller) SyncSession(ctx context.Context) error {
	if c.oracle.User() != nil {
		return nil
	}
	if err := c.errors.Reset(ctx); err != nil {
		return fmt.Errorf("could not reset authorization errors: %w", err)
	}
	return nil
}

// Logout ends the session and clears the error map
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.oracle.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return c.SyncSession(ctx)
}

// Statuses derives the badge for every community in catalog order
func (c *Controller) Statuses(ctx context.Context) ([]CommunityStatus, error) {
	errs, err := c.errors.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not read authorization errors: %w", err)
	}

	communities := c.catalog.All()
	statuses := make([]CommunityStatus, 0, len(communities))
	for _, com := range communities {
		statuses = append(statuses, CommunityStatus{
			Community: com,
			Status:    Derive(com, errs, c.oracle),
		})
	}
	return statuses, nil
}

// User returns the oracle's current user
func (c *Controller) User() *User {
	return c.oracle.User()
}

// Derive returns the badge for com.
//
// A current authorization always wins, so an error recorded before the user became authorized never hides it.
// Otherwise a non-empty error means the last check failed. Anything else is neutral.
func Derive(com community.Community, errs map[string]string, oracle AlreadyAuthorizer) badge.Status {
	req := Requirements{ContractAddress: com.ID, MinTokenBalance: com.MinTokenBalance}
	if oracle != nil && oracle.IsAlreadyAuthorized(req) {
		return badge.Authorized
	}
	if errs[com.ID] != "" {
		return badge.AccessDenied
	}
	return badge.TokenGated
}
