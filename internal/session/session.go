// Package session keeps per-browser state: the Picket session, the cached ownership grants and the per-community error messages.
//
// The state lives server side. The browser only carries the session id cookie.
package session

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/information-sharing-networks/incremental-auth/internal/authz"
	"github.com/information-sharing-networks/incremental-auth/internal/picket"
)

var ErrNotFound = errors.New("session not found")

// Record is a snapshot of one browser session
type Record struct {
	ID        string
	Auth      *picket.AuthState
	Grants    map[string]string // lower case contract address -> token balance
	Errors    map[string]string // community id -> last error message
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Clone returns a deep copy so callers can't modify stored state
func (r *Record) Clone() *Record {
	c := *r
	if r.Auth != nil {
		a := *r.Auth
		c.Auth = &a
	}
	c.Grants = maps.Clone(r.Grants)
	c.Errors = maps.Clone(r.Errors)
	if c.Grants == nil {
		c.Grants = make(map[string]string)
	}
	if c.Errors == nil {
		c.Errors = make(map[string]string)
	}
	return &c
}

// Store persists session records.
//
// Grant, SetError and DeleteError touch a single key only, so two requests checking different communities for the same session never lose each other's writes.
// All methods except Create return ErrNotFound for an unknown or expired session.
type Store interface {
	Create(ctx context.Context) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)

	// SetAuth stores a new Picket session and drops the grants and error messages of any previous wallet
	SetAuth(ctx context.Context, id string, state picket.AuthState) error

	// ClearAuth removes the Picket session with its grants and error messages
	ClearAuth(ctx context.Context, id string) error

	Grant(ctx context.Context, id, contractAddress, balance string) error
	SetError(ctx context.Context, id, communityID, message string) error
	DeleteError(ctx context.Context, id, communityID string) error
	ResetErrors(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

var _ picket.StateStore = (Store)(nil)

func newID() string {
	return uuid.NewString()
}

// validID rejects cookie values that could not have been issued by this service
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// errorMap adapts a Store to authz.ErrorMap for one session
type errorMap struct {
	store Store
	id    string
}

// ErrorMap returns the error map of session id backed by store
func ErrorMap(store Store, id string) authz.ErrorMap {
	return &errorMap{store: store, id: id}
}

func (e *errorMap) Set(ctx context.Context, communityID, message string) error {
	return e.store.SetError(ctx, e.id, communityID, message)
}

func (e *errorMap) Delete(ctx context.Context, communityID string) error {
	return e.store.DeleteError(ctx, e.id, communityID)
}

func (e *errorMap) Reset(ctx context.Context) error {
	return e.store.ResetErrors(ctx, e.id)
}

func (e *errorMap) Snapshot(ctx context.Context) (map[string]string, error) {
	rec, err := e.store.Get(ctx, e.id)
	if err != nil {
		return nil, err
	}
	return rec.Errors, nil
}
