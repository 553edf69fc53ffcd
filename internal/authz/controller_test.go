package authz

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/information-sharing-networks/incremental-auth/internal/badge"
	"github.com/information-sharing-networks/incremental-auth/internal/community"
	"github.com/information-sharing-networks/incremental-auth/internal/logger"
)

const (
	ensID     = "0x57f1887a8bf19b14fc0df6fd9b2acc9af147ea85"
	doodlesID = "0x8a90cab2b38dba80c64b7734e58ee1db38b8992e"
	byacID    = "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d"
)

// fakeOracle is a scriptable Oracle. allowed decides IsAuthorized results per contract, and
// successful checks are remembered so IsAlreadyAuthorized behaves like the cached check.
type fakeOracle struct {
	mu sync.Mutex

	user        *User
	loginResult *User
	loginErr    error
	allowed     map[string]bool
	checkErr    error
	granted     map[string]bool

	loginCalls int
	checkCalls int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		allowed: make(map[string]bool),
		granted: make(map[string]bool),
	}
}

func (f *fakeOracle) IsAuthenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user != nil
}

func (f *fakeOracle) Login(ctx context.Context) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	f.user = f.loginResult
	return f.loginResult, nil
}

func (f *fakeOracle) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = nil
	f.granted = make(map[string]bool)
	return nil
}

func (f *fakeOracle) IsAuthorized(ctx context.Context, req Requirements) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	if f.checkErr != nil {
		return false, f.checkErr
	}
	ok := f.allowed[req.ContractAddress]
	if ok {
		f.granted[req.ContractAddress] = true
	}
	return ok, nil
}

func (f *fakeOracle) IsAlreadyAuthorized(req Requirements) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user != nil && f.granted[req.ContractAddress]
}

func (f *fakeOracle) User() *User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

var testUser = &User{WalletAddress: "0x1111111111111111111111111111111111111111", DisplayAddress: "0x1111...1111"}

func setup(t *testing.T) (*Controller, *fakeOracle, *MemoryErrorMap) {
	t.Helper()
	catalog, err := community.Default()
	if err != nil {
		t.Fatalf("community.Default() error = %v", err)
	}
	oracle := newFakeOracle()
	errMap := NewMemoryErrorMap()
	return NewController(catalog, oracle, errMap, logger.NewDiscardLogger()), oracle, errMap
}

func statusOf(t *testing.T, c *Controller, id string) badge.Status {
	t.Helper()
	statuses, err := c.Statuses(context.Background())
	if err != nil {
		t.Fatalf("Statuses() error = %v", err)
	}
	for _, s := range statuses {
		if s.Community.ID == id {
			return s.Status
		}
	}
	t.Fatalf("community %s not in statuses", id)
	return badge.TokenGated
}

func snapshot(t *testing.T, m ErrorMap) map[string]string {
	t.Helper()
	s, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return s
}

func TestAllCommunitiesStartTokenGated(t *testing.T) {
	c, _, _ := setup(t)

	statuses, err := c.Statuses(context.Background())
	if err != nil {
		t.Fatalf("Statuses() error = %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("got %d statuses, want 3", len(statuses))
	}
	for _, s := range statuses {
		if s.Status != badge.TokenGated {
			t.Errorf("%s status = %v, want TokenGated", s.Community.Name, s.Status)
		}
	}
}

func TestAuthorizeWithoutSessionLogsInAndRecordsDenial(t *testing.T) {
	c, oracle, errMap := setup(t)
	oracle.loginResult = testUser

	outcome, err := c.Authorize(context.Background(), ensID)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if outcome != OutcomeDenied {
		t.Errorf("outcome = %v, want denied", outcome)
	}
	if oracle.loginCalls != 1 {
		t.Errorf("login called %d times, want 1", oracle.loginCalls)
	}
	if got := snapshot(t, errMap)[ensID]; got != MsgNotAuthorized {
		t.Errorf("error for ENS = %q, want %q", got, MsgNotAuthorized)
	}
	if got := statusOf(t, c, ensID); got != badge.AccessDenied {
		t.Errorf("ENS badge = %v, want AccessDenied", got)
	}
	if got := statusOf(t, c, doodlesID); got != badge.TokenGated {
		t.Errorf("Doodles badge = %v, want TokenGated", got)
	}
}

func TestAuthorizeWithSessionClearsErrorOnSuccess(t *testing.T) {
	c, oracle, errMap := setup(t)
	oracle.user = testUser
	oracle.allowed[doodlesID] = true
	_ = errMap.Set(context.Background(), doodlesID, MsgNotAuthorized)

	outcome, err := c.Authorize(context.Background(), doodlesID)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if outcome != OutcomeAuthorized {
		t.Errorf("outcome = %v, want authorized", outcome)
	}
	if oracle.loginCalls != 0 {
		t.Errorf("login called %d times with an existing session, want 0", oracle.loginCalls)
	}
	if _, exists := snapshot(t, errMap)[doodlesID]; exists {
		t.Error("error for Doodles should be cleared after successful authorization")
	}
	if got := statusOf(t, c, doodlesID); got != badge.Authorized {
		t.Errorf("Doodles badge = %v, want Authorized", got)
	}
}

func TestLogoutClearsErrors(t *testing.T) {
	c, oracle, errMap := setup(t)
	oracle.user = testUser

	if _, err := c.Authorize(context.Background(), byacID); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if got := statusOf(t, c, byacID); got != badge.AccessDenied {
		t.Fatalf("BYAC badge = %v, want AccessDenied before logout", got)
	}

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if got := snapshot(t, errMap); len(got) != 0 {
		t.Errorf("error map after logout = %v, want empty", got)
	}
	if got := statusOf(t, c, byacID); got != badge.TokenGated {
		t.Errorf("BYAC badge = %v, want TokenGated after logout", got)
	}
}

func TestSyncSessionClearsErrorsWhenSessionEnds(t *testing.T) {
	c, oracle, errMap := setup(t)
	oracle.user = testUser
	ctx := context.Background()
	_ = errMap.Set(ctx, ensID, MsgNotAuthorized)
	_ = errMap.Set(ctx, byacID, MsgNotAuthorized)

	if err := c.SyncSession(ctx); err != nil {
		t.Fatalf("SyncSession() error = %v", err)
	}
	if got := snapshot(t, errMap); len(got) != 2 {
		t.Fatalf("SyncSession() with a live session changed errors: %v", got)
	}

	// session ended outside of Logout, e.g. the token expired
	oracle.user = nil

	if err := c.SyncSession(ctx); err != nil {
		t.Fatalf("SyncSession() error = %v", err)
	}
	if got := snapshot(t, errMap); len(got) != 0 {
		t.Errorf("errors after session ended = %v, want empty", got)
	}
}

func TestCancelledLoginLeavesStateUntouched(t *testing.T) {
	c, oracle, errMap := setup(t)
	ctx := context.Background()
	_ = errMap.Set(ctx, byacID, MsgNotAuthorized)
	oracle.loginResult = nil

	outcome, err := c.Authorize(ctx, ensID)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if outcome != OutcomeLoginCancelled {
		t.Errorf("outcome = %v, want login_cancelled", outcome)
	}
	if oracle.checkCalls != 0 {
		t.Errorf("IsAuthorized called %d times after cancelled login, want 0", oracle.checkCalls)
	}

	got := snapshot(t, errMap)
	if len(got) != 1 || got[byacID] != MsgNotAuthorized {
		t.Errorf("error map = %v, want unchanged", got)
	}
	if got := statusOf(t, c, ensID); got != badge.TokenGated {
		t.Errorf("ENS badge = %v, want TokenGated", got)
	}
}

func TestFailedLoginLeavesStateUntouched(t *testing.T) {
	c, oracle, errMap := setup(t)
	oracle.loginErr = errors.New("signature rejected")

	outcome, err := c.Authorize(context.Background(), ensID)
	if err == nil {
		t.Fatal("Authorize() expected login error for logging")
	}
	if outcome != OutcomeLoginFailed {
		t.Errorf("outcome = %v, want login_failed", outcome)
	}
	if got := snapshot(t, errMap); len(got) != 0 {
		t.Errorf("error map = %v, want empty", got)
	}
}

func TestCheckFailureIsRecordedAsDenied(t *testing.T) {
	c, oracle, errMap := setup(t)
	oracle.user = testUser
	oracle.checkErr = errors.New("picket unavailable")

	outcome, err := c.Authorize(context.Background(), ensID)
	if err == nil {
		t.Fatal("Authorize() expected the oracle error to be returned for logging")
	}
	if outcome != OutcomeCheckFailed {
		t.Errorf("outcome = %v, want check_failed", outcome)
	}
	if got := snapshot(t, errMap)[ensID]; got != MsgCheckFailed {
		t.Errorf("error for ENS = %q, want %q", got, MsgCheckFailed)
	}
	if got := statusOf(t, c, ensID); got != badge.AccessDenied {
		t.Errorf("ENS badge = %v, want AccessDenied", got)
	}
}

func TestAuthorizeUnknownCommunity(t *testing.T) {
	c, oracle, errMap := setup(t)
	oracle.user = testUser

	_, err := c.Authorize(context.Background(), "0x0000000000000000000000000000000000000001")
	if !errors.Is(err, ErrUnknownCommunity) {
		t.Errorf("Authorize() error = %v, want ErrUnknownCommunity", err)
	}
	if oracle.checkCalls != 0 {
		t.Error("oracle should not be called for an unknown community")
	}
	if got := snapshot(t, errMap); len(got) != 0 {
		t.Errorf("error map = %v, want empty", got)
	}
}

func TestAuthorizeIsIdempotent(t *testing.T) {
	for _, allowed := range []bool{true, false} {
		t.Run(map[bool]string{true: "allowed", false: "denied"}[allowed], func(t *testing.T) {
			once, onceOracle, onceErrs := setup(t)
			onceOracle.user = testUser
			onceOracle.allowed[ensID] = allowed

			twice, twiceOracle, twiceErrs := setup(t)
			twiceOracle.user = testUser
			twiceOracle.allowed[ensID] = allowed

			ctx := context.Background()
			if _, err := once.Authorize(ctx, ensID); err != nil {
				t.Fatal(err)
			}
			for range 2 {
				if _, err := twice.Authorize(ctx, ensID); err != nil {
					t.Fatal(err)
				}
			}

			onceEntry, onceExists := snapshot(t, onceErrs)[ensID]
			twiceEntry, twiceExists := snapshot(t, twiceErrs)[ensID]
			if onceEntry != twiceEntry || onceExists != twiceExists {
				t.Errorf("one call left (%q, %v), two calls left (%q, %v)", onceEntry, onceExists, twiceEntry, twiceExists)
			}
		})
	}
}

func TestConcurrentAuthorizeForDifferentCommunities(t *testing.T) {
	c, oracle, errMap := setup(t)
	oracle.user = testUser
	oracle.allowed[doodlesID] = true

	var wg sync.WaitGroup
	for _, id := range []string{ensID, doodlesID, byacID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := c.Authorize(context.Background(), id); err != nil {
				t.Errorf("Authorize(%s) error = %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	got := snapshot(t, errMap)
	if got[ensID] != MsgNotAuthorized || got[byacID] != MsgNotAuthorized {
		t.Errorf("denied communities missing from error map: %v", got)
	}
	if _, exists := got[doodlesID]; exists {
		t.Errorf("authorized community should have no error: %v", got)
	}
}

func TestDeriveAuthorizedTakesPrecedence(t *testing.T) {
	com := community.Community{ID: ensID}
	oracle := newFakeOracle()
	oracle.user = testUser
	oracle.granted[ensID] = true

	errs := map[string]string{ensID: MsgNotAuthorized}

	if got := Derive(com, errs, oracle); got != badge.Authorized {
		t.Errorf("Derive() = %v, want Authorized even with a stored error", got)
	}
}

func TestDerive(t *testing.T) {
	com := community.Community{ID: byacID}

	tests := []struct {
		name    string
		errs    map[string]string
		granted bool
		want    badge.Status
	}{
		{"no error no grant", nil, false, badge.TokenGated},
		{"empty error string", map[string]string{byacID: ""}, false, badge.TokenGated},
		{"error for another community", map[string]string{ensID: MsgNotAuthorized}, false, badge.TokenGated},
		{"error recorded", map[string]string{byacID: MsgNotAuthorized}, false, badge.AccessDenied},
		{"granted", nil, true, badge.Authorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := newFakeOracle()
			oracle.user = testUser
			oracle.granted[byacID] = tt.granted

			if got := Derive(com, tt.errs, oracle); got != tt.want {
				t.Errorf("Derive() = %v, want %v", got, tt.want)
			}
		})
	}
}
