package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/information-sharing-networks/incremental-auth/internal/community"
	"github.com/information-sharing-networks/incremental-auth/internal/config"
	"github.com/information-sharing-networks/incremental-auth/internal/picket"
	"github.com/information-sharing-networks/incremental-auth/internal/session"
)

const (
	testWallet = "0x1111111111111111111111111111111111111111"
	ensID      = "0x57f1887a8bf19b14fc0df6fd9b2acc9af147ea85"
	doodlesID  = "0x8a90cab2b38dba80c64b7734e58ee1db38b8992e"
)

// fakePicket is a stand in for the hosted Picket API. The wallet holds the contracts in holdings.
type fakePicket struct {
	token       string
	holdings    map[string]bool
	authzStatus atomic.Int32 // when non zero, /auth/authz always responds with this status
	authzCalls  atomic.Int32
}

func newFakePicket(t *testing.T, holdings ...string) (*fakePicket, *httptest.Server) {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   testWallet,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("could not sign token: %v", err)
	}

	fp := &fakePicket{token: token, holdings: make(map[string]bool)}
	for _, h := range holdings {
		fp.holdings[h] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/nonce", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"nonce": "nonce-123", "statement": "Sign in to the demo"})
	})
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		var req picket.AuthRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Signature != "0xsig" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "invalid signature"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accessToken": fp.token,
			"user":        map[string]any{"walletAddress": req.WalletAddress, "displayAddress": req.WalletAddress},
		})
	})
	mux.HandleFunc("/auth/authz", func(w http.ResponseWriter, r *http.Request) {
		fp.authzCalls.Add(1)
		if status := fp.authzStatus.Load(); status != 0 {
			writeJSON(w, int(status), map[string]string{"msg": "forced failure"})
			return
		}
		var req struct {
			AccessToken  string `json:"accessToken"`
			Requirements struct {
				ContractAddress string `json:"contractAddress"`
			} `json:"requirements"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.AccessToken != fp.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid token"})
			return
		}
		if !fp.holdings[req.Requirements.ContractAddress] {
			writeJSON(w, http.StatusForbidden, map[string]string{"msg": "requirements not met"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accessToken": fp.token,
			"user":        map[string]any{"walletAddress": testWallet, "tokenBalances": map[string]string{req.Requirements.ContractAddress: "1"}},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return fp, server
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testApp struct {
	router http.Handler
	store  *session.MemoryStore
	cookie *http.Cookie
}

func newTestApp(t *testing.T, picketURL string) *testApp {
	t.Helper()

	catalog, err := community.Default()
	if err != nil {
		t.Fatalf("community.Default() error = %v", err)
	}
	store := session.NewMemoryStore(time.Hour)

	h := &HandlerService{
		Catalog: catalog,
		Picket:  picket.NewClient(picketURL, "pk_test", picket.WithRetry(0, time.Millisecond)),
		Store:   store,
	}

	router := chi.NewRouter()
	router.Get("/health/live", h.HandleLiveness)
	router.Get("/version", h.HandleVersion)
	router.Group(func(r chi.Router) {
		r.Use(session.Middleware(store, false))
		r.Get("/", h.HandleHome)
		r.Post("/login", h.HandleLogin)
		r.Post("/logout", h.HandleLogout)
		r.Post("/communities/{communityID}/authorize", h.HandleAuthorize)
	})
	router.Post("/api/auth/nonce", h.HandleNonce)

	return &testApp{router: router, store: store}
}

// do sends a request as the same browser, keeping the session cookie between calls
func (a *testApp) do(t *testing.T, method, path string, form url.Values, htmx bool) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	if a.cookie != nil {
		req.AddCookie(a.cookie)
	}

	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)

	for _, c := range rr.Result().Cookies() {
		if c.Name == config.SessionCookieName {
			a.cookie = c
		}
	}
	return rr
}

func signedIn() url.Values {
	return url.Values{"wallet_address": {testWallet}, "signature": {"0xsig"}, "chain": {"ethereum"}}
}

// badgeFor returns the data-badge value rendered for the community card with id
func badgeFor(t *testing.T, body, id string) string {
	t.Helper()
	start := strings.Index(body, `data-community="`+id+`"`)
	if start < 0 {
		t.Fatalf("card for %s not rendered", id)
	}
	rest := body[start:]
	const marker = `data-badge="`
	i := strings.Index(rest, marker)
	if i < 0 {
		t.Fatalf("no badge for %s", id)
	}
	rest = rest[i+len(marker):]
	return rest[:strings.Index(rest, `"`)]
}

func TestHomeStartsSession(t *testing.T) {
	_, server := newFakePicket(t)
	app := newTestApp(t, server.URL)

	rr := app.do(t, http.MethodGet, "/", nil, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET / status = %d", rr.Code)
	}
	if app.cookie == nil {
		t.Fatal("session cookie not set")
	}

	body := rr.Body.String()
	if !strings.Contains(body, "Login With Your Wallet") {
		t.Error("logged out page should show the login button")
	}
	if n := strings.Count(body, `data-badge="token-gated"`); n != 3 {
		t.Errorf("got %d token gated badges, want 3", n)
	}
}

func TestAuthorizeFlow(t *testing.T) {
	fp, server := newFakePicket(t, ensID)
	app := newTestApp(t, server.URL)
	app.do(t, http.MethodGet, "/", nil, false)

	// login cancelled: nothing changes and Picket is never asked about ownership
	rr := app.do(t, http.MethodPost, "/communities/"+ensID+"/authorize", url.Values{}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("authorize status = %d", rr.Code)
	}
	body := rr.Body.String()
	if badgeFor(t, body, ensID) != "token-gated" {
		t.Errorf("cancelled login: ENS badge = %s, want token-gated", badgeFor(t, body, ensID))
	}
	if !strings.Contains(body, noticeLoginCancelled) {
		t.Error("cancelled login notice missing")
	}
	if fp.authzCalls.Load() != 0 {
		t.Error("authz must not be called when login is cancelled")
	}

	// first click logs in and authorizes the held token
	rr = app.do(t, http.MethodPost, "/communities/"+ensID+"/authorize", signedIn(), true)
	body = rr.Body.String()
	if got := badgeFor(t, body, ensID); got != "authorized" {
		t.Errorf("ENS badge = %s, want authorized", got)
	}
	if !strings.Contains(body, `data-authenticated="true"`) || !strings.Contains(body, "Logout to Switch Wallets") {
		t.Error("out of band header should show the connected wallet")
	}

	// a token the wallet does not hold is denied without affecting ENS
	rr = app.do(t, http.MethodPost, "/communities/"+doodlesID+"/authorize", url.Values{}, true)
	body = rr.Body.String()
	if got := badgeFor(t, body, doodlesID); got != "access-denied" {
		t.Errorf("Doodles badge = %s, want access-denied", got)
	}
	if got := badgeFor(t, body, ensID); got != "authorized" {
		t.Errorf("ENS badge after Doodles check = %s, want authorized", got)
	}

	// a full page load shows the same state
	body = app.do(t, http.MethodGet, "/", nil, false).Body.String()
	if badgeFor(t, body, ensID) != "authorized" || badgeFor(t, body, doodlesID) != "access-denied" {
		t.Error("page reload lost the session state")
	}

	// logout clears everything
	rr = app.do(t, http.MethodPost, "/logout", url.Values{}, true)
	body = rr.Body.String()
	if n := strings.Count(body, `data-badge="token-gated"`); n != 3 {
		t.Errorf("after logout got %d token gated badges, want 3", n)
	}
	if !strings.Contains(body, "Login With Your Wallet") {
		t.Error("after logout the header should offer login again")
	}
}

func TestLoginAsAnotherWalletStartsClean(t *testing.T) {
	_, server := newFakePicket(t)
	app := newTestApp(t, server.URL)

	app.do(t, http.MethodPost, "/login", signedIn(), true)
	body := app.do(t, http.MethodPost, "/communities/"+ensID+"/authorize", url.Values{}, true).Body.String()
	if got := badgeFor(t, body, ensID); got != "access-denied" {
		t.Fatalf("ENS badge = %s, want access-denied", got)
	}

	// a second tab still showing the login button signs in with a different wallet, without logging out first
	other := url.Values{"wallet_address": {"0x2222222222222222222222222222222222222222"}, "signature": {"0xsig"}, "chain": {"ethereum"}}
	body = app.do(t, http.MethodPost, "/login", other, true).Body.String()
	if got := badgeFor(t, body, ensID); got != "token-gated" {
		t.Errorf("after login as another wallet: ENS badge = %s, want token-gated", got)
	}
	if !strings.Contains(body, "0x2222...2222") {
		t.Error("header should show the new wallet")
	}

	body = app.do(t, http.MethodGet, "/", nil, false).Body.String()
	if n := strings.Count(body, `data-badge="token-gated"`); n != 3 {
		t.Errorf("page reload: got %d token gated badges, want 3", n)
	}
}

func TestAuthorizeCheckFailure(t *testing.T) {
	fp, server := newFakePicket(t, ensID)
	app := newTestApp(t, server.URL)

	app.do(t, http.MethodPost, "/login", signedIn(), true)

	fp.authzStatus.Store(http.StatusInternalServerError)
	body := app.do(t, http.MethodPost, "/communities/"+ensID+"/authorize", url.Values{}, true).Body.String()

	if got := badgeFor(t, body, ensID); got != "access-denied" {
		t.Errorf("ENS badge = %s, want access-denied after a failed check", got)
	}
	if !strings.Contains(body, noticeCheckFailed) {
		t.Error("check failed notice missing")
	}

	// once Picket recovers a retry succeeds
	fp.authzStatus.Store(0)
	body = app.do(t, http.MethodPost, "/communities/"+ensID+"/authorize", url.Values{}, true).Body.String()
	if got := badgeFor(t, body, ensID); got != "authorized" {
		t.Errorf("ENS badge = %s, want authorized after retry", got)
	}
}

func TestAuthorizeSessionRejected(t *testing.T) {
	fp, server := newFakePicket(t, ensID)
	app := newTestApp(t, server.URL)

	app.do(t, http.MethodPost, "/login", signedIn(), true)

	fp.authzStatus.Store(http.StatusUnauthorized)
	body := app.do(t, http.MethodPost, "/communities/"+ensID+"/authorize", url.Values{}, true).Body.String()

	if !strings.Contains(body, noticeSessionEnded) {
		t.Error("session ended notice missing")
	}
	if !strings.Contains(body, "Login With Your Wallet") {
		t.Error("header should offer login once Picket rejects the session")
	}
	if got := badgeFor(t, body, ensID); got != "token-gated" {
		t.Errorf("ENS badge = %s, want token-gated once the session ended", got)
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		wantLogin  bool
		wantNotice string
	}{
		{"signed", signedIn(), true, ""},
		{"cancelled", url.Values{}, false, noticeLoginCancelled},
		{"bad signature", url.Values{"wallet_address": {testWallet}, "signature": {"0xbad"}}, false, "invalid signature"},
		{"bad address", url.Values{"wallet_address": {"not-an-address"}, "signature": {"0xsig"}}, false, noticeSessionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, server := newFakePicket(t)
			app := newTestApp(t, server.URL)

			body := app.do(t, http.MethodPost, "/login", tt.form, true).Body.String()
			if got := strings.Contains(body, `data-authenticated="true"`); got != tt.wantLogin {
				t.Errorf("logged in = %v, want %v", got, tt.wantLogin)
			}
			if tt.wantNotice != "" && !strings.Contains(body, tt.wantNotice) {
				t.Errorf("notice %q missing from %s", tt.wantNotice, body)
			}
		})
	}
}

func TestAuthorizeWithoutHTMXRedirects(t *testing.T) {
	_, server := newFakePicket(t, ensID)
	app := newTestApp(t, server.URL)

	rr := app.do(t, http.MethodPost, "/communities/"+ensID+"/authorize", signedIn(), false)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}

	body := app.do(t, http.MethodGet, "/", nil, false).Body.String()
	if got := badgeFor(t, body, ensID); got != "authorized" {
		t.Errorf("ENS badge = %s, want authorized", got)
	}
}

func TestAuthorizeUnknownCommunity(t *testing.T) {
	_, server := newFakePicket(t)
	app := newTestApp(t, server.URL)

	rr := app.do(t, http.MethodPost, "/communities/0x0000000000000000000000000000000000000bad/authorize", signedIn(), true)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestHandleNonce(t *testing.T) {
	_, server := newFakePicket(t)
	app := newTestApp(t, server.URL)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantBody string
	}{
		{"valid", `{"walletAddress":"` + testWallet + `"}`, http.StatusOK, "nonce-123"},
		{"invalid address", `{"walletAddress":"0x123"}`, http.StatusBadRequest, "invalid_request"},
		{"malformed", `{`, http.StatusBadRequest, "malformed_body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/nonce", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()
			app.router.ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want %q", rr.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandleNonceUpstreamDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"msg": "down"})
	}))
	defer server.Close()
	app := newTestApp(t, server.URL)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/nonce", bytes.NewBufferString(`{"walletAddress":"`+testWallet+`"}`))
	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "upstream_unavailable") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestHealthAndVersion(t *testing.T) {
	_, server := newFakePicket(t)
	app := newTestApp(t, server.URL)

	if rr := app.do(t, http.MethodGet, "/health/live", nil, false); rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Errorf("health = %d %q", rr.Code, rr.Body.String())
	}

	rr := app.do(t, http.MethodGet, "/version", nil, false)
	var info map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&info); err != nil {
		t.Fatalf("version response is not json: %v", err)
	}
	if info["version"] == "" {
		t.Errorf("version = %v", info)
	}
}
