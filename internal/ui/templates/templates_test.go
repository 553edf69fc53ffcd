package templates

import (
	"context"
	"strings"
	"testing"

	"github.com/a-h/templ"

	"github.com/information-sharing-networks/incremental-auth/internal/authz"
	"github.com/information-sharing-networks/incremental-auth/internal/badge"
	"github.com/information-sharing-networks/incremental-auth/internal/community"
)

func render(t *testing.T, c templ.Component) string {
	t.Helper()
	var b strings.Builder
	if err := c.Render(context.Background(), &b); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	return b.String()
}

func testStatuses(t *testing.T) []authz.CommunityStatus {
	t.Helper()
	catalog, err := community.Default()
	if err != nil {
		t.Fatalf("community.Default() error = %v", err)
	}
	all := catalog.All()
	return []authz.CommunityStatus{
		{Community: all[0], Status: badge.Authorized},
		{Community: all[1], Status: badge.AccessDenied},
		{Community: all[2], Status: badge.TokenGated},
	}
}

func TestHeader(t *testing.T) {
	tests := []struct {
		name     string
		user     *authz.User
		contains []string
		excludes []string
	}{
		{
			name:     "logged out",
			user:     nil,
			contains: []string{`data-authenticated="false"`, "Login With Your Wallet", `hx-post="/login"`},
			excludes: []string{"Logout to Switch Wallets"},
		},
		{
			name: "logged in",
			user: &authz.User{
				WalletAddress:  "0x1111111111111111111111111111111111111111",
				DisplayAddress: "0x1111111111111111111111111111111111111111",
			},
			contains: []string{`data-authenticated="true"`, "0x1111...1111", "Logout to Switch Wallets", `hx-post="/logout"`},
			excludes: []string{"Login With Your Wallet"},
		},
		{
			name:     "ens display name is not shortened",
			user:     &authz.User{WalletAddress: "0x1111111111111111111111111111111111111111", DisplayAddress: "vitalik.eth"},
			contains: []string{">vitalik.eth<"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := render(t, Header(tt.user))
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("Header() missing %q in %s", want, got)
				}
			}
			for _, notWant := range tt.excludes {
				if strings.Contains(got, notWant) {
					t.Errorf("Header() should not contain %q", notWant)
				}
			}
			if strings.Contains(got, "hx-swap-oob") {
				t.Error("Header() should not be an out of band swap")
			}
		})
	}
}

func TestHeaderOOB(t *testing.T) {
	got := render(t, HeaderOOB(nil))
	if !strings.Contains(got, `id="header"`) || !strings.Contains(got, `hx-swap-oob="true"`) {
		t.Errorf("HeaderOOB() = %s", got)
	}
}

func TestCommunityCard(t *testing.T) {
	statuses := testStatuses(t)
	ens := statuses[0].Community

	got := render(t, CommunityCard(ens, badge.Authorized))

	for _, want := range []string{
		`data-community="0x57f1887a8bf19b14fc0df6fd9b2acc9af147ea85"`,
		`hx-post="/communities/0x57f1887a8bf19b14fc0df6fd9b2acc9af147ea85/authorize"`,
		"0x57f1...ea85",
		">ENS<",
		`data-badge="authorized"`,
		`src="/static/ens.svg"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("CommunityCard() missing %q", want)
		}
	}
	if strings.Count(got, "data-badge=") != 1 {
		t.Error("a card must show exactly one badge")
	}
}

func TestCommunityCardEscapesContent(t *testing.T) {
	com := community.Community{
		ID:              "0x57f1887a8bf19b14fc0df6fd9b2acc9af147ea85",
		Name:            `<script>alert("x")</script>`,
		Description:     "fish & chips",
		ContractAddress: "0x57f1887a8bf19b14fc0df6fd9b2acc9af147ea85",
	}

	got := render(t, CommunityCard(com, badge.TokenGated))
	if strings.Contains(got, "<script>") {
		t.Error("community name was not escaped")
	}
	if !strings.Contains(got, "fish &amp; chips") {
		t.Error("description was not escaped")
	}
	if strings.Contains(got, "<img") {
		t.Error("card without an image should not render an img element")
	}
}

func TestCommunityGrid(t *testing.T) {
	got := render(t, CommunityGrid(testStatuses(t)))

	if !strings.HasPrefix(got, `<div id="community-grid"`) {
		t.Error("grid must be the swap target element")
	}
	for _, want := range []string{`data-badge="authorized"`, `data-badge="access-denied"`, `data-badge="token-gated"`} {
		if !strings.Contains(got, want) {
			t.Errorf("CommunityGrid() missing %q", want)
		}
	}
	if n := strings.Count(got, "community-card"); n != 3 {
		t.Errorf("rendered %d cards, want 3", n)
	}
}

func TestHomePage(t *testing.T) {
	got := render(t, HomePage(HomePageData{Communities: testStatuses(t)}))

	if !strings.HasPrefix(strings.ToLower(got), "<!doctype html>") {
		t.Error("HomePage() should start with the doctype")
	}
	for _, want := range []string{
		"<title>Incremental Auth | Picket API</title>",
		`<meta name="htmx-config"`,
		"includeIndicatorStyles",
		`id="wallet-form"`,
		`src="/static/wallet.js"`,
		htmxScript,
		"What is Incremental Auth?",
		`id="community-grid"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("HomePage() missing %q", want)
		}
	}
}

func TestGridFragment(t *testing.T) {
	got := render(t, GridFragment(HomePageData{
		Communities: testStatuses(t),
		Notice:      "Login cancelled",
	}))

	if !strings.HasPrefix(got, `<div id="community-grid"`) {
		t.Error("fragment should start with the grid")
	}
	if strings.Count(got, `hx-swap-oob="true"`) != 2 {
		t.Error("fragment should carry out of band header and notice swaps")
	}
	if !strings.Contains(got, "Login cancelled") {
		t.Error("notice missing from fragment")
	}
	if strings.Contains(got, "<html") {
		t.Error("fragment must not contain the page layout")
	}
}

func TestHomePageDisablesHTMXIndicatorStyles(t *testing.T) {
	got := render(t, HomePage(HomePageData{}))

	// htmx injects an inline style element unless the config turns it off, and the content security policy has no style-src for it
	start := strings.Index(got, `<meta name="htmx-config" content="`)
	if start < 0 {
		t.Fatal("htmx-config meta missing")
	}
	if !strings.Contains(got[start:], "includeIndicatorStyles&#34;:false") {
		t.Errorf("htmx-config should disable indicator styles: %s", got[start:start+100])
	}
	if strings.Index(got, "htmx-config") > strings.Index(got, htmxScript) {
		t.Error("htmx-config must come before the htmx script")
	}
}
