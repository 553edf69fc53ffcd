// Package templates holds the server rendered page components.
//
// The components are written in the .templ files; run templ generate after editing them.
package templates

import (
	"net/url"

	"github.com/information-sharing-networks/incremental-auth/internal/authz"
)

const (
	HeaderID = "header"
	GridID   = "community-grid"
	NoticeID = "notice"
)

const (
	Title      = "Incremental Auth | Picket API"
	htmxScript = "https://unpkg.com/htmx.org@2.0.4"

	// htmx adds an inline <style> for request indicators unless told not to, which the content security policy blocks
	htmxConfig = `{"includeIndicatorStyles":false}`
)

type HomePageData struct {
	User        *authz.User
	Communities []authz.CommunityStatus
	Notice      string
}

// AuthorizePath is the endpoint a card posts to
func AuthorizePath(communityID string) string {
	return "/communities/" + url.PathEscape(communityID) + "/authorize"
}

func gridTarget() string {
	return "#" + GridID
}
