// Package badge renders the access indicator shown on each community card.
//
// The components are in badge.templ; run templ generate after editing it.
package badge

import (
	"fmt"

	"github.com/a-h/templ"
)

// Status is the access state shown for a community. Exactly one status applies to a community at any time.
type Status int

const (
	TokenGated Status = iota // not checked yet, or checked and state since reset
	Authorized
	AccessDenied
)

var statusNames = []string{"TokenGated", "Authorized", "AccessDenied"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Badge returns the component for status. Unknown values render as TokenGated.
func Badge(status Status) templ.Component {
	switch status {
	case Authorized:
		return AuthorizedBadge()
	case AccessDenied:
		return AccessDeniedBadge()
	default:
		return TokenGatedBadge()
	}
}

const (
	lockPath  = "M16.5 10.5V6.75a4.5 4.5 0 10-9 0v3.75m-.75 11.25h10.5a2.25 2.25 0 002.25-2.25v-6.75a2.25 2.25 0 00-2.25-2.25H6.75a2.25 2.25 0 00-2.25 2.25v6.75a2.25 2.25 0 002.25 2.25z"
	checkPath = "M4.5 12.75l6 6 9-13.5"
	crossPath = "M6 18L18 6M6 6l12 12"
)
