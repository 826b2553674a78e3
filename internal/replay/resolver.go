package replay

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/synclone/internal/store"
)

// Decision is a resolver's answer to a conflict.
type Decision int

const (
	// Resolve retries the row with the values the resolver edited in place.
	Resolve Decision = iota
	// Skip leaves the row staged.
	Skip
	// SkipRelated leaves the row staged and skips every later row that
	// references it.
	SkipRelated
	// Quit stops the session. Rows not yet applied stay staged.
	Quit
	// Dismiss means no choice was made. The resolver is asked whether to
	// abort; declining skips the row.
	Dismiss
)

var decisionNames = map[Decision]string{
	Resolve:     "resolve",
	Skip:        "skip",
	SkipRelated: "skip_related",
	Quit:        "quit",
	Dismiss:     "dismiss",
}

func (d Decision) String() string {
	if s, ok := decisionNames[d]; ok {
		return s
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// ParseDecision parses the lower-case name of a decision.
func ParseDecision(s string) (Decision, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, name := range decisionNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown decision %q", s)
}

// Conflict is a row that failed to apply.
type Conflict struct {
	Change *store.StagedChange
	// Message is the first line of the store error, safe for display.
	Message string
	Err     error
}

// Values returns the row's values. A resolver returning Resolve edits them
// in place.
func (c *Conflict) Values() store.Values { return c.Change.Values }

// Resolver decides what to do with conflicting rows.
type Resolver interface {
	Resolve(ctx context.Context, c *Conflict) Decision
	// ConfirmAbort is asked after a Dismiss.
	ConfirmAbort(ctx context.Context) bool
	// OfferReclone is asked after a session with no pending rows, when the
	// origin was last pulled from uri.
	OfferReclone(ctx context.Context, uri string) bool
}

// PolicyResolver answers every conflict with the same decision. It serves
// non-interactive runs.
type PolicyResolver struct {
	Decision Decision
	// Abort answers ConfirmAbort.
	Abort bool
	// Reclone answers OfferReclone.
	Reclone bool
}

// Resolve returns p.Decision, downgrading Resolve to Skip since a policy
// cannot edit values.
func (p PolicyResolver) Resolve(context.Context, *Conflict) Decision {
	if p.Decision == Resolve {
		return Skip
	}
	return p.Decision
}

func (p PolicyResolver) ConfirmAbort(context.Context) bool { return p.Abort }

func (p PolicyResolver) OfferReclone(context.Context, string) bool { return p.Reclone }
