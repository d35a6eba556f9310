// Package grouptab encodes and decodes the parameters of a synthetic group
// tab into the internal URI the group tab is opened with.
package grouptab

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultBaseURI is the internal page group tabs are opened at.
const DefaultBaseURI = "ext+treestyletab:group"

const (
	keyTitle               = "title"
	keyTemporary           = "temporary"
	keyTemporaryAggressive = "temporaryAggressive"
	keyOpenerTabID         = "openerTabId"
)

// TemporaryState tells when a group tab is reclaimed.
type TemporaryState int

const (
	// StateNone groups are never reclaimed automatically.
	StateNone TemporaryState = iota
	// StatePassive groups are reclaimed once they wrap at most one
	// non-temporary child.
	StatePassive
	// StateAggressive groups are reclaimed whenever they have at most one
	// child, whatever that child is.
	StateAggressive
)

func (s TemporaryState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StatePassive:
		return "passive"
	case StateAggressive:
		return "aggressive"
	default:
		return fmt.Sprintf("TemporaryState(%d)", int(s))
	}
}

// ParseTemporaryState maps "none", "passive" and "aggressive" to a state.
func ParseTemporaryState(s string) (TemporaryState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return StateNone, nil
	case "passive":
		return StatePassive, nil
	case "aggressive":
		return StateAggressive, nil
	default:
		return StateNone, fmt.Errorf("unknown temporary state %q", s)
	}
}

// Options are the semantic parameters of a group tab.
type Options struct {
	Title               string
	Temporary           bool
	TemporaryAggressive bool
	OpenerTabID         int
}

// State folds the two temporary flags into a TemporaryState, aggressive first.
func (o Options) State() TemporaryState {
	switch {
	case o.TemporaryAggressive:
		return StateAggressive
	case o.Temporary:
		return StatePassive
	default:
		return StateNone
	}
}

// TemporaryStateParams returns the partial Options selecting state.
// Unknown states select nothing.
func TemporaryStateParams(state TemporaryState) Options {
	switch state {
	case StatePassive:
		return Options{Temporary: true}
	case StateAggressive:
		return Options{TemporaryAggressive: true}
	default:
		return Options{}
	}
}

// MakeURI encodes opts under base. Keys are always written in the order
// title, temporaryAggressive or temporary, openerTabId, and only for options
// that are set.
func MakeURI(base string, opts Options) string {
	// url.Values.Encode sorts keys, so the query is assembled by hand to
	// keep the documented order.
	var parts []string
	add := func(key, value string) {
		parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
	}

	if opts.Title != "" {
		add(keyTitle, opts.Title)
	}

	if opts.TemporaryAggressive {
		add(keyTemporaryAggressive, "true")
	} else if opts.Temporary {
		add(keyTemporary, "true")
	}

	if opts.OpenerTabID != 0 {
		add(keyOpenerTabID, strconv.Itoa(opts.OpenerTabID))
	}

	return base + "?" + strings.Join(parts, "&")
}

// Info is what Parse reads back from a group tab URI.
type Info struct {
	Title       string
	State       TemporaryState
	OpenerTabID int
}

// Parse decodes uri when it points at base. ok is false for any other URI.
func Parse(base, uri string) (info Info, ok bool) {
	rest, found := strings.CutPrefix(uri, base)
	if !found {
		return Info{}, false
	}
	if rest != "" && rest[0] != '?' {
		return Info{}, false
	}

	query, err := url.ParseQuery(strings.TrimPrefix(rest, "?"))
	if err != nil {
		return Info{}, false
	}

	info.Title = query.Get(keyTitle)
	switch {
	case query.Get(keyTemporaryAggressive) == "true":
		info.State = StateAggressive
	case query.Get(keyTemporary) == "true":
		info.State = StatePassive
	}
	if opener := query.Get(keyOpenerTabID); opener != "" {
		if id, err := strconv.Atoi(opener); err == nil {
			info.OpenerTabID = id
		}
	}
	return info, true
}
