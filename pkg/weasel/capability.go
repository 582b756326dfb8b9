package weasel

import "slices"

// Capability is one thing a module does, the events it needs and the
// services it depends on.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet filters events. Empty Kinds or Sources match everything.
type InterestSet struct {
	Kinds   []EventKind
	Sources []EventSource
	// RequireText skips events without message text.
	RequireText bool
}

// Matches reports whether event passes the filter.
func (i InterestSet) Matches(event *Event) bool {
	switch {
	case event == nil:
		return false
	case len(i.Kinds) > 0 && !slices.Contains(i.Kinds, event.Kind):
		return false
	case len(i.Sources) > 0 && !slices.ContainsFunc(i.Sources, event.Source.matchedBy):
		return false
	case i.RequireText && (event.Message == nil || event.Message.Text == ""):
		return false
	}

	return true
}

// Allows reports whether filter asks for nothing outside i. Sources are not
// compared because routing narrows them after the fact.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 {
		if len(filter.Kinds) == 0 {
			return false
		}
		for _, kind := range filter.Kinds {
			if !slices.Contains(i.Kinds, kind) {
				return false
			}
		}
	}

	return !i.RequireText || filter.RequireText
}

// matchedBy treats an empty platform or id in filter as a wildcard.
func (s EventSource) matchedBy(filter EventSource) bool {
	return (filter.Platform == "" || filter.Platform == s.Platform) &&
		(filter.ID == "" || filter.ID == s.ID)
}
