package session

import "strings"

// ID identifies one terminal session owned by the registry.
//
// There are three kinds: the single "main" session, the single "review"
// session, and any number of change sessions keyed by the consumer's tab id
// ("change:<tab-id>").
type ID string

// Well-known session ids.
const (
	Main   ID = "main"
	Review ID = "review"
)

const changePrefix = "change:"

// Change returns the session id for a change tab.
func Change(tabID string) ID {
	return ID(changePrefix + tabID)
}

// Kind classifies a session id.
type Kind int

// Session kinds.
const (
	KindMain Kind = iota
	KindReview
	KindChange
	KindUnknown
)

// Kind returns the kind encoded in the id.
func (id ID) Kind() Kind {
	switch {
	case id == Main:
		return KindMain
	case id == Review:
		return KindReview
	case strings.HasPrefix(string(id), changePrefix):
		return KindChange
	default:
		return KindUnknown
	}
}

// TabID returns the change-tab id for change sessions, or "" otherwise.
func (id ID) TabID() string {
	if id.Kind() != KindChange {
		return ""
	}

	return strings.TrimPrefix(string(id), changePrefix)
}

// Valid reports whether the id names a session the registry can own.
func (id ID) Valid() bool {
	if id.Kind() == KindUnknown {
		return false
	}

	return id.Kind() != KindChange || id.TabID() != ""
}
