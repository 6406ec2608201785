package entities

import (
	"sort"
	"time"
)

// Member is a board member as resolved by the identity service.
type Member struct {
	MemberID    string
	DisplayName string
	Email       string
	IsAdmin     bool
}

type PresenceEntry struct {
	Member   Member
	LastSeen time.Time
}

// Online reports whether the entry was refreshed within window of now.
func (p PresenceEntry) Online(now time.Time, window time.Duration) bool {
	return !p.LastSeen.Before(now.Add(-window))
}

// SortPresence orders entries by member id so projections and hashes are stable.
func SortPresence(entries []PresenceEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Member.MemberID < entries[j].Member.MemberID
	})
}
