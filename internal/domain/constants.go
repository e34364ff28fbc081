package domain

import "time"

// Search defaults
const (
	// RecentCapacity is the maximum number of logins kept in the recent list
	RecentCapacity = 5
	// SuggestionLimit is the number of suggestions shown in the dropdown
	SuggestionLimit = 5
	// MinQueryLength is the shortest trimmed input that triggers suggestions
	MinQueryLength = 2
	// DebounceDelay is how long typing must settle before suggestions are fetched
	DebounceDelay = 300 * time.Millisecond
	// RecentUsersKey is the store key holding the JSON-encoded recent list
	RecentUsersKey = "recentUsers"
)
