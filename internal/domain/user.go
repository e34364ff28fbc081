package domain

import "time"

// UserProfile represents a GitHub account as returned by the users endpoint.
// Bio and Location are empty when the account does not set them.
type UserProfile struct {
	Login       string    `json:"login"`
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	AvatarURL   string    `json:"avatar_url"`
	HTMLURL     string    `json:"html_url"`
	Bio         string    `json:"bio,omitempty"`
	PublicRepos int       `json:"public_repos"`
	Followers   int       `json:"followers"`
	Following   int       `json:"following"`
	Location    string    `json:"location,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DisplayName returns the name, falling back to the login.
func (u UserProfile) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Login
}

// Suggestion is the reduced projection of a user shown in the autocomplete list.
type Suggestion struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}
