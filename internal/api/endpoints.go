// Package api is the client for the face-analysis backend.
package api

import (
	"net/url"
	"strings"
)

// Endpoints builds URLs on the backend's base URL.
type Endpoints struct {
	Base string
}

// NewEndpoints trims a trailing slash from base.
func NewEndpoints(base string) Endpoints {
	return Endpoints{Base: strings.TrimSuffix(base, "/")}
}

func (e Endpoints) join(parts ...string) string {
	var b strings.Builder
	b.WriteString(e.Base)
	b.WriteString("/api/v1")
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(p)
	}
	return b.String()
}

// AnalysisFace is the face photo upload (POST, multipart).
func (e Endpoints) AnalysisFace() string { return e.join("analysis", "face") }

// SaveHistory records a treatment session (POST).
func (e Endpoints) SaveHistory() string { return e.join("history") }

// History lists a user's past sessions.
func (e Endpoints) History(userID string) string {
	return e.join("history", url.PathEscape(userID))
}

// Stats returns a user's aggregate statistics.
func (e Endpoints) Stats(userID string) string {
	return e.join("stats", url.PathEscape(userID))
}

// SaveProfile creates or updates a user profile (POST).
func (e Endpoints) SaveProfile() string { return e.join("user", "profile") }

// Profile returns a user's profile.
func (e Endpoints) Profile(userID string) string {
	return e.join("user", "profile", url.PathEscape(userID))
}

// Users lists all users.
func (e Endpoints) Users() string { return e.join("users") }

// User addresses a single user record.
func (e Endpoints) User(userID string) string {
	return e.join("user", url.PathEscape(userID))
}

// DeviceConfig is the LED mask description.
func (e Endpoints) DeviceConfig() string { return e.join("device", "config") }

// DeviceModes is the LED mode catalog.
func (e Endpoints) DeviceModes() string { return e.join("device", "modes") }
