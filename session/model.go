package session

import (
	"time"

	"github.com/google/uuid"
)

// Session addresses one device session of a user.
type Session struct {
	UserID    string
	SessionID string
}

// New allocates a session with a fresh random id.
func New(userID string) Session {
	return Session{UserID: userID, SessionID: uuid.NewString()}
}

// Metadata describes the device that owns a session.
type Metadata struct {
	DeviceName   *string   `json:"device_name,omitempty"`
	IP           *string   `json:"ip,omitempty"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Data is the stored session document.
type Data struct {
	Metadata     Metadata `json:"metadata"`
	SessionID    string   `json:"session_id"`
	RefreshToken string   `json:"refresh_token"`
}

// Tokens is the pair handed to the client after issue, renew or rotate.
type Tokens struct {
	SessionID        string
	AccessToken      string
	RefreshToken     string
	ExpiresIn        time.Duration
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// NewMetadata builds device metadata, leaving empty strings unset.
func NewMetadata(deviceName, ip string, lastAccessed time.Time) Metadata {
	m := Metadata{LastAccessed: lastAccessed.UTC()}
	if deviceName != "" {
		m.DeviceName = &deviceName
	}
	if ip != "" {
		m.IP = &ip
	}
	return m
}
