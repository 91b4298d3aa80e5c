package domain

import "github.com/google/uuid"

// Session is the persisted proof of an authenticated upstream login.
// The JSON layout is the on-disk format of the session record.
type Session struct {
	Cookies   string  `json:"cookies"`    // "name=value; name=value"
	Token     *string `json:"token"`      // nil when the extraction cascade found nothing
	UserAgent string  `json:"user_agent"` // Client identity the cookies were issued to
}

// IsEmpty reports whether the record carries nothing worth reusing.
func (s *Session) IsEmpty() bool {
	return s == nil || (s.Cookies == "" && s.Token == nil)
}

// HasToken reports whether the session carries a non-empty token.
func (s *Session) HasToken() bool {
	return s != nil && s.Token != nil && *s.Token != ""
}

// TokenValue returns the token or an empty string.
func (s *Session) TokenValue() string {
	if !s.HasToken() {
		return ""
	}
	return *s.Token
}

// LoginAttempt carries the form state of a single login invocation.
// It is never persisted.
type LoginAttempt struct {
	ID        uuid.UUID
	FormToken string
	Email     string
	Password  string
	Code      string // Two-factor code, empty until requested
	KeepCode  bool
}
