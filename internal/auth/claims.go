package auth

import (
	"time"

	"infinite-experiment/logbook/internal/constants"

	"github.com/golang-jwt/jwt/v5"
)

// UserClaims is what handlers know about the caller.
type UserClaims interface {
	UserID() string
	Callsign() string
	Source() string
}

// Session is a validated caller identity.
type Session struct {
	UserIDValue   string
	CallsignValue string
	ExpiresAt     time.Time
}

func (s *Session) UserID() string   { return s.UserIDValue }
func (s *Session) Callsign() string { return s.CallsignValue }
func (s *Session) Source() string   { return string(constants.RequestSourceAPI) }

// tokenClaims is the JWT payload: sub carries the user id.
type tokenClaims struct {
	Callsign string `json:"callsign,omitempty"`
	jwt.RegisteredClaims
}
