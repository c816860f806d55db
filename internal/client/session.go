package client

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt"
)

const userIdClaim = "user-id"

// Session is the authenticated identity a client acts as. It is handed to the
// connection manager and API client explicitly.
type Session struct {
	Token  string
	UserId int
}

// NewSession reads the user id from the token claims. The signature is
// checked by the server, not here.
func NewSession(token string) (Session, error) {
	if token == "" {
		return Session{}, errors.New("empty access token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("parse token: %w", err)
	}

	id, ok := claims[userIdClaim].(float64)
	if !ok {
		return Session{}, errors.New("token has no user id claim")
	}

	return Session{Token: token, UserId: int(id)}, nil
}
