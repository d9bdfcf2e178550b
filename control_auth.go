// Websocket authentication

package main

import (
	"github.com/golang-jwt/jwt/v5"
)

// Creates an authentication token to connect
// to the coordinator server
// Returns the token (base 64)
func (c *ControlServerConnection) MakeWebsocketAuthenticationToken() string {
	secret := c.server.config.ControlSecret

	if secret == "" {
		return ""
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "rtmp-control",
	})

	tokenBase64, e := token.SignedString([]byte(secret))

	if e != nil {
		LogError(e)
		return ""
	}

	return tokenBase64
}
