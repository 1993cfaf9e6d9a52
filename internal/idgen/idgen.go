// Package idgen generates bot ids and anonymous upstream user ids.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	userPrefix   = "user-"
	userAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	userLength   = 16
)

// BotID returns a new random bot id.
func BotID() string {
	return uuid.NewString()
}

// UserID returns an anonymous, unlinkable end-user id for one upstream session.
func UserID() (string, error) {
	id, err := nanoid.Generate(userAlphabet, userLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return userPrefix + id, nil
}
