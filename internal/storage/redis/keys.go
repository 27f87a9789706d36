package redis

import (
	"fmt"

	"github.com/mcoot/triviagame/internal/model"
)

// Hash fields of a stored game
const (
	fieldVersion = "version"
	fieldState   = "state"
	fieldData    = "data"
)

// gameKey returns the Redis key for a Game hash
func gameKey(prefix string, id model.GameID) string {
	return fmt.Sprintf("%s:game:%s", prefix, id)
}
