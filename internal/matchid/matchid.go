// Package matchid implements the composite match identifier that correlates a
// lobby pairing, the players' real-time connections and the durable match
// record. Its string form is {gameKey}-{fee}-uuid-{token}.
package matchid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const marker = "-uuid-"

// ErrMalformed is returned by Parse for strings that are not composite ids.
var ErrMalformed = errors.New("malformed match id")

// ID is the structured form of a composite match identifier.
type ID struct {
	GameKey string
	Fee     int
	Token   string
}

// New returns an id with a fresh random token.
func New(gameKey string, fee int) ID {
	return ID{GameKey: gameKey, Fee: fee, Token: uuid.NewString()}
}

func (id ID) String() string {
	return fmt.Sprintf("%s-%d%s%s", id.GameKey, id.Fee, marker, id.Token)
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Parse splits on the literal "-uuid-" marker, takes the trailing integer of
// the left part as the fee and the remainder as the game key.
func Parse(s string) (ID, error) {
	parts := strings.Split(s, marker)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	head, token := parts[0], parts[1]
	if _, err := uuid.Parse(token); err != nil {
		return ID{}, fmt.Errorf("%w: bad token in %q", ErrMalformed, s)
	}

	i := strings.LastIndex(head, "-")
	if i <= 0 || i == len(head)-1 {
		return ID{}, fmt.Errorf("%w: missing game key or fee in %q", ErrMalformed, s)
	}
	fee, err := strconv.Atoi(head[i+1:])
	if err != nil || fee < 0 {
		return ID{}, fmt.Errorf("%w: bad fee in %q", ErrMalformed, s)
	}

	return ID{GameKey: head[:i], Fee: fee, Token: token}, nil
}
