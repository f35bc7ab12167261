package entity

import "fmt"

// Kind names an entity collection. The string value is the wire name used in
// the operation log, the identity map and the remote API.
type Kind string

const (
	KindPlayer Kind = "Player"
	KindGame   Kind = "Game"
)

// Kinds lists every entity kind in a fixed order.
var Kinds = []Kind{KindPlayer, KindGame}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindPlayer || k == KindGame
}

// Prefix is the local id prefix for the kind ("player", "game").
func (k Kind) Prefix() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindGame:
		return "game"
	}
	return "entity"
}

// ParseKind accepts the wire name or the lowercase prefix.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if s == string(k) || s == k.Prefix() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}
