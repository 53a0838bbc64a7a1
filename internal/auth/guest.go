package auth

import (
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/google/uuid"

	"github.com/banchess/server/internal/protocol"
)

// guestNamespace roots every guest UUIDv5 derivation. It is fixed so the
// same handle always maps to the same UserId across restarts and
// processes — guests need no database row to have a stable identity.
var guestNamespace = uuid.MustParse("c9c3f399-2b9a-4b8e-9e3a-9e9b0a2e9f11")

// adjectives/nouns back deterministic guest naming instead of
// database-uniqueness-checked registered names (this repository has no
// user registration at all).
var adjectives = []string{
	"Swift", "Brave", "Clever", "Noble", "Mighty", "Silent", "Golden", "Silver",
	"Crystal", "Shadow", "Crimson", "Azure", "Cosmic", "Ancient", "Mystic", "Royal",
	"Fierce", "Gentle", "Wild", "Calm", "Bold", "Wise", "Quick", "Keen",
	"Dark", "Light", "Storm", "Frost", "Fire", "Iron", "Steel", "Stone",
}

var nouns = []string{
	"Knight", "Bishop", "Rook", "Queen", "King", "Pawn", "Dragon", "Phoenix",
	"Wolf", "Bear", "Eagle", "Hawk", "Lion", "Tiger", "Falcon", "Serpent",
	"Wizard", "Mage", "Sage", "Oracle", "Scholar", "Hunter", "Warrior", "Champion",
	"Castle", "Tower", "Crown", "Throne", "Sword", "Shield", "Arrow", "Bow",
}

// GuestIdentity derives a stable Identity from a client-supplied guest
// handle: same handle in, same UserId and DisplayName out, every time,
// with no row written anywhere to make that true.
func GuestIdentity(handle string) protocol.Identity {
	id := uuid.NewSHA1(guestNamespace, []byte(handle))
	return protocol.Identity{
		UserId:      protocol.UserId(id.String()),
		DisplayName: displayNameFor(handle),
		IsGuest:     true,
	}
}

func displayNameFor(handle string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(handle))
	r := rand.New(rand.NewSource(int64(h.Sum64())))
	adjective := adjectives[r.Intn(len(adjectives))]
	noun := nouns[r.Intn(len(nouns))]
	number := r.Intn(1000)
	return fmt.Sprintf("%s%s%d", adjective, noun, number)
}
