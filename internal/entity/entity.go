// Package entity holds the entities members control and the start spots
// they are created on.
package entity

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/tomz197/skirmish/internal/loop/config"
)

// ErrNoFreeSpot means every start spot is reserved.
var ErrNoFreeSpot = errors.New("no free start spot")

// Entity is a member's controlled entity.
type Entity struct {
	MemberID  string
	Template  string // Template the entity was created from
	Spot      int    // Index of the reserved start spot
	X, Y      float64
	CreatedAt time.Time
}

// New creates an entity on spot.
func New(memberID, template string, spot Spot, now time.Time) *Entity {
	return &Entity{
		MemberID:  memberID,
		Template:  template,
		Spot:      spot.Index,
		X:         spot.X,
		Y:         spot.Y,
		CreatedAt: now,
	}
}

// Spot is a start position.
type Spot struct {
	Index int
	X, Y  float64
}

// Spots hands out start spots. A member keeps its spot across respawns
// until released.
type Spots struct {
	spots    []Spot
	owner    map[int]string // Spot index -> member
	assigned map[string]int // Member -> spot index
	rng      *rand.Rand
}

// NewSpots lays out n spots on a ring around the world center.
func NewSpots(n int, rng *rand.Rand) *Spots {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	cx, cy := float64(config.WorldWidth)/2, float64(config.WorldHeight)/2
	radius := math.Min(cx, cy) * 0.8

	s := &Spots{
		spots:    make([]Spot, n),
		owner:    make(map[int]string),
		assigned: make(map[string]int),
		rng:      rng,
	}
	for i := range s.spots {
		angle := 2 * math.Pi * float64(i) / float64(n)
		s.spots[i] = Spot{
			Index: i,
			X:     cx + radius*math.Cos(angle),
			Y:     cy + radius*math.Sin(angle),
		}
	}
	return s
}

// Reserve returns the member's spot, reserving a random free one if it has
// none.
func (s *Spots) Reserve(memberID string) (Spot, error) {
	if i, ok := s.assigned[memberID]; ok {
		return s.spots[i], nil
	}

	var free []int
	for i := range s.spots {
		if _, taken := s.owner[i]; !taken {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return Spot{}, ErrNoFreeSpot
	}

	i := free[s.rng.IntN(len(free))]
	s.owner[i] = memberID
	s.assigned[memberID] = i
	return s.spots[i], nil
}

// Release frees the member's spot.
func (s *Spots) Release(memberID string) {
	if i, ok := s.assigned[memberID]; ok {
		delete(s.owner, i)
		delete(s.assigned, memberID)
	}
}

// Free returns the number of unreserved spots.
func (s *Spots) Free() int {
	return len(s.spots) - len(s.owner)
}
