package sim

import (
	"math/rand"
	"strconv"
	"strings"

	"github.com/kments/marblerace-backend/internal/physics"
)

const (
	// maxCountPerEntry caps the `*count` multiplier of one name entry.
	maxCountPerEntry = 100
	minWeight        = 0.1
	maxWeight        = 1.1
)

// Marble is one racer. The physics engine owns its authoritative transform
// while the body exists; Position is the last transform read from it.
type Marble struct {
	ID       int
	Name     string
	Weight   float64
	IsDummy  bool
	Active   bool
	Position physics.Position

	finished bool
	lastPos  physics.Position
	stuckFor float64 // seconds without meaningful movement
}

// MarbleState is the broadcast view of a marble.
type MarbleState struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	Weight  float64 `json:"weight"`
	IsDummy bool    `json:"isDummy"`
	Active  bool    `json:"isActive"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Angle   float64 `json:"angle"`
}

func (m *Marble) state() MarbleState {
	return MarbleState{
		ID:      m.ID,
		Name:    m.Name,
		Weight:  m.Weight,
		IsDummy: m.IsDummy,
		Active:  m.Active,
		X:       m.Position.X,
		Y:       m.Position.Y,
		Angle:   m.Position.Angle,
	}
}

type rosterEntry struct {
	id     int
	name   string
	weight float64
}

// parseNameSpec splits one `name[/weight][*count]` entry. The weight
// modifier is a positive integer; count multiplies the entry.
func parseNameSpec(spec string) (name string, weight float64, count int) {
	name = spec
	weight = 1
	count = 1

	if i := strings.IndexByte(name, '*'); i >= 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(name[i+1:])); err == nil && n > 0 {
			count = n
		}
		name = name[:i]
	}
	if i := strings.IndexByte(name, '/'); i >= 0 {
		if w, err := strconv.Atoi(strings.TrimSpace(name[i+1:])); err == nil && w > 0 {
			weight = float64(w)
		}
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = spec
	}
	if count > maxCountPerEntry {
		count = maxCountPerEntry
	}
	return name, weight, count
}

// buildRoster expands the raw name list into racer entries with normalized
// weights and a shuffled id assignment, so finish order does not correlate
// with input order. Ids cover [0, total) exactly once.
func buildRoster(names []string, rng *rand.Rand) []rosterEntry {
	type parsed struct {
		name   string
		weight float64
	}
	var expanded []parsed
	for _, spec := range names {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		name, weight, count := parseNameSpec(spec)
		for i := 0; i < count; i++ {
			expanded = append(expanded, parsed{name: name, weight: weight})
		}
	}
	if len(expanded) == 0 {
		return nil
	}

	lo, hi := expanded[0].weight, expanded[0].weight
	for _, p := range expanded[1:] {
		if p.weight < lo {
			lo = p.weight
		}
		if p.weight > hi {
			hi = p.weight
		}
	}

	ids := rng.Perm(len(expanded))
	roster := make([]rosterEntry, len(expanded))
	for i, p := range expanded {
		w := minWeight
		if hi > lo {
			w = minWeight + (p.weight-lo)/(hi-lo)*(maxWeight-minWeight)
		}
		roster[i] = rosterEntry{id: ids[i], name: p.name, weight: w}
	}
	return roster
}
