// Agent spawning: fills the grid with cops, citizens and radicalizers
// according to the scenario densities.
package agents

import (
	"fmt"
	"math/rand"

	"github.com/talgya/unrest/internal/world"
)

// Scenario controls initial population generation.
type Scenario struct {
	CitizenDensity     float64
	CopDensity         float64
	RadicalizerDensity float64

	CitizenVision     int
	CopVision         int
	RadicalizerVision int

	Legitimacy float64 // shared by every citizen
	Threshold  float64 // shared by every citizen

	// Hardship, when set, supplies per-cell hardship instead of a uniform draw.
	Hardship *world.Field
}

// Spawner creates agents for the simulation.
type Spawner struct {
	rng    *rand.Rand
	nextID AgentID
}

// NewSpawner creates an agent spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed + 300)),
		nextID: 1,
	}
}

// Populate visits every cell once and, with one uniform draw u per cell,
// places a cop (u < cop density), a citizen (u < cop + citizen density),
// a radicalizer (u < all three densities combined) or nothing.
func (s *Spawner) Populate(grid *world.Grid[Agent], sc Scenario) ([]Agent, error) {
	copCut := sc.CopDensity
	citizenCut := copCut + sc.CitizenDensity
	radicalCut := citizenCut + sc.RadicalizerDensity
	if radicalCut > 1 {
		return nil, fmt.Errorf("densities sum to %.3f, must be <= 1", radicalCut)
	}

	var out []Agent
	for _, cell := range grid.Cells() {
		if !grid.IsEmpty(cell) {
			continue
		}
		u := s.rng.Float64()

		var a Agent
		switch {
		case u < copCut:
			a = NewCop(s.issueID(), cell, sc.CopVision)
		case u < citizenCut:
			c, err := s.spawnCitizen(cell, sc)
			if err != nil {
				return nil, err
			}
			a = c
		case u < radicalCut:
			a = NewRadicalizer(s.issueID(), cell, sc.RadicalizerVision)
		default:
			continue
		}

		if err := grid.Place(a, cell); err != nil {
			return nil, fmt.Errorf("place %s %d: %w", a.Breed(), a.ID(), err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Spawner) spawnCitizen(cell world.Coord, sc Scenario) (*Citizen, error) {
	hardship := s.rng.Float64()
	if sc.Hardship != nil {
		hardship = sc.Hardship.At(cell)
	}
	return NewCitizen(s.issueID(), cell, Traits{
		Hardship:         hardship,
		RegimeLegitimacy: sc.Legitimacy,
		RiskAversion:     s.rng.Float64(),
		Threshold:        sc.Threshold,
		Vision:           sc.CitizenVision,
	})
}

func (s *Spawner) issueID() AgentID {
	id := s.nextID
	s.nextID++
	return id
}
