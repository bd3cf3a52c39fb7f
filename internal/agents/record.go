package agents

import (
	"fmt"

	"github.com/talgya/unrest/internal/world"
)

// Record is a flat view of any agent, used by collectors, the API and storage.
// Citizen-only fields are zero for cops and radicalizers.
type Record struct {
	ID     AgentID `json:"id" db:"id"`
	Breed  Breed   `json:"breed" db:"breed"`
	X      int     `json:"x" db:"x"`
	Y      int     `json:"y" db:"y"`
	Vision int     `json:"vision" db:"vision"`

	Hardship          float64   `json:"hardship,omitempty" db:"hardship"`
	RegimeLegitimacy  float64   `json:"regime_legitimacy,omitempty" db:"regime_legitimacy"`
	RiskAversion      float64   `json:"risk_aversion,omitempty" db:"risk_aversion"`
	Threshold         float64   `json:"threshold,omitempty" db:"threshold"`
	Grievance         float64   `json:"grievance,omitempty" db:"grievance"`
	Condition         Condition `json:"condition" db:"condition"`
	JailSentence      int       `json:"jail_sentence" db:"jail_sentence"`
	Radicalized       bool      `json:"radicalized" db:"radicalized"`
	ArrestProbability float64   `json:"arrest_probability" db:"arrest_probability"`
}

// Pos returns the record's grid position.
func (r Record) Pos() world.Coord {
	return world.Coord{X: r.X, Y: r.Y}
}

// FromRecord rebuilds a live agent from a stored record.
// Citizen grievance is recomputed from the traits rather than trusted.
func FromRecord(r Record) (Agent, error) {
	switch r.Breed {
	case BreedCitizen:
		c, err := NewCitizen(r.ID, r.Pos(), Traits{
			Hardship:         r.Hardship,
			RegimeLegitimacy: r.RegimeLegitimacy,
			RiskAversion:     r.RiskAversion,
			Threshold:        r.Threshold,
			Vision:           r.Vision,
		})
		if err != nil {
			return nil, err
		}
		if r.Condition > Active {
			return nil, fmt.Errorf("citizen %d: invalid condition %d", r.ID, r.Condition)
		}
		c.condition = r.Condition
		c.Jail(r.JailSentence)
		c.radicalized = r.Radicalized
		c.arrestProbability = r.ArrestProbability
		return c, nil
	case BreedCop:
		return NewCop(r.ID, r.Pos(), r.Vision), nil
	case BreedRadicalizer:
		return NewRadicalizer(r.ID, r.Pos(), r.Vision), nil
	default:
		return nil, fmt.Errorf("agent %d: unknown breed %q", r.ID, r.Breed)
	}
}
