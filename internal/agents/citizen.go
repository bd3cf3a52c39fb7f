package agents

import (
	"fmt"
	"math"

	"github.com/talgya/unrest/internal/world"
)

// Traits are a citizen's fixed parameters, set once at creation.
type Traits struct {
	Hardship         float64 `json:"hardship"`          // perceived deprivation, 0–1
	RegimeLegitimacy float64 `json:"regime_legitimacy"` // 0–1
	RiskAversion     float64 `json:"risk_aversion"`     // 0–1
	Threshold        float64 `json:"threshold"`         // activation margin, >= 0
	Vision           int     `json:"vision"`            // stored only; scans always use radius 1
}

// Validate checks the trait ranges NewCitizen relies on.
func (t Traits) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"hardship", t.Hardship},
		{"regime_legitimacy", t.RegimeLegitimacy},
		{"risk_aversion", t.RiskAversion},
	} {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return fmt.Errorf("%s %v outside [0,1]", f.name, f.v)
		}
	}
	if math.IsNaN(t.Threshold) || t.Threshold < 0 {
		return fmt.Errorf("threshold %v must be >= 0", t.Threshold)
	}
	return nil
}

// Citizen is a member of the general population who may rebel.
type Citizen struct {
	identity
	Traits Traits

	grievance         float64
	condition         Condition
	jailSentence      int
	radicalized       bool
	arrestProbability float64
}

// NewCitizen creates a quiescent, free, unradicalized citizen.
func NewCitizen(id AgentID, pos world.Coord, t Traits) (*Citizen, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("citizen %d: %w", id, err)
	}
	return &Citizen{
		identity:  identity{id: id, pos: pos, vision: t.Vision},
		Traits:    t,
		grievance: t.Hardship * (1 - t.RegimeLegitimacy),
		condition: Quiescent,
	}, nil
}

func (c *Citizen) Breed() Breed { return BreedCitizen }

// Grievance is hardship × (1 − legitimacy), fixed at creation.
func (c *Citizen) Grievance() float64 { return c.grievance }

func (c *Citizen) Condition() Condition { return c.condition }

// JailSentence is the number of ticks left to serve.
func (c *Citizen) JailSentence() int { return c.jailSentence }

func (c *Citizen) Jailed() bool { return c.jailSentence > 0 }

func (c *Citizen) Radicalized() bool { return c.radicalized }

// ArrestProbability is the estimate from the citizen's last free step.
func (c *Citizen) ArrestProbability() float64 { return c.arrestProbability }

// Jail sets the remaining sentence. A sentence of 0 releases immediately.
func (c *Citizen) Jail(sentence int) {
	if sentence < 0 {
		sentence = 0
	}
	c.jailSentence = sentence
}

// Radicalize marks the citizen radicalized. There is no way back.
func (c *Citizen) Radicalize() {
	c.radicalized = true
}

// Step runs one tick: serve jail time, or re-estimate risk, update the
// condition and possibly move.
func (c *Citizen) Step(env *Env) error {
	if c.jailSentence > 0 {
		c.jailSentence--
		return nil
	}

	view := NewView(env.Space, c.pos)
	actives := 1 + len(view.Citizens(isFreeActive)) // counts itself
	c.arrestProbability = ArrestProbability(env.Params.ArrestProbConstant, view.Cops(), actives)
	netRisk := c.Traits.RiskAversion * c.arrestProbability
	c.condition = NextCondition(c.condition, c.grievance-netRisk, c.Traits.Threshold, c.radicalized)

	return moveRandomly(c, env, view)
}

// ArrestProbability estimates the chance of arrest given the cops and
// free actives in view. actives includes the observer, so it is at least 1.
func ArrestProbability(constant float64, cops, actives int) float64 {
	if actives < 1 {
		actives = 1
	}
	return 1 - math.Exp(-constant*float64(cops)/float64(actives))
}

// NextCondition applies the activation rules in order; the first match wins.
// margin is grievance minus net risk.
func NextCondition(cur Condition, margin, threshold float64, radicalized bool) Condition {
	switch {
	case cur == Quiescent && margin > threshold:
		return Active
	case cur == Quiescent && radicalized:
		return Active
	case cur == Active && margin <= threshold:
		return Quiescent
	default:
		return cur
	}
}

func (c *Citizen) Record() Record {
	return Record{
		ID:                c.id,
		Breed:             BreedCitizen,
		X:                 c.pos.X,
		Y:                 c.pos.Y,
		Vision:            c.vision,
		Hardship:          c.Traits.Hardship,
		RegimeLegitimacy:  c.Traits.RegimeLegitimacy,
		RiskAversion:      c.Traits.RiskAversion,
		Threshold:         c.Traits.Threshold,
		Grievance:         c.grievance,
		Condition:         c.condition,
		JailSentence:      c.jailSentence,
		Radicalized:       c.radicalized,
		ArrestProbability: c.arrestProbability,
	}
}
