package engine

import "github.com/talgya/unrest/internal/agents"

// TickStats are the aggregate counts collected after every tick.
// Quiescent and Active count citizens by condition whether or not they are
// jailed; Jailed counts citizens with time left to serve.
type TickStats struct {
	Tick         uint64 `json:"tick" db:"tick"`
	Citizens     int    `json:"citizens" db:"citizens"`
	Cops         int    `json:"cops" db:"cops"`
	Radicalizers int    `json:"radicalizers" db:"radicalizers"`
	Quiescent    int    `json:"quiescent" db:"quiescent"`
	Active       int    `json:"active" db:"active"`
	Jailed       int    `json:"jailed" db:"jailed"`
	Radicalized  int    `json:"radicalized" db:"radicalized"`
	Arrests      int    `json:"arrests" db:"arrests"`
	Conversions  int    `json:"conversions" db:"conversions"`
}

func (s *Simulation) collect() TickStats {
	st := TickStats{
		Tick:        s.tick,
		Arrests:     s.arrests,
		Conversions: s.conversions,
	}
	for _, a := range s.agents {
		switch a := a.(type) {
		case *agents.Citizen:
			st.Citizens++
			if a.Condition() == agents.Active {
				st.Active++
			} else {
				st.Quiescent++
			}
			if a.Jailed() {
				st.Jailed++
			}
			if a.Radicalized() {
				st.Radicalized++
			}
		case *agents.Cop:
			st.Cops++
		case *agents.Radicalizer:
			st.Radicalizers++
		}
	}
	return st
}
