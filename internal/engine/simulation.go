// Simulation ties the grid, the agents and the random source together and
// runs one tick at a time.
package engine

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/entropy"
	"github.com/talgya/unrest/internal/world"
)

const (
	maxEvents  = 1000  // recent events kept in memory
	maxHistory = 10000 // per-tick stats kept in memory
	subBuffer  = 16
)

// Options describe a scenario.
type Options struct {
	Width  int
	Height int
	Torus  bool
	Seed   int64
	Order  Order
	Params agents.Params

	Scenario agents.Scenario
}

// Event is a notable occurrence in the world.
type Event struct {
	Tick        uint64         `json:"tick" db:"tick"`
	Category    string         `json:"category" db:"category"` // "arrest", "radicalize"
	Description string         `json:"description" db:"description"`
	Actor       agents.AgentID `json:"actor" db:"actor"`
	Target      agents.AgentID `json:"target" db:"target"`
}

// Simulation holds the complete world state.
// Step holds the write lock for a whole tick, so readers always observe
// complete ticks and agents within a tick run strictly one after another.
type Simulation struct {
	mu sync.RWMutex

	grid   *world.Grid[agents.Agent]
	agents []agents.Agent // creation order
	index  map[agents.AgentID]agents.Agent
	rng    *rand.Rand
	env    agents.Env
	opts   Options

	tick        uint64
	stats       TickStats
	history     []TickStats
	events      []Event
	arrests     int // this tick
	conversions int // this tick

	// Journal: stats and events not yet handed to storage. Never trimmed.
	journal       bool
	savedTick     uint64
	unsavedStats  []TickStats
	unsavedEvents []Event

	subs    map[int]chan TickStats
	nextSub int
}

// NewSimulation builds a fresh world: an empty grid populated by the spawner.
func NewSimulation(opts Options) (*Simulation, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	grid := world.NewGrid[agents.Agent](opts.Width, opts.Height, opts.Torus)
	population, err := agents.NewSpawner(opts.Seed).Populate(grid, opts.Scenario)
	if err != nil {
		return nil, fmt.Errorf("populate: %w", err)
	}
	return newSimulation(opts, grid, population, 0), nil
}

// RestoreSimulation rebuilds a world from saved agent records at the given tick.
// The random stream restarts from a seed derived from the tick, so a resumed
// run is reproducible but does not continue the original stream.
func RestoreSimulation(opts Options, records []agents.Record, tick uint64) (*Simulation, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	grid := world.NewGrid[agents.Agent](opts.Width, opts.Height, opts.Torus)
	population := make([]agents.Agent, 0, len(records))
	for _, r := range records {
		a, err := agents.FromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
		if err := grid.Place(a, r.Pos()); err != nil {
			return nil, fmt.Errorf("restore agent %d: %w", r.ID, err)
		}
		population = append(population, a)
	}
	return newSimulation(opts, grid, population, tick), nil
}

func newSimulation(opts Options, grid *world.Grid[agents.Agent], population []agents.Agent, tick uint64) *Simulation {
	index := make(map[agents.AgentID]agents.Agent, len(population))
	for _, a := range population {
		index[a.ID()] = a
	}
	s := &Simulation{
		grid:   grid,
		agents: population,
		index:  index,
		rng:    entropy.New(opts.Seed + int64(tick)),
		opts:   opts,
		tick:   tick,
		subs:   make(map[int]chan TickStats),
	}
	s.env = agents.Env{
		Space:   grid,
		Rand:    s.rng,
		Params:  opts.Params,
		Observe: s.observe,
	}
	s.stats = s.collect()
	return s
}

func (o Options) validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("grid %dx%d must be positive", o.Width, o.Height)
	}
	if o.Params.ArrestProbConstant <= 0 {
		return fmt.Errorf("arrest_prob_constant %v must be > 0", o.Params.ArrestProbConstant)
	}
	if o.Params.MaxJailTerm < 0 {
		return fmt.Errorf("max_jail_term %d must be >= 0", o.Params.MaxJailTerm)
	}
	if _, err := ParseOrder(string(o.Order)); err != nil {
		return err
	}
	return nil
}

// Step advances the world by one tick. The engine's OnTick hook.
//
// An agent error aborts the tick: the tick counter, stats and events stay at
// the previous tick, but agents that stepped before the failure keep their
// changes, so the run should end there.
func (s *Simulation) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.arrests, s.conversions = 0, 0
	events, unsaved := len(s.events), len(s.unsavedEvents)
	for _, a := range activation(s.opts.Order, s.agents, s.rng) {
		if err := a.Step(&s.env); err != nil {
			s.events = s.events[:events]
			s.unsavedEvents = s.unsavedEvents[:unsaved]
			return fmt.Errorf("tick %d: %w", s.tick+1, err)
		}
	}
	s.tick++

	s.stats = s.collect()
	s.history = append(s.history, s.stats)
	if s.journal {
		s.unsavedStats = append(s.unsavedStats, s.stats)
	}
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
	s.publish(s.stats)
	return nil
}

// observe runs inside Step, before the tick counter advances.
func (s *Simulation) observe(ev agents.Event) {
	e := Event{
		Tick:     s.tick + 1,
		Category: string(ev.Kind),
		Actor:    ev.Actor,
		Target:   ev.Target,
	}
	switch ev.Kind {
	case agents.EventArrest:
		s.arrests++
		e.Description = fmt.Sprintf("cop %d jailed citizen %d for %d ticks", ev.Actor, ev.Target, ev.Sentence)
	case agents.EventRadicalize:
		s.conversions++
		e.Description = fmt.Sprintf("radicalizer %d radicalized citizen %d", ev.Actor, ev.Target)
	}
	s.events = append(s.events, e)
	if s.journal {
		s.unsavedEvents = append(s.unsavedEvents, e)
	}
}

// Checkpoint is what storage needs to catch up with the simulation, taken
// under a single lock.
type Checkpoint struct {
	Tick   uint64
	Stats  []TickStats // ticks after the last MarkSaved
	Events []Event     // events after the last MarkSaved
	Agents []agents.Record
}

// Journal starts keeping every stat and event produced from now on until
// MarkSaved releases it, independent of the in-memory history limits.
func (s *Simulation) Journal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.journal {
		s.journal = true
		s.savedTick = s.tick
	}
}

// Checkpoint returns the journaled stats and events plus every agent record.
func (s *Simulation) Checkpoint() Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := Checkpoint{
		Tick:   s.tick,
		Stats:  append([]TickStats(nil), s.unsavedStats...),
		Events: append([]Event(nil), s.unsavedEvents...),
		Agents: make([]agents.Record, len(s.agents)),
	}
	for i, a := range s.agents {
		cp.Agents[i] = a.Record()
	}
	return cp
}

// MarkSaved releases journaled entries up to and including tick.
func (s *Simulation) MarkSaved(tick uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tick > s.savedTick {
		s.savedTick = tick
	}
	i := 0
	for i < len(s.unsavedStats) && s.unsavedStats[i].Tick <= tick {
		i++
	}
	s.unsavedStats = append([]TickStats(nil), s.unsavedStats[i:]...)
	j := 0
	for j < len(s.unsavedEvents) && s.unsavedEvents[j].Tick <= tick {
		j++
	}
	s.unsavedEvents = append([]Event(nil), s.unsavedEvents[j:]...)
}

// SavedTick is the newest tick storage has acknowledged through MarkSaved.
func (s *Simulation) SavedTick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.savedTick
}

// Report logs a summary of the current tick.
func (s *Simulation) Report() {
	st := s.Stats()
	slog.Info("tick report",
		"tick", st.Tick,
		"quiescent", st.Quiescent,
		"active", st.Active,
		"jailed", st.Jailed,
		"radicalized", st.Radicalized,
		"arrests", st.Arrests,
		"conversions", st.Conversions,
	)
}

// Tick returns the most recently completed tick.
func (s *Simulation) Tick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}

// Options returns the scenario the simulation was built from.
func (s *Simulation) Options() Options {
	return s.opts
}

// Stats returns the counts for the current tick.
func (s *Simulation) Stats() TickStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// History returns per-tick stats for ticks after since, oldest first.
func (s *Simulation) History(since uint64) []TickStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TickStats
	for _, st := range s.history {
		if st.Tick > since {
			out = append(out, st)
		}
	}
	return out
}

// Events returns in-memory events after tick since, oldest first.
func (s *Simulation) Events(since uint64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.Tick > since {
			out = append(out, e)
		}
	}
	return out
}

// Records returns a flat copy of every agent in creation order.
func (s *Simulation) Records() []agents.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agents.Record, len(s.agents))
	for i, a := range s.agents {
		out[i] = a.Record()
	}
	return out
}

// Agent returns one agent's record.
func (s *Simulation) Agent(id agents.AgentID) (agents.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.index[id]
	if !ok {
		return agents.Record{}, false
	}
	return a.Record(), true
}

// Subscribe registers a listener for per-tick stats. Slow listeners miss
// ticks rather than stalling the simulation.
func (s *Simulation) Subscribe() (int, <-chan TickStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan TickStats, subBuffer)
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (s *Simulation) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Simulation) publish(st TickStats) {
	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
		}
	}
}
