// Package config loads scenario files.
// A scenario is YAML; it is checked against an embedded JSON Schema before
// being decoded over the defaults, then cross-field rules are validated.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/engine"
	"github.com/talgya/unrest/internal/entropy"
	"github.com/talgya/unrest/internal/world"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

//go:embed schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("schema.json", schemaJSON)

// Hardship field kinds.
const (
	HardshipUniform = "uniform"
	HardshipSimplex = "simplex"
)

type Config struct {
	Seed     int64 `yaml:"seed"`
	Movement bool  `yaml:"movement"`

	Grid        GridConfig        `yaml:"grid"`
	Population  PopulationConfig  `yaml:"population"`
	Citizens    CitizenConfig     `yaml:"citizens"`
	Enforcement EnforcementConfig `yaml:"enforcement"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Run         RunConfig         `yaml:"run"`
	Storage     StorageConfig     `yaml:"storage"`
	API         APIConfig         `yaml:"api"`
}

type GridConfig struct {
	Width  int  `yaml:"width"`
	Height int  `yaml:"height"`
	Torus  bool `yaml:"torus"`
}

type PopulationConfig struct {
	CitizenDensity     float64 `yaml:"citizen_density"`
	CopDensity         float64 `yaml:"cop_density"`
	RadicalizerDensity float64 `yaml:"radicalizer_density"`
	CitizenVision      int     `yaml:"citizen_vision"`
	CopVision          int     `yaml:"cop_vision"`
	RadicalizerVision  int     `yaml:"radicalizer_vision"`
}

type CitizenConfig struct {
	Legitimacy    float64 `yaml:"legitimacy"`
	Threshold     float64 `yaml:"threshold"`
	HardshipField string  `yaml:"hardship_field"`
	HardshipScale float64 `yaml:"hardship_scale"`
}

type EnforcementConfig struct {
	ArrestProbConstant float64 `yaml:"arrest_prob_constant"`
	MaxJailTerm        int     `yaml:"max_jail_term"`
}

type ScheduleConfig struct {
	Order string `yaml:"order"`
}

type RunConfig struct {
	MaxTicks     uint64        `yaml:"max_ticks"`
	TickInterval time.Duration `yaml:"tick_interval"`
	ReportEvery  uint64        `yaml:"report_every"`
}

type StorageConfig struct {
	DBPath      string `yaml:"db_path"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

type APIConfig struct {
	Port     int    `yaml:"port"`
	AdminKey string `yaml:"-"` // UNREST_ADMIN_KEY only
}

// Default returns the classic Epstein parameters with a small radicalizer presence.
func Default() Config {
	return Config{
		Seed:     42,
		Movement: true,
		Grid:     GridConfig{Width: 40, Height: 40, Torus: true},
		Population: PopulationConfig{
			CitizenDensity:     0.7,
			CopDensity:         0.074,
			RadicalizerDensity: 0.02,
			CitizenVision:      7,
			CopVision:          7,
			RadicalizerVision:  7,
		},
		Citizens: CitizenConfig{
			Legitimacy:    0.8,
			Threshold:     0.1,
			HardshipField: HardshipUniform,
			HardshipScale: 8,
		},
		Enforcement: EnforcementConfig{
			ArrestProbConstant: 2.3,
			MaxJailTerm:        1000,
		},
		Schedule: ScheduleConfig{Order: string(engine.OrderRandom)},
		Run:      RunConfig{MaxTicks: 200, ReportEvery: 10},
		Storage:  StorageConfig{DBPath: "data/unrest.db", SnapshotDir: "data/snapshots"},
		API:      APIConfig{Port: 8080},
	}
}

// Load reads a scenario file over the defaults. An empty path yields the
// defaults (plus environment overrides).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse checks raw YAML against the schema and decodes it into cfg.
func Parse(raw []byte, cfg *Config) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("yaml: %w", err)
	}
	if doc != nil {
		if err := validateSchema(doc); err != nil {
			return err
		}
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("yaml: %w", err)
	}
	return nil
}

// validateSchema re-encodes the YAML document as JSON so the validator sees
// JSON types.
func validateSchema(doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("UNREST_ADMIN_KEY"); key != "" {
		c.API.AdminKey = key
	}
	if p := os.Getenv("UNREST_DB_PATH"); p != "" {
		c.Storage.DBPath = p
	}
}

// Validate checks rules the schema cannot express.
func (c Config) Validate() error {
	sum := c.Population.CitizenDensity + c.Population.CopDensity + c.Population.RadicalizerDensity
	switch {
	case c.Grid.Width <= 0 || c.Grid.Height <= 0:
		return fmt.Errorf("%w: grid %dx%d must be positive", ErrInvalid, c.Grid.Width, c.Grid.Height)
	case sum > 1:
		return fmt.Errorf("%w: densities sum to %.3f, must be <= 1", ErrInvalid, sum)
	case c.Enforcement.ArrestProbConstant <= 0:
		return fmt.Errorf("%w: arrest_prob_constant must be > 0", ErrInvalid)
	case c.Enforcement.MaxJailTerm < 0:
		return fmt.Errorf("%w: max_jail_term must be >= 0", ErrInvalid)
	case c.Citizens.Legitimacy < 0 || c.Citizens.Legitimacy > 1:
		return fmt.Errorf("%w: legitimacy must be in [0,1]", ErrInvalid)
	case c.Citizens.Threshold < 0:
		return fmt.Errorf("%w: threshold must be >= 0", ErrInvalid)
	case c.Citizens.HardshipField != HardshipUniform && c.Citizens.HardshipField != HardshipSimplex:
		return fmt.Errorf("%w: unknown hardship_field %q", ErrInvalid, c.Citizens.HardshipField)
	case c.Run.TickInterval < 0:
		return fmt.Errorf("%w: tick_interval must be >= 0", ErrInvalid)
	}
	if _, err := engine.ParseOrder(c.Schedule.Order); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ResolveSeed replaces a zero seed with a random one and returns the result.
func (c *Config) ResolveSeed() int64 {
	if c.Seed == 0 {
		c.Seed = entropy.RandomSeed()
	}
	return c.Seed
}

// Options converts the scenario into simulation options.
func (c Config) Options() engine.Options {
	order, _ := engine.ParseOrder(c.Schedule.Order)
	sc := agents.Scenario{
		CitizenDensity:     c.Population.CitizenDensity,
		CopDensity:         c.Population.CopDensity,
		RadicalizerDensity: c.Population.RadicalizerDensity,
		CitizenVision:      c.Population.CitizenVision,
		CopVision:          c.Population.CopVision,
		RadicalizerVision:  c.Population.RadicalizerVision,
		Legitimacy:         c.Citizens.Legitimacy,
		Threshold:          c.Citizens.Threshold,
	}
	if c.Citizens.HardshipField == HardshipSimplex {
		sc.Hardship = world.NoiseField(c.Grid.Width, c.Grid.Height, c.Seed+100, c.Citizens.HardshipScale)
	}
	return engine.Options{
		Width:  c.Grid.Width,
		Height: c.Grid.Height,
		Torus:  c.Grid.Torus,
		Seed:   c.Seed,
		Order:  order,
		Params: agents.Params{
			Movement:           c.Movement,
			ArrestProbConstant: c.Enforcement.ArrestProbConstant,
			MaxJailTerm:        c.Enforcement.MaxJailTerm,
		},
		Scenario: sc,
	}
}
