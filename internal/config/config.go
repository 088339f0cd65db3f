// Package config loads and validates run configuration.
//
// Configuration files are CUE; they are unified with the embedded #Run
// schema so defaults are filled in and invalid values fail fast, before
// any relocation work starts.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"runtime"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/seismolab/scoter/internal/model"
)

//go:embed schema.cue
var schemaCUE []byte

// ConfigurationError reports a malformed or out-of-range configuration.
// Raised before any side effect occurs.
type ConfigurationError struct {
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("configuration: %s", e.Message)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SSST holds the source-specific station term tunables. The weighting
// kernel itself lives in the terms package; these bound its reach.
type SSST struct {
	Neighbors       int     `json:"neighbors"`
	MinNeighbors    int     `json:"min_neighbors"`
	DistanceFloorKm float64 `json:"distance_floor_km"`
}

// Config is the fully-enumerated run configuration. Every tunable the
// pipeline, scheduler, or estimator needs is an explicit field here;
// nothing is passed as ad hoc dynamic arguments.
type Config struct {
	Steps         []model.Step `json:"steps"`
	Workers       int          `json:"workers"`
	Tolerance     float64      `json:"tolerance"`
	MaxIterations int          `json:"max_iterations"`
	MinPicks      int          `json:"min_picks"`
	Delimiter     string       `json:"delimiter"`
	Bulletins     string       `json:"bulletins"`
	Locator       string       `json:"locator"`
	SSST          SSST         `json:"ssst"`
}

// Default returns the configuration produced by the schema alone.
func Default() Config {
	cfg, err := parse(nil, "defaults")
	if err != nil {
		// The embedded schema must always evaluate.
		panic(err)
	}
	return cfg
}

// Load reads and validates a CUE configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigurationError{Message: fmt.Sprintf("reading %s", path), Err: err}
	}
	return parse(data, path)
}

func parse(data []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaCUE)
	if err := schema.Err(); err != nil {
		return Config{}, &ConfigurationError{Message: "compiling embedded schema", Err: err}
	}
	run := schema.LookupPath(cue.ParsePath("#Run"))
	if !run.Exists() {
		return Config{}, &ConfigurationError{Message: "embedded schema missing #Run"}
	}

	value := run
	if len(data) > 0 {
		user := ctx.CompileBytes(data, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return Config{}, &ConfigurationError{Message: fmt.Sprintf("parsing %s", filename), Err: err}
		}
		value = run.Unify(user)
	}

	if err := value.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return Config{}, &ConfigurationError{Message: fmt.Sprintf("validating %s", filename), Err: err}
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return Config{}, &ConfigurationError{Message: fmt.Sprintf("decoding %s", filename), Err: err}
	}

	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// check enforces the constraints CUE cannot express compactly.
func (c *Config) check() error {
	if len(c.Steps) == 0 {
		return &ConfigurationError{Message: "steps list is empty"}
	}
	seen := map[model.Step]bool{}
	for _, s := range c.Steps {
		if !model.ValidSteps[s] {
			return &ConfigurationError{Message: fmt.Sprintf("unknown step %q", s)}
		}
		if seen[s] {
			return &ConfigurationError{Message: fmt.Sprintf("step %q listed twice", s)}
		}
		seen[s] = true
	}
	if c.Workers == 0 || c.Workers < -1 {
		return &ConfigurationError{Message: fmt.Sprintf("workers must be positive or -1, got %d", c.Workers)}
	}
	return nil
}

// Resolve performs the one-time configuration resolution done at pipeline
// start: -1 workers becomes the machine's processor count. The result is
// a concrete worker count; nothing is recomputed per call.
func (c Config) Resolve() Config {
	if c.Workers == -1 {
		c.Workers = runtime.NumCPU()
	}
	return c
}
