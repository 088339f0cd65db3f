// Package rundir is the durable, resumable on-disk representation of one
// multi-event location run.
//
// Layout, keyed by step name then iteration index:
//
//	<dir>/run.yaml                      run identity and creation time
//	<dir>/steps/<step>/meta.yaml        termination record, written last
//	<dir>/steps/<step>/iter-001/
//	    events.yaml                     event snapshot
//	    terms.yaml                      term snapshot
//	    meta.yaml                       index, dispersion, content digest
//
// Iteration writes are staged in a hidden directory and renamed into
// place, so a reader (or a resumed run) never sees a half-written
// iteration. The store has exactly one writer at a time; preventing
// concurrent runs on the same directory is the caller's job.
package rundir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/seismolab/scoter/internal/model"
)

// ErrPathExists is returned when a destructive write would overwrite
// existing results without force.
var ErrPathExists = errors.New("path already exists")

// ErrNotFound is returned when a read targets a step or run that was
// never computed.
var ErrNotFound = errors.New("not found")

const (
	runMetaFile  = "run.yaml"
	stepMetaFile = "meta.yaml"
	eventsFile   = "events.yaml"
	termsFile    = "terms.yaml"
	iterMetaFile = "meta.yaml"
	stepsDir     = "steps"
)

// RunMeta identifies a run directory.
type RunMeta struct {
	ID      string    `yaml:"id"` // UUIDv7, time-sortable
	Created time.Time `yaml:"created"`
	Config  any       `yaml:"config,omitempty"` // echo of the active configuration
}

type stepMeta struct {
	Step        model.Step        `yaml:"step"`
	Termination model.Termination `yaml:"termination"`
}

type iterMeta struct {
	Index      int      `yaml:"index"`
	Dispersion *float64 `yaml:"dispersion,omitempty"`
	Digest     string   `yaml:"digest"`
}

// Store is a handle to one run directory.
type Store struct {
	dir  string
	meta RunMeta
}

// Open creates or opens a run directory. A fresh directory is stamped
// with a new run identity; an existing one keeps its identity, making
// the run resumable.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, stepsDir), 0o755); err != nil {
		return nil, fmt.Errorf("open run directory: %w", err)
	}

	metaPath := filepath.Join(dir, runMetaFile)
	var meta RunMeta
	data, err := os.ReadFile(metaPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("parse %s: %w", metaPath, err)
		}
	case os.IsNotExist(err):
		meta = RunMeta{
			ID:      uuid.Must(uuid.NewV7()).String(),
			Created: time.Now().UTC(),
		}
		if err := writeYAML(metaPath, meta); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read %s: %w", metaPath, err)
	}

	return &Store{dir: dir, meta: meta}, nil
}

// Dir returns the run directory path.
func (s *Store) Dir() string { return s.dir }

// Meta returns the run identity.
func (s *Store) Meta() RunMeta { return s.meta }

// StampConfig echoes the active configuration into run.yaml so the
// directory records what produced it. Identity and creation time are
// preserved.
func (s *Store) StampConfig(cfg any) error {
	s.meta.Config = cfg
	return writeYAML(filepath.Join(s.dir, runMetaFile), s.meta)
}

func (s *Store) stepDir(step model.Step) string {
	return filepath.Join(s.dir, stepsDir, string(step))
}

func iterDirName(index int) string {
	return fmt.Sprintf("iter-%03d", index)
}

// Exists reports whether any on-disk results exist for the step.
// Drives the skip-unless-forced policy.
func (s *Store) Exists(step model.Step) bool {
	_, err := os.Stat(s.stepDir(step))
	return err == nil
}

// Purge removes all results for the step. Used when force is set.
// Purging an absent step is not an error.
func (s *Store) Purge(step model.Step) error {
	if err := os.RemoveAll(s.stepDir(step)); err != nil {
		return fmt.Errorf("purge step %s: %w", step, err)
	}
	return nil
}

// WriteIteration commits one iteration snapshot. The write is atomic from
// the caller's perspective: the iteration directory appears fully
// populated or not at all.
//
// Returns ErrPathExists (wrapped) when the iteration was already written;
// overwriting requires purging the step first.
func (s *Store) WriteIteration(step model.Step, it model.Iteration) error {
	stepDir := s.stepDir(step)
	final := filepath.Join(stepDir, iterDirName(it.Index))
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("step %s iteration %d: %w", step, it.Index, ErrPathExists)
	}

	staging := filepath.Join(stepDir, ".staging-"+iterDirName(it.Index))
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear staging: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("create staging: %w", err)
	}

	meta := iterMeta{Index: it.Index, Dispersion: it.Dispersion, Digest: it.Digest()}
	if err := writeYAML(filepath.Join(staging, eventsFile), it.Events); err != nil {
		return err
	}
	if err := writeYAML(filepath.Join(staging, termsFile), it.Terms); err != nil {
		return err
	}
	if err := writeYAML(filepath.Join(staging, iterMetaFile), meta); err != nil {
		return err
	}

	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("commit iteration: %w", err)
	}
	return nil
}

// CommitStep writes the step's termination record. Called once, after the
// final iteration is on disk; its presence marks the step complete.
func (s *Store) CommitStep(step model.Step, term model.Termination) error {
	return writeYAML(filepath.Join(s.stepDir(step), stepMetaFile), stepMeta{
		Step:        step,
		Termination: term,
	})
}

// ReadStep returns the step's ordered iterations and termination record.
//
// Returns ErrNotFound (wrapped) when the step was never computed. Snapshot
// digests are verified; a mismatch means the directory was corrupted or
// hand-edited and the step cannot be trusted for resume.
func (s *Store) ReadStep(step model.Step) (*model.StepResult, error) {
	stepDir := s.stepDir(step)
	entries, err := os.ReadDir(stepDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("step %s: %w", step, ErrNotFound)
		}
		return nil, fmt.Errorf("read step %s: %w", step, err)
	}

	// Sort by parsed index, not name: "iter-1000" sorts lexically before
	// "iter-999".
	type iterDir struct {
		name  string
		index int
	}
	var iterDirs []iterDir
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "iter-") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "iter-"))
		if err != nil {
			return nil, fmt.Errorf("step %s: malformed iteration directory %q", step, e.Name())
		}
		iterDirs = append(iterDirs, iterDir{name: e.Name(), index: index})
	}
	sort.Slice(iterDirs, func(i, j int) bool { return iterDirs[i].index < iterDirs[j].index })

	result := &model.StepResult{Step: step}
	for i, d := range iterDirs {
		name := d.name
		it, err := s.readIteration(filepath.Join(stepDir, name))
		if err != nil {
			return nil, fmt.Errorf("step %s %s: %w", step, name, err)
		}
		if it.Index != i+1 {
			return nil, fmt.Errorf("step %s: iteration indices not contiguous: found %d at position %d", step, it.Index, i+1)
		}
		result.Iterations = append(result.Iterations, *it)
	}

	var meta stepMeta
	metaPath := filepath.Join(stepDir, stepMetaFile)
	data, err := os.ReadFile(metaPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("parse %s: %w", metaPath, err)
		}
		result.Termination = meta.Termination
	case os.IsNotExist(err):
		// Step was interrupted between iterations: readable, not complete.
	default:
		return nil, fmt.Errorf("read %s: %w", metaPath, err)
	}

	return result, nil
}

// Complete reports whether the step has a termination record.
func (s *Store) Complete(step model.Step) bool {
	_, err := os.Stat(filepath.Join(s.stepDir(step), stepMetaFile))
	return err == nil
}

// Steps lists the steps present in the run directory, sorted by name.
func (s *Store) Steps() ([]model.Step, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, stepsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run directory: %w", ErrNotFound)
		}
		return nil, err
	}
	var steps []model.Step
	for _, e := range entries {
		if e.IsDir() && model.ValidSteps[model.Step(e.Name())] {
			steps = append(steps, model.Step(e.Name()))
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })
	return steps, nil
}

func (s *Store) readIteration(dir string) (*model.Iteration, error) {
	var meta iterMeta
	if err := readYAML(filepath.Join(dir, iterMetaFile), &meta); err != nil {
		return nil, err
	}

	it := model.Iteration{Index: meta.Index, Dispersion: meta.Dispersion}
	if err := readYAML(filepath.Join(dir, eventsFile), &it.Events); err != nil {
		return nil, err
	}
	if err := readYAML(filepath.Join(dir, termsFile), &it.Terms); err != nil {
		return nil, err
	}

	if got := it.Digest(); got != meta.Digest {
		return nil, fmt.Errorf("snapshot digest mismatch: stored %s, computed %s", meta.Digest, got)
	}
	return &it, nil
}

func writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
