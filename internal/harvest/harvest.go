// Package harvest condenses a run directory into a single SQLite
// database that downstream analysis can query without walking the
// per-iteration YAML snapshots.
//
// Harvesting is a wholesale rebuild: any existing cache at the target
// path is removed first, so the cache never drifts from the run
// directory it was built from. Re-running harvest after more steps
// complete is always safe.
package harvest

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/seismolab/scoter/internal/model"
	"github.com/seismolab/scoter/internal/rundir"
)

//go:embed schema.sql
var schemaSQL string

// Options controls what the harvester retains.
type Options struct {
	// Weed keeps, per event, only the highest iteration in which the
	// event was located (or the last iteration if it never located).
	// Superseded per-event states are discarded.
	Weed bool

	// LastIter keeps only each step's final iteration. Smallest cache,
	// loses convergence history. Implies Weed is irrelevant.
	LastIter bool

	// Progress, when non-nil, is called after each iteration is loaded.
	Progress func(step model.Step, iteration int)
}

// Build rebuilds the cache at dbPath from the given run directory.
// Steps that are readable but not committed are included as-is; a run
// directory with no readable steps is an error.
func Build(store *rundir.Store, dbPath string, opts Options) error {
	steps, err := store.Steps()
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	if len(steps) == 0 {
		return fmt.Errorf("harvest: no readable steps in %s", store.Dir())
	}

	// Wholesale rebuild: drop any previous cache, including WAL
	// sidecar files.
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("harvest: remove stale cache: %w", err)
		}
	}

	db, err := openDB(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("harvest: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO run (id, harvested_at, weed, last_iter) VALUES (?, ?, ?, ?)`,
		store.Meta().ID, time.Now().UTC().Format(time.RFC3339), boolInt(opts.Weed), boolInt(opts.LastIter),
	); err != nil {
		return fmt.Errorf("harvest: record run: %w", err)
	}

	for _, step := range steps {
		res, err := store.ReadStep(step)
		if err != nil {
			return fmt.Errorf("harvest: read step %s: %w", step, err)
		}
		if err := loadStep(tx, res, opts); err != nil {
			return fmt.Errorf("harvest: step %s: %w", step, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("harvest: commit: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("harvest: open cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("harvest: connect: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("harvest: %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("harvest: apply schema: %w", err)
	}
	return db, nil
}

// loadStep inserts one step's iterations, applying the retention
// options.
func loadStep(tx *sql.Tx, res *model.StepResult, opts Options) error {
	if _, err := tx.Exec(
		`INSERT INTO steps (step, termination, iterations) VALUES (?, ?, ?)`,
		string(res.Step), string(res.Termination), len(res.Iterations),
	); err != nil {
		return err
	}

	iters := res.Iterations
	if opts.LastIter && len(iters) > 1 {
		iters = iters[len(iters)-1:]
	}

	// In weed mode, an event's rows survive only from its best
	// iteration: the highest located one, or the last one it appears
	// in if it never located.
	var keep map[string]int
	if opts.Weed && !opts.LastIter {
		keep = bestIterations(iters)
	}

	for _, it := range iters {
		if err := loadIteration(tx, res.Step, it, keep); err != nil {
			return err
		}
		if opts.Progress != nil {
			opts.Progress(res.Step, it.Index)
		}
	}
	return nil
}

func bestIterations(iters []model.Iteration) map[string]int {
	best := make(map[string]int)
	located := make(map[string]bool)
	for _, it := range iters {
		for _, ev := range it.Events {
			switch {
			case ev.Status == model.StatusLocated:
				best[ev.Name] = it.Index
				located[ev.Name] = true
			case !located[ev.Name]:
				best[ev.Name] = it.Index
			}
		}
	}
	return best
}

func loadIteration(tx *sql.Tx, step model.Step, it model.Iteration, keep map[string]int) error {
	for _, ev := range it.Events {
		if keep != nil && keep[ev.Name] != it.Index {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO events (step, iteration, name, lat, lon, depth_km, time, status, fail_reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(step), it.Index, ev.Name,
			ev.Hypo.Lat, ev.Hypo.Lon, ev.Hypo.DepthKm, ev.Hypo.Time,
			string(ev.Status), ev.FailReason,
		); err != nil {
			return err
		}
		for key, r := range ev.Residuals {
			var dist any
			if d, ok := ev.Distances[key]; ok {
				dist = d
			}
			if _, err := tx.Exec(
				`INSERT INTO residuals (step, iteration, event, station, phase, residual, distance_km)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				string(step), it.Index, ev.Name, key.Station, key.Phase, r, dist,
			); err != nil {
				return err
			}
		}
	}

	for key, term := range it.Terms.Static {
		if _, err := tx.Exec(
			`INSERT INTO static_terms (step, iteration, station, phase, correction, count)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			string(step), it.Index, key.Station, key.Phase, term.Correction, term.Count,
		); err != nil {
			return err
		}
	}
	for event, terms := range it.Terms.PerEvent {
		for key, term := range terms {
			if _, err := tx.Exec(
				`INSERT INTO ssst_terms (step, iteration, event, station, phase, correction, count)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				string(step), it.Index, event, key.Station, key.Phase, term.Correction, term.Count,
			); err != nil {
				return err
			}
		}
	}

	var smad any
	if it.Dispersion != nil {
		smad = *it.Dispersion
	}
	if _, err := tx.Exec(
		`INSERT INTO dispersion (step, iteration, smad) VALUES (?, ?, ?)`,
		string(step), it.Index, smad,
	); err != nil {
		return err
	}
	return nil
}
