package harvest

import (
	"database/sql"
	"fmt"
	"math"
	"sort"

	"github.com/seismolab/scoter/internal/model"
)

// Cache is a read handle on a harvested database.
type Cache struct {
	db *sql.DB
}

// Open opens an existing harvest cache for querying.
func Open(path string) (*Cache, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// StepInfo summarizes one harvested step.
type StepInfo struct {
	Step        model.Step
	Termination model.Termination
	Iterations  int
}

// Steps lists harvested steps in execution order.
func (c *Cache) Steps() ([]StepInfo, error) {
	rows, err := c.db.Query(`SELECT step, termination, iterations FROM steps ORDER BY step`)
	if err != nil {
		return nil, fmt.Errorf("harvest: steps: %w", err)
	}
	defer rows.Close()

	var out []StepInfo
	for rows.Next() {
		var info StepInfo
		var step, term string
		if err := rows.Scan(&step, &term, &info.Iterations); err != nil {
			return nil, fmt.Errorf("harvest: steps: %w", err)
		}
		info.Step = model.Step(step)
		info.Termination = model.Termination(term)
		out = append(out, info)
	}
	return out, rows.Err()
}

// EventRow is one event state in one iteration.
type EventRow struct {
	Iteration  int
	Name       string
	Hypo       model.Hypocenter
	Status     model.Status
	FailReason string
}

// Events returns event states for a step. With iteration <= 0 it
// returns each event's latest harvested state; otherwise it returns
// the states recorded for that exact iteration.
func (c *Cache) Events(step model.Step, iteration int) ([]EventRow, error) {
	var rows *sql.Rows
	var err error
	if iteration > 0 {
		rows, err = c.db.Query(
			`SELECT iteration, name, lat, lon, depth_km, time, status, fail_reason
			 FROM events WHERE step = ? AND iteration = ? ORDER BY name`,
			string(step), iteration)
	} else {
		rows, err = c.db.Query(
			`SELECT e.iteration, e.name, e.lat, e.lon, e.depth_km, e.time, e.status, e.fail_reason
			 FROM events e
			 JOIN (SELECT name, MAX(iteration) AS mi FROM events WHERE step = ? GROUP BY name) m
			   ON e.name = m.name AND e.iteration = m.mi
			 WHERE e.step = ? ORDER BY e.name`,
			string(step), string(step))
	}
	if err != nil {
		return nil, fmt.Errorf("harvest: events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var ev EventRow
		var status string
		if err := rows.Scan(&ev.Iteration, &ev.Name,
			&ev.Hypo.Lat, &ev.Hypo.Lon, &ev.Hypo.DepthKm, &ev.Hypo.Time,
			&status, &ev.FailReason); err != nil {
			return nil, fmt.Errorf("harvest: events: %w", err)
		}
		ev.Status = model.Status(status)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ResidualRow is one station-phase residual observation.
type ResidualRow struct {
	Iteration  int
	Event      string
	Station    string
	Phase      string
	Residual   float64
	DistanceKm *float64
}

// Residuals returns the residual history for one station-phase pair
// across a step's iterations, ordered by iteration then event.
func (c *Cache) Residuals(step model.Step, station, phase string) ([]ResidualRow, error) {
	rows, err := c.db.Query(
		`SELECT iteration, event, station, phase, residual, distance_km
		 FROM residuals WHERE step = ? AND station = ? AND phase = ?
		 ORDER BY iteration, event`,
		string(step), station, phase)
	if err != nil {
		return nil, fmt.Errorf("harvest: residuals: %w", err)
	}
	defer rows.Close()
	return scanResiduals(rows)
}

func scanResiduals(rows *sql.Rows) ([]ResidualRow, error) {
	var out []ResidualRow
	for rows.Next() {
		var r ResidualRow
		var dist sql.NullFloat64
		if err := rows.Scan(&r.Iteration, &r.Event, &r.Station, &r.Phase, &r.Residual, &dist); err != nil {
			return nil, fmt.Errorf("harvest: residuals: %w", err)
		}
		if dist.Valid {
			v := dist.Float64
			r.DistanceKm = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TermRow is one correction term.
type TermRow struct {
	Iteration  int
	Event      string // empty for static terms
	Station    string
	Phase      string
	Correction float64
	Count      int
}

// StaticTerms returns the final iteration's static terms for a step.
func (c *Cache) StaticTerms(step model.Step) ([]TermRow, error) {
	rows, err := c.db.Query(
		`SELECT iteration, station, phase, correction, count FROM static_terms
		 WHERE step = ? AND iteration = (SELECT MAX(iteration) FROM static_terms WHERE step = ?)
		 ORDER BY station, phase`,
		string(step), string(step))
	if err != nil {
		return nil, fmt.Errorf("harvest: static terms: %w", err)
	}
	defer rows.Close()

	var out []TermRow
	for rows.Next() {
		var t TermRow
		if err := rows.Scan(&t.Iteration, &t.Station, &t.Phase, &t.Correction, &t.Count); err != nil {
			return nil, fmt.Errorf("harvest: static terms: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SSSTerms returns per-event terms for one station-phase pair at the
// step's final iteration, ordered by event.
func (c *Cache) SSSTerms(step model.Step, station, phase string) ([]TermRow, error) {
	rows, err := c.db.Query(
		`SELECT iteration, event, station, phase, correction, count FROM ssst_terms
		 WHERE step = ? AND station = ? AND phase = ?
		   AND iteration = (SELECT MAX(iteration) FROM ssst_terms WHERE step = ?)
		 ORDER BY event`,
		string(step), station, phase, string(step))
	if err != nil {
		return nil, fmt.Errorf("harvest: ssst terms: %w", err)
	}
	defer rows.Close()

	var out []TermRow
	for rows.Next() {
		var t TermRow
		if err := rows.Scan(&t.Iteration, &t.Event, &t.Station, &t.Phase, &t.Correction, &t.Count); err != nil {
			return nil, fmt.Errorf("harvest: ssst terms: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ConvergencePoint is one step iteration's dispersion sample.
type ConvergencePoint struct {
	Iteration int
	SMAD      *float64 // nil when dispersion was indeterminate
}

// Convergence returns a step's dispersion curve, ordered by iteration.
func (c *Cache) Convergence(step model.Step) ([]ConvergencePoint, error) {
	rows, err := c.db.Query(
		`SELECT iteration, smad FROM dispersion WHERE step = ? ORDER BY iteration`,
		string(step))
	if err != nil {
		return nil, fmt.Errorf("harvest: convergence: %w", err)
	}
	defer rows.Close()

	var out []ConvergencePoint
	for rows.Next() {
		var p ConvergencePoint
		var smad sql.NullFloat64
		if err := rows.Scan(&p.Iteration, &smad); err != nil {
			return nil, fmt.Errorf("harvest: convergence: %w", err)
		}
		if smad.Valid {
			v := smad.Float64
			p.SMAD = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HeatCell is one distance-residual bin.
type HeatCell struct {
	DistLo float64
	DistHi float64
	ResLo  float64
	ResHi  float64
	Count  int
}

// ResidualHeatmap bins each event's latest harvested residuals in a
// step by source-station distance and residual value. Rows without a
// recorded distance are skipped. Both widths must be positive.
func (c *Cache) ResidualHeatmap(step model.Step, distWidth, resWidth float64) ([]HeatCell, error) {
	if distWidth <= 0 || resWidth <= 0 {
		return nil, fmt.Errorf("harvest: heatmap bin widths must be positive, got %g and %g", distWidth, resWidth)
	}
	rows, err := c.db.Query(
		`SELECT r.residual, r.distance_km FROM residuals r
		 JOIN (SELECT event, MAX(iteration) AS mi FROM residuals WHERE step = ? GROUP BY event) m
		   ON r.event = m.event AND r.iteration = m.mi
		 WHERE r.step = ? AND r.distance_km IS NOT NULL`,
		string(step), string(step))
	if err != nil {
		return nil, fmt.Errorf("harvest: heatmap: %w", err)
	}
	defer rows.Close()

	type cell struct{ di, ri int }
	counts := make(map[cell]int)
	for rows.Next() {
		var res, dist float64
		if err := rows.Scan(&res, &dist); err != nil {
			return nil, fmt.Errorf("harvest: heatmap: %w", err)
		}
		counts[cell{
			di: int(math.Floor(dist / distWidth)),
			ri: int(math.Floor(res / resWidth)),
		}]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cells := make([]cell, 0, len(counts))
	for cl := range counts {
		cells = append(cells, cl)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].di != cells[j].di {
			return cells[i].di < cells[j].di
		}
		return cells[i].ri < cells[j].ri
	})

	out := make([]HeatCell, 0, len(cells))
	for _, cl := range cells {
		out = append(out, HeatCell{
			DistLo: float64(cl.di) * distWidth,
			DistHi: float64(cl.di+1) * distWidth,
			ResLo:  float64(cl.ri) * resWidth,
			ResHi:  float64(cl.ri+1) * resWidth,
			Count:  counts[cl],
		})
	}
	return out, nil
}

// HistogramBin is one residual-count bin.
type HistogramBin struct {
	Lo    float64
	Hi    float64
	Count int
}

// ResidualHistogram bins the residuals of each event's latest
// harvested iteration in a step. Width must be positive.
func (c *Cache) ResidualHistogram(step model.Step, width float64) ([]HistogramBin, error) {
	if width <= 0 {
		return nil, fmt.Errorf("harvest: histogram width must be positive, got %g", width)
	}
	rows, err := c.db.Query(
		`SELECT r.residual FROM residuals r
		 JOIN (SELECT event, MAX(iteration) AS mi FROM residuals WHERE step = ? GROUP BY event) m
		   ON r.event = m.event AND r.iteration = m.mi
		 WHERE r.step = ?`,
		string(step), string(step))
	if err != nil {
		return nil, fmt.Errorf("harvest: histogram: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("harvest: histogram: %w", err)
		}
		counts[int(math.Floor(r/width))]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	idx := make([]int, 0, len(counts))
	for i := range counts {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]HistogramBin, 0, len(idx))
	for _, i := range idx {
		out = append(out, HistogramBin{
			Lo:    float64(i) * width,
			Hi:    float64(i+1) * width,
			Count: counts[i],
		})
	}
	return out, nil
}
