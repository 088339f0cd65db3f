// Package export renders harvest query results for downstream tools.
//
// Two renderings are supported: "columns", a fixed-width table with a
// header row for humans, and "pyrocko", a headerless tab-separated
// table for machine ingestion.
package export

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/seismolab/scoter/internal/harvest"
	"github.com/seismolab/scoter/internal/model"
)

// Format selects a rendering.
type Format string

const (
	FormatColumns Format = "columns"
	FormatPyrocko Format = "pyrocko"
)

// ParseFormat validates a format name from the command line.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatColumns, FormatPyrocko:
		return Format(s), nil
	}
	return "", fmt.Errorf("export: unknown format %q (want columns or pyrocko)", s)
}

// formatTime renders epoch seconds as a UTC timestamp with
// millisecond precision.
func formatTime(epoch float64) string {
	sec := math.Floor(epoch)
	nsec := int64(math.Round((epoch-sec)*1e3)) * 1e6
	return time.Unix(int64(sec), nsec).UTC().Format("2006-01-02 15:04:05.000")
}

// writeRow writes one trimmed line. Fixed-width rows pick up trailing
// padding when the final column is empty.
func writeRow(w io.Writer, format string, args ...any) error {
	line := fmt.Sprintf(format, args...)
	_, err := io.WriteString(w, strings.TrimRight(line, " ")+"\n")
	return err
}

func tabRow(w io.Writer, fields ...string) error {
	_, err := io.WriteString(w, strings.Join(fields, "\t")+"\n")
	return err
}

// Events renders event states. The pyrocko table carries depth in
// meters the way pyrocko event files do, and only located events,
// since a failed event has no hypocenter worth plotting.
func Events(w io.Writer, f Format, rows []harvest.EventRow) error {
	if f == FormatPyrocko {
		for _, ev := range rows {
			if ev.Status != model.StatusLocated {
				continue
			}
			if err := tabRow(w,
				ev.Name,
				formatTime(ev.Hypo.Time),
				strconv.FormatFloat(ev.Hypo.Lat, 'f', 5, 64),
				strconv.FormatFloat(ev.Hypo.Lon, 'f', 5, 64),
				strconv.FormatFloat(ev.Hypo.DepthKm*1000, 'f', 1, 64),
			); err != nil {
				return err
			}
		}
		return nil
	}

	const rowFmt = "%-16s %4v %-8s %10v %11v %9v %-23s %s"
	if err := writeRow(w, rowFmt, "EVENT", "ITER", "STATUS", "LAT", "LON", "DEPTH_KM", "TIME", "FAIL"); err != nil {
		return err
	}
	for _, ev := range rows {
		if err := writeRow(w, "%-16s %4d %-8s %10.5f %11.5f %9.2f %-23s %s",
			ev.Name, ev.Iteration, string(ev.Status),
			ev.Hypo.Lat, ev.Hypo.Lon, ev.Hypo.DepthKm,
			formatTime(ev.Hypo.Time), ev.FailReason,
		); err != nil {
			return err
		}
	}
	return nil
}

// Residuals renders station-phase residual observations.
func Residuals(w io.Writer, f Format, rows []harvest.ResidualRow) error {
	dist := func(r harvest.ResidualRow) string {
		if r.DistanceKm == nil {
			return "-"
		}
		return strconv.FormatFloat(*r.DistanceKm, 'f', 1, 64)
	}

	if f == FormatPyrocko {
		for _, r := range rows {
			if err := tabRow(w,
				strconv.Itoa(r.Iteration), r.Event, r.Station, r.Phase,
				strconv.FormatFloat(r.Residual, 'f', 4, 64), dist(r),
			); err != nil {
				return err
			}
		}
		return nil
	}

	const rowFmt = "%4v %-16s %-8s %-6s %9v %8v"
	if err := writeRow(w, rowFmt, "ITER", "EVENT", "STATION", "PHASE", "RESIDUAL", "DIST_KM"); err != nil {
		return err
	}
	for _, r := range rows {
		if err := writeRow(w, "%4d %-16s %-8s %-6s %9.4f %8s",
			r.Iteration, r.Event, r.Station, r.Phase, r.Residual, dist(r),
		); err != nil {
			return err
		}
	}
	return nil
}

// Terms renders correction terms. Static terms have no event column;
// per-event terms carry one.
func Terms(w io.Writer, f Format, rows []harvest.TermRow) error {
	perEvent := false
	for _, t := range rows {
		if t.Event != "" {
			perEvent = true
			break
		}
	}

	if f == FormatPyrocko {
		for _, t := range rows {
			fields := []string{t.Station, t.Phase,
				strconv.FormatFloat(t.Correction, 'f', 4, 64), strconv.Itoa(t.Count)}
			if perEvent {
				fields = append([]string{t.Event}, fields...)
			}
			if err := tabRow(w, fields...); err != nil {
				return err
			}
		}
		return nil
	}

	if perEvent {
		if err := writeRow(w, "%-16s %-8s %-6s %11v %6v", "EVENT", "STATION", "PHASE", "CORRECTION", "COUNT"); err != nil {
			return err
		}
		for _, t := range rows {
			if err := writeRow(w, "%-16s %-8s %-6s %11.4f %6d",
				t.Event, t.Station, t.Phase, t.Correction, t.Count); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeRow(w, "%-8s %-6s %11v %6v", "STATION", "PHASE", "CORRECTION", "COUNT"); err != nil {
		return err
	}
	for _, t := range rows {
		if err := writeRow(w, "%-8s %-6s %11.4f %6d",
			t.Station, t.Phase, t.Correction, t.Count); err != nil {
			return err
		}
	}
	return nil
}

// Convergence renders a step's dispersion curve. Indeterminate
// iterations show "-".
func Convergence(w io.Writer, f Format, points []harvest.ConvergencePoint) error {
	smad := func(p harvest.ConvergencePoint) string {
		if p.SMAD == nil {
			return "-"
		}
		return strconv.FormatFloat(*p.SMAD, 'f', 4, 64)
	}

	if f == FormatPyrocko {
		for _, p := range points {
			if err := tabRow(w, strconv.Itoa(p.Iteration), smad(p)); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeRow(w, "%4v %9v", "ITER", "SMAD"); err != nil {
		return err
	}
	for _, p := range points {
		if err := writeRow(w, "%4d %9s", p.Iteration, smad(p)); err != nil {
			return err
		}
	}
	return nil
}

// Histogram renders binned residual counts.
func Histogram(w io.Writer, f Format, bins []harvest.HistogramBin) error {
	if f == FormatPyrocko {
		for _, b := range bins {
			if err := tabRow(w,
				strconv.FormatFloat(b.Lo, 'f', 2, 64),
				strconv.FormatFloat(b.Hi, 'f', 2, 64),
				strconv.Itoa(b.Count),
			); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeRow(w, "%8v %8v %6v", "LO", "HI", "COUNT"); err != nil {
		return err
	}
	for _, b := range bins {
		if err := writeRow(w, "%8.2f %8.2f %6d", b.Lo, b.Hi, b.Count); err != nil {
			return err
		}
	}
	return nil
}

// Heatmap renders distance-residual bins.
func Heatmap(w io.Writer, f Format, cells []harvest.HeatCell) error {
	if f == FormatPyrocko {
		for _, c := range cells {
			if err := tabRow(w,
				strconv.FormatFloat(c.DistLo, 'f', 1, 64),
				strconv.FormatFloat(c.DistHi, 'f', 1, 64),
				strconv.FormatFloat(c.ResLo, 'f', 2, 64),
				strconv.FormatFloat(c.ResHi, 'f', 2, 64),
				strconv.Itoa(c.Count),
			); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeRow(w, "%8v %8v %8v %8v %6v", "DIST_LO", "DIST_HI", "RES_LO", "RES_HI", "COUNT"); err != nil {
		return err
	}
	for _, c := range cells {
		if err := writeRow(w, "%8.1f %8.1f %8.2f %8.2f %6d",
			c.DistLo, c.DistHi, c.ResLo, c.ResHi, c.Count); err != nil {
			return err
		}
	}
	return nil
}
