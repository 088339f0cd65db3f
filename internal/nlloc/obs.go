// Package nlloc reads and writes NonLinLoc phase files (obsFileType
// NLLOC_OBS), the bulletin format events are ingested from.
//
// Only the pick information the relocation pipeline needs is retained:
// station label, optional network code, phase label, and arrival time.
package nlloc

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/seismolab/scoter/internal/model"
)

// Error reports a malformed or unreadable NonLinLoc file.
type Error struct {
	Path    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("nlloc: %s: %s", e.Path, e.Message)
}

// Uncertainty model keywords that mark a phase line outside an explicit
// PHASE ... END_PHASE block.
var phaseLinePattern = regexp.MustCompile(`(?i)\sGAU\s|\sBOX\s|\sFIX\s|\sNONE\s`)

// LoadObs reads a NonLinLoc phase file into picks.
//
// delimiter, when non-empty, splits the station label into network and
// station codes. When empty the whole label is the station code and the
// network code is left blank.
func LoadObs(path, delimiter string) ([]model.Pick, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	phaseLines := extractPhaseBlock(lines)
	if len(phaseLines) == 0 {
		return nil, &Error{Path: path, Message: "bulletin file seems corrupt: no phase lines"}
	}

	picks := make([]model.Pick, 0, len(phaseLines))
	for _, line := range phaseLines {
		pick, err := parsePhaseLine(line, delimiter)
		if err != nil {
			return nil, &Error{Path: path, Message: err.Error()}
		}
		picks = append(picks, pick)
	}
	return picks, nil
}

// extractPhaseBlock returns the phase lines: the PHASE...END_PHASE block
// when both markers are present, otherwise every line carrying an
// uncertainty-model keyword.
func extractPhaseBlock(lines []string) []string {
	start, end := -1, -1
	for i, line := range lines {
		if strings.HasPrefix(line, "PHASE ") {
			start = i
		} else if strings.HasPrefix(line, "END_PHASE") {
			end = i
		}
	}
	if start >= 0 && end > start {
		return lines[start+1 : end]
	}

	var out []string
	for _, line := range lines {
		if phaseLinePattern.MatchString(line) {
			out = append(out, line)
		}
	}
	return out
}

func parsePhaseLine(line, delimiter string) (model.Pick, error) {
	items := strings.Fields(line)
	if len(items) < 9 {
		return model.Pick{}, fmt.Errorf("short phase line: %q", line)
	}

	label := norm.NFC.String(items[0])
	network, station := splitLabel(label, delimiter)
	phase := items[4]

	t, err := parsePickTime(items[6], items[7], items[8])
	if err != nil {
		return model.Pick{}, fmt.Errorf("phase line %q: %w", line, err)
	}

	return model.Pick{Station: station, Network: network, Phase: phase, Time: t}, nil
}

func splitLabel(label, delimiter string) (network, station string) {
	if delimiter == "" {
		return "", label
	}
	net, sta, ok := strings.Cut(label, delimiter)
	if !ok {
		return "", label
	}
	return net, sta
}

// parsePickTime converts the date, hour-minute, and seconds fields to
// epoch seconds. NonLinLoc writes hours >= 24 for arrivals after midnight
// of the origin day; those roll over into the next day.
func parsePickTime(date, hrmn, sec string) (float64, error) {
	seconds, err := strconv.ParseFloat(sec, 64)
	if err != nil {
		return 0, fmt.Errorf("bad seconds field %q", sec)
	}

	var extra time.Duration
	base, err := time.Parse("20060102 1504", date+" "+hrmn)
	if err != nil && len(hrmn) == 4 {
		// Hour field of 24 or more: keep the minutes, add one day.
		base, err = time.Parse("20060102 1504", date+" 00"+hrmn[2:])
		extra = 24 * time.Hour
	}
	if err != nil {
		return 0, fmt.Errorf("bad time fields %q %q", date, hrmn)
	}

	return float64(base.Add(extra).Unix()) + seconds, nil
}

// DumpObs writes picks as a NonLinLoc phase file, sorted by arrival time.
// Parent directories are created as needed.
//
// delimiter, when non-empty, joins network and station codes into the
// written station label; otherwise they are concatenated directly.
func DumpObs(picks []model.Pick, path, delimiter string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(FormatObs(picks, delimiter)), 0o644)
}

// FormatObs renders picks as NonLinLoc phase-file text, sorted by
// arrival time.
func FormatObs(picks []model.Pick, delimiter string) string {
	sorted := make([]model.Pick, len(picks))
	copy(sorted, picks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	var b strings.Builder
	b.WriteString("PHASE ID Ins Cmp On Pha FM Date HrMn Sec Err ErrMag Coda Amp Per\n")
	for _, p := range sorted {
		label := p.Network + p.Station
		if delimiter != "" {
			label = p.Network + delimiter + p.Station
		}

		whole := int64(p.Time)
		frac := p.Time - float64(whole)
		ts := time.Unix(whole, 0).UTC()

		b.WriteString(fmt.Sprintf(
			"%-8s %-4s %-4s %1s %-6s %1s %s %s %07.4f GAU %9.2e %9.2e %9.2e %9.2e\n",
			label, "?", "?", "?", p.Phase, "?",
			ts.Format("20060102"), ts.Format("1504"),
			float64(ts.Second())+frac,
			-1.0, -1.0, -1.0, -1.0))
	}
	b.WriteString("END_PHASE\n")
	return b.String()
}
