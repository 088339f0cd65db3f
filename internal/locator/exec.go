package locator

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/seismolab/scoter/internal/model"
	"github.com/seismolab/scoter/internal/nlloc"
)

// ExecEngine shells out to the external single-event locator once per
// event. The corrected picks are written to the command's stdin as a
// NonLinLoc phase file; the command prints its solution on stdout:
//
//	lat lon depth_km origin_time
//	STATION PHASE residual distance_km
//	...
//
// A non-zero exit or malformed output is a relocation failure for that
// event, not a pipeline error.
type ExecEngine struct {
	Command   string // command line, split on whitespace
	Delimiter string // joins network and station codes in written labels
}

func (e *ExecEngine) Locate(req Request) (Result, error) {
	argv := strings.Fields(e.Command)
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("locator command is empty")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(nlloc.FormatObs(req.Picks, e.Delimiter))
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return Result{}, fmt.Errorf("locator %s: %s", argv[0], strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Result{}, fmt.Errorf("locator %s: %w", argv[0], err)
	}
	return parseSolution(string(out))
}

func parseSolution(out string) (Result, error) {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return Result{}, fmt.Errorf("locator produced no output")
	}

	head := strings.Fields(lines[0])
	if len(head) != 4 {
		return Result{}, fmt.Errorf("bad solution line %q", lines[0])
	}
	var vals [4]float64
	for i, f := range head {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Result{}, fmt.Errorf("bad solution line %q: %v", lines[0], err)
		}
		vals[i] = v
	}

	res := Result{
		Hypo:      model.Hypocenter{Lat: vals[0], Lon: vals[1], DepthKm: vals[2], Time: vals[3]},
		Residuals: make(map[model.TermKey]float64),
		Distances: make(map[model.TermKey]float64),
	}
	for _, line := range lines[1:] {
		items := strings.Fields(line)
		if len(items) != 4 {
			return Result{}, fmt.Errorf("bad residual line %q", line)
		}
		r, err := strconv.ParseFloat(items[2], 64)
		if err != nil {
			return Result{}, fmt.Errorf("bad residual line %q: %v", line, err)
		}
		d, err := strconv.ParseFloat(items[3], 64)
		if err != nil {
			return Result{}, fmt.Errorf("bad residual line %q: %v", line, err)
		}
		key := model.TermKey{Station: items[0], Phase: items[1]}
		res.Residuals[key] = r
		res.Distances[key] = d
	}
	return res, nil
}
