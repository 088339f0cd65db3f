// Package terms turns a completed iteration's per-event residuals into
// the station correction model for the next iteration.
//
// Static terms (step B) are per-(station, phase) medians over all located
// events. Source-specific terms (step C) are distance-weighted robust
// averages over each event's nearest located neighbors.
package terms

import (
	"sort"

	"github.com/seismolab/scoter/internal/geo"
	"github.com/seismolab/scoter/internal/model"
	"github.com/seismolab/scoter/internal/stats"
)

// Config bounds the SSST neighborhood.
type Config struct {
	// Neighbors is the maximum number of located neighbor events whose
	// residuals contribute to one term (K).
	Neighbors int

	// MinNeighbors is the qualifying-neighbor floor below which the event
	// falls back to the static term for that pair.
	MinNeighbors int

	// DistanceFloorKm is added to every inter-event distance so co-located
	// neighbors keep finite weight.
	DistanceFloorKm float64
}

// Static computes per-(station, phase) terms as the median of the pair's
// residuals across all located events.
//
// Pairs with zero observations in this iteration keep the prior term
// unchanged (identity on iteration 1): no information never becomes
// zero-with-confidence.
func Static(located []model.Event, prior map[model.TermKey]model.Term) map[model.TermKey]model.Term {
	byKey := make(map[model.TermKey][]float64)
	for _, ev := range located {
		for key, res := range ev.Residuals {
			byKey[key] = append(byKey[key], res)
		}
	}

	out := make(map[model.TermKey]model.Term, len(byKey)+len(prior))
	for key, term := range prior {
		out[key] = term
	}
	for key, residuals := range byKey {
		med, ok := stats.Median(residuals)
		if !ok {
			continue
		}
		out[key] = model.Term{Correction: med, Count: len(residuals)}
	}
	return out
}

// SSST computes source-specific terms: for each located event and each
// (station, phase) pair it observed, the distance-weighted median of that
// pair's residuals from the K nearest other located events, weighted by
// 1/(distance + floor).
//
// Events with fewer than MinNeighbors qualifying neighbors for a pair
// fall back to the static term for that pair (absent static term means
// identity, so the pair is simply left out).
func SSST(located []model.Event, static map[model.TermKey]model.Term, cfg Config) map[string]map[model.TermKey]model.Term {
	out := make(map[string]map[model.TermKey]model.Term, len(located))

	for i, ev := range located {
		neighbors := rankNeighbors(located, i, cfg.DistanceFloorKm)

		evTerms := make(map[model.TermKey]model.Term)
		for key := range ev.Residuals {
			values, weights := collectNeighborResiduals(neighbors, key, cfg.Neighbors)
			if len(values) < cfg.MinNeighbors {
				if st, ok := static[key]; ok && st.Count > 0 {
					evTerms[key] = st
				}
				continue
			}
			med, ok := stats.WeightedMedian(values, weights)
			if !ok {
				continue
			}
			evTerms[key] = model.Term{Correction: med, Count: len(values)}
		}
		if len(evTerms) > 0 {
			out[ev.Name] = evTerms
		}
	}
	return out
}

// neighbor is a located event ranked by distance from the target.
type neighbor struct {
	event  *model.Event
	weight float64
}

func rankNeighbors(located []model.Event, self int, floorKm float64) []neighbor {
	target := located[self].Hypo
	out := make([]neighbor, 0, len(located)-1)
	for j := range located {
		if j == self {
			continue
		}
		h := located[j].Hypo
		d := geo.DistanceKm(target.Lat, target.Lon, target.DepthKm, h.Lat, h.Lon, h.DepthKm)
		out = append(out, neighbor{event: &located[j], weight: 1 / (d + floorKm)})
	}
	// Nearest first: highest weight first.
	sort.Slice(out, func(a, b int) bool { return out[a].weight > out[b].weight })
	return out
}

// collectNeighborResiduals walks the ranked neighbors and takes residuals
// for key from the first k events that observed it.
func collectNeighborResiduals(neighbors []neighbor, key model.TermKey, k int) (values, weights []float64) {
	for _, n := range neighbors {
		if len(values) == k {
			break
		}
		if res, ok := n.event.Residuals[key]; ok {
			values = append(values, res)
			weights = append(weights, n.weight)
		}
	}
	return values, weights
}

// Dispersion returns the SMAD over all residuals of the given events,
// and false when there are none (indeterminate: the pipeline keeps
// iterating rather than treating this as an error).
func Dispersion(events []model.Event) (float64, bool) {
	var all []float64
	for _, ev := range events {
		if ev.Status != model.StatusLocated {
			continue
		}
		for _, res := range ev.Residuals {
			all = append(all, res)
		}
	}
	return stats.SMAD(all)
}
