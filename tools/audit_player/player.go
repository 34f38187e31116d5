// Package auditplayer summarises audit bundles for offline inspection.
package auditplayer

import (
	"sort"

	"driftpursuit/aimsolver/internal/audit"
)

// Outcome counts solves that share a strategy and accepting phase.
type Outcome struct {
	Strategy string `json:"strategy"`
	Phase    string `json:"phase"`
	Count    int    `json:"count"`
}

// Summary aggregates a bundle's event log.
type Summary struct {
	Events        int       `json:"events"`
	Frames        int       `json:"frames"`
	Solved        int       `json:"solved"`
	Failed        int       `json:"failed"`
	Outcomes      []Outcome `json:"outcomes"`
	MinFlightTime float64   `json:"min_flight_time,omitempty"`
	MaxFlightTime float64   `json:"max_flight_time,omitempty"`
	MaxResidual   float64   `json:"max_residual,omitempty"`
	FirstTick     uint64    `json:"first_tick,omitempty"`
	LastTick      uint64    `json:"last_tick,omitempty"`
}

// Load reads a bundle and returns its contents alongside a summary.
func Load(path string) (audit.Manifest, []audit.Event, []audit.Frame, Summary, error) {
	manifest, events, frames, err := audit.LoadBundle(path)
	if err != nil {
		return audit.Manifest{}, nil, nil, Summary{}, err
	}
	return manifest, events, frames, Summarize(events, frames), nil
}

// Summarize counts outcomes and flight time extremes.
func Summarize(events []audit.Event, frames []audit.Frame) Summary {
	summary := Summary{Events: len(events), Frames: len(frames)}
	counts := make(map[[2]string]int)
	first := true
	for _, event := range events {
		tick := event.Request.Tick
		if summary.FirstTick == 0 || (tick != 0 && tick < summary.FirstTick) {
			summary.FirstTick = tick
		}
		if tick > summary.LastTick {
			summary.LastTick = tick
		}
		resp := event.Response
		if !resp.OK {
			summary.Failed++
			continue
		}
		summary.Solved++
		counts[[2]string{resp.Strategy, resp.Phase}]++
		//1.- Track flight time extremes over accepted solves only.
		if first || resp.FlightTime < summary.MinFlightTime {
			summary.MinFlightTime = resp.FlightTime
		}
		if first || resp.FlightTime > summary.MaxFlightTime {
			summary.MaxFlightTime = resp.FlightTime
		}
		if resp.Residual > summary.MaxResidual {
			summary.MaxResidual = resp.Residual
		}
		first = false
	}
	for key, count := range counts {
		summary.Outcomes = append(summary.Outcomes, Outcome{Strategy: key[0], Phase: key[1], Count: count})
	}
	sort.Slice(summary.Outcomes, func(i, j int) bool {
		if summary.Outcomes[i].Strategy != summary.Outcomes[j].Strategy {
			return summary.Outcomes[i].Strategy < summary.Outcomes[j].Strategy
		}
		return summary.Outcomes[i].Phase < summary.Outcomes[j].Phase
	})
	return summary
}
