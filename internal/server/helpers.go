package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwbudde/eqfit/internal/eq"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError sends a JSON error body so API clients never have to parse
// plain-text errors.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// jobSummary is the list-endpoint view of a job, without the curve and
// parameter payloads.
type jobSummary struct {
	ID         string     `json:"id"`
	State      JobState   `json:"state"`
	Algorithm  string     `json:"algorithm"`
	Filters    int        `json:"filters"`
	GridPoints int        `json:"gridPoints"`
	Generation int        `json:"generation"`
	BestCost   float64    `json:"bestCost"`
	Preamp     float64    `json:"preamp"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func summarizeJob(job *Job) jobSummary {
	return jobSummary{
		ID:         job.ID,
		State:      job.State,
		Algorithm:  job.Config.Algorithm,
		Filters:    job.Config.Filters,
		GridPoints: len(job.Config.Frequencies),
		Generation: job.Generation,
		BestCost:   job.BestCost,
		Preamp:     job.Preamp,
		StartTime:  job.StartTime,
		EndTime:    job.EndTime,
		Error:      job.Error,
	}
}

// filterJSON is the wire form of one fitted filter.
type filterJSON struct {
	Type string  `json:"type"`
	Fc   float64 `json:"fc"`
	Gain float64 `json:"gain"`
	Q    float64 `json:"q"`
}

func filtersToJSON(filters []eq.FilterSpec) []filterJSON {
	out := make([]filterJSON, len(filters))
	for i, f := range filters {
		out[i] = filterJSON{
			Type: f.Type.String(),
			Fc:   f.Fc,
			Gain: f.Gain,
			Q:    f.Q,
		}
	}
	return out
}

// resultPayload assembles the result-endpoint body from a finished (or
// cancelled-with-progress) job snapshot.
func resultPayload(job *Job) map[string]interface{} {
	filters := eq.DecodeFilters(job.BestParams)
	return map[string]interface{}{
		"id":          job.ID,
		"state":       job.State,
		"filters":     filtersToJSON(filters),
		"preamp":      eq.Preamp(filters),
		"bestParams":  job.BestParams,
		"bestCost":    job.BestCost,
		"initialCost": job.InitialCost,
		"generations": job.Generation,
	}
}
