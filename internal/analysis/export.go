package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/devicetime/internal/db"
)

// Report is the JSON document written by WriteJSON.
type Report struct {
	Source          string    `json:"source"`
	TickFrequencyHz float64   `json:"tick_frequency_hz"`
	WrapModulus     uint64    `json:"wrap_modulus"`
	SwitchTimeSecs  float64   `json:"switch_time_secs"`
	Results         []*Result `json:"results"`
}

// NewReport bundles results with the parameters they were produced under.
func NewReport(source string, in Input, results []*Result) *Report {
	return &Report{
		Source:          source,
		TickFrequencyHz: in.Params.TickFrequencyHz,
		WrapModulus:     in.Params.WrapModulus,
		SwitchTimeSecs:  in.Config.SwitchTimeSecs,
		Results:         results,
	}
}

// WriteJSON encodes r as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteJSONFile writes r to path.
func (r *Report) WriteJSONFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Summary converts the result into its stored form.
func (r *Result) Summary() db.Summary {
	return db.Summary{
		Algorithm:      r.Algorithm,
		Samples:        r.Stats.Samples,
		MeanResidual:   r.Stats.Mean,
		StddevResidual: r.Stats.Stddev,
		MinResidual:    r.Stats.Min,
		MaxResidual:    r.Stats.Max,
		ReadyAfter:     r.ReadyAfter,
	}
}

// Estimates converts the result's points into their stored form.
func (r *Result) Estimates() []db.Estimate {
	out := make([]db.Estimate, len(r.Points))
	for i, p := range r.Points {
		out[i] = db.Estimate{
			Seq:        p.Seq,
			DeviceTime: p.DeviceTime,
			Estimate:   p.Estimate,
			Ready:      p.Ready,
		}
	}
	return out
}

// Save records a replay session: the input samples plus every result's
// estimates and summary. It returns the new session ID.
func Save(store *db.DB, source string, in Input, results []*Result) (string, error) {
	sess := &db.Session{
		Source:          source,
		TickFrequencyHz: in.Params.TickFrequencyHz,
		WrapModulus:     in.Params.WrapModulus,
		SwitchTimeSecs:  in.Config.SwitchTimeSecs,
	}
	if err := store.CreateSession(sess); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	if err := store.InsertSamples(sess.SessionID, in.Records); err != nil {
		return "", fmt.Errorf("failed to store samples: %w", err)
	}
	for _, res := range results {
		if err := store.InsertEstimates(sess.SessionID, res.Algorithm, res.Estimates()); err != nil {
			return "", fmt.Errorf("failed to store %s estimates: %w", res.Algorithm, err)
		}
		if err := store.UpsertSummary(sess.SessionID, res.Summary()); err != nil {
			return "", fmt.Errorf("failed to store %s summary: %w", res.Algorithm, err)
		}
	}
	return sess.SessionID, nil
}

