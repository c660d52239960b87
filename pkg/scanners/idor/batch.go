package idor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/corpus"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

// Summary counts the outcomes of a batch run. Indeterminate verdicts are
// counted on their own and never folded into Safe.
type Summary struct {
	RunID         string    `json:"run_id"`
	Entries       int       `json:"entries"`
	Fuzzed        int       `json:"fuzzed"`
	Replays       int       `json:"replays"`
	Vulnerable    int       `json:"vulnerable"`
	Indeterminate int       `json:"indeterminate"`
	Safe          int       `json:"safe"`
	Skipped       int       `json:"skipped"`
	Synthetic     int       `json:"synthetic_responses"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// BatchResult is the outcome of fuzzing a whole corpus.
type BatchResult struct {
	Results []types.VulnerabilityResult `json:"results"`
	Skipped []Skip                      `json:"skipped"`
	Summary Summary                     `json:"summary"`
}

// Vulnerable returns the results with a vulnerable verdict.
func (b *BatchResult) Vulnerable() []types.VulnerabilityResult {
	return b.filter(types.VerdictVulnerable)
}

// Indeterminate returns the results the oracle could not decide.
func (b *BatchResult) Indeterminate() []types.VulnerabilityResult {
	return b.filter(types.VerdictIndeterminate)
}

func (b *BatchResult) filter(status types.VerdictStatus) []types.VulnerabilityResult {
	var out []types.VulnerabilityResult
	for _, r := range b.Results {
		if r.Verdict.Status == status {
			out = append(out, r)
		}
	}
	return out
}

// FuzzCorpus fuzzes every corpus entry in recorded order. A failure in one
// entry never aborts the batch; only context cancellation stops it early, in
// which case the partial result is returned together with the context error.
// Entries rejected while loading the corpus are reported as skipped.
func (f *Fuzzer) FuzzCorpus(ctx context.Context, c *corpus.Corpus) (*BatchResult, error) {
	batch := &BatchResult{
		Results: []types.VulnerabilityResult{},
		Skipped: []Skip{},
		Summary: Summary{
			RunID:     uuid.NewString(),
			Entries:   len(c.Entries) + len(c.Rejected),
			StartedAt: time.Now().UTC(),
		},
	}

	f.logger.Infow("Starting corpus fuzzing",
		"run_id", batch.Summary.RunID,
		"entries", len(c.Entries),
		"rejected", len(c.Rejected),
		"principals", len(f.principals),
		"roles", len(f.roles),
	)

	for _, r := range c.Rejected {
		batch.Skipped = append(batch.Skipped, Skip{
			ID:        r.ID,
			Timestamp: r.Timestamp,
			Reason:    "rejected: " + r.Reason,
		})
	}

	var runErr error
	for _, entry := range c.Entries {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("corpus fuzzing interrupted: %w", err)
			break
		}

		results, skip := f.fuzzEntry(ctx, entry)
		if skip != nil {
			batch.Skipped = append(batch.Skipped, *skip)
			continue
		}
		if len(results) > 0 {
			batch.Summary.Fuzzed++
		}
		batch.Results = append(batch.Results, results...)
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = fmt.Errorf("corpus fuzzing interrupted: %w", ctx.Err())
	}

	batch.tally()
	batch.Summary.FinishedAt = time.Now().UTC()

	f.logger.Infow("Corpus fuzzing completed",
		"run_id", batch.Summary.RunID,
		"replays", batch.Summary.Replays,
		"vulnerable", batch.Summary.Vulnerable,
		"indeterminate", batch.Summary.Indeterminate,
		"safe", batch.Summary.Safe,
		"skipped", batch.Summary.Skipped,
		"duration_seconds", batch.Summary.FinishedAt.Sub(batch.Summary.StartedAt).Seconds(),
	)

	return batch, runErr
}

// fuzzEntry isolates one entry: a panic is logged and recorded as a skip.
func (f *Fuzzer) fuzzEntry(ctx context.Context, entry corpus.Entry) (results []types.VulnerabilityResult, skip *Skip) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Errorw("Fuzzing entry panicked",
				"request_id", entry.ID,
				"panic", r,
			)
			results = nil
			skip = &Skip{
				ID:        entry.ID,
				Timestamp: entry.Timestamp,
				Method:    entry.Request.Method,
				URL:       entry.Request.URL,
				Reason:    fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	return f.FuzzRequest(ctx, entry.Request)
}

func (b *BatchResult) tally() {
	s := &b.Summary
	s.Replays = len(b.Results)
	s.Skipped = len(b.Skipped)
	for _, r := range b.Results {
		switch r.Verdict.Status {
		case types.VerdictVulnerable:
			s.Vulnerable++
		case types.VerdictIndeterminate:
			s.Indeterminate++
		case types.VerdictSafe:
			s.Safe++
		}
		if r.Response != nil && r.Response.Synthetic {
			s.Synthetic++
		}
	}
}
