package idor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/oracle"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/corpus"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

// CheckCorpus runs the oracle over the recorded exchanges without replaying
// anything. Entries without a captured response or with an unmapped verb are
// skipped.
func CheckCorpus(ctx context.Context, evaluator Evaluator, c *corpus.Corpus, logger Logger) (*BatchResult, error) {
	if logger == nil {
		logger = nopLogger{}
	}

	batch := &BatchResult{
		Results: []types.VulnerabilityResult{},
		Skipped: []Skip{},
		Summary: Summary{
			RunID:     uuid.NewString(),
			Entries:   len(c.Entries) + len(c.Rejected),
			StartedAt: time.Now().UTC(),
		},
	}
	for _, r := range c.Rejected {
		batch.Skipped = append(batch.Skipped, Skip{ID: r.ID, Timestamp: r.Timestamp, Reason: "rejected: " + r.Reason})
	}

	var runErr error
	for _, entry := range c.Entries {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("corpus check interrupted: %w", err)
			break
		}

		req := entry.Request
		skip := func(reason string) {
			batch.Skipped = append(batch.Skipped, Skip{
				ID:        entry.ID,
				Timestamp: entry.Timestamp,
				Method:    req.Method,
				URL:       req.URL,
				Reason:    reason,
			})
		}

		if entry.Response == nil {
			skip(oracle.DiagNoResponse)
			continue
		}

		verdict, err := evaluator.Evaluate(req, entry.Response)
		if err != nil {
			skip(err.Error())
			continue
		}

		result := types.VulnerabilityResult{
			TestCase:          types.TestCaseRecorded,
			Description:       "Recorded exchange checked against the permission model",
			Request:           req,
			Response:          entry.Response,
			IsVulnerable:      verdict.Vulnerable(),
			Verdict:           verdict,
			CorrelationID:     entry.ID,
			OriginalTimestamp: entry.Timestamp,
			CreatedAt:         time.Now().UTC(),
		}
		if result.IsVulnerable {
			result.Explanation = verdict.Explanation
		}
		batch.Results = append(batch.Results, result)
		batch.Summary.Fuzzed++
	}

	batch.tally()
	batch.Summary.FinishedAt = time.Now().UTC()

	logger.Infow("Corpus check completed",
		"run_id", batch.Summary.RunID,
		"checked", batch.Summary.Replays,
		"vulnerable", batch.Summary.Vulnerable,
		"indeterminate", batch.Summary.Indeterminate,
		"safe", batch.Summary.Safe,
		"skipped", batch.Summary.Skipped,
	)
	return batch, runErr
}
