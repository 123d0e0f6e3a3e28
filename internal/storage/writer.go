package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"codegen-pipeline/internal/pipeline"
	"codegen-pipeline/internal/sandbox"
)

type runEntry struct {
	run      *Run
	attempts []AttemptRecord
}

// RunWriter persists finished runs asynchronously so the pipeline never
// blocks on the database. It implements pipeline.Auditor.
type RunWriter struct {
	db   *DB
	ch   chan runEntry
	wg   sync.WaitGroup
	done chan struct{}
}

func NewRunWriter(db *DB, bufferSize int) *RunWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &RunWriter{
		db:   db,
		ch:   make(chan runEntry, bufferSize),
		done: make(chan struct{}),
	}
}

func (w *RunWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// RecordRun converts a pipeline result to storage rows and enqueues them.
func (w *RunWriter) RecordRun(res *pipeline.Result) {
	entry := fromResult(res)
	select {
	case w.ch <- entry:
	default:
		log.Warn().Str("run_id", res.ID).Msg("run history buffer full, dropping record")
	}
}

func (w *RunWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("run writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("run writer flush timed out")
	}
}

func (w *RunWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case entry := <-w.ch:
			w.writeWithRetry(entry)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case entry := <-w.ch:
					w.writeWithRetry(entry)
				default:
					return
				}
			}
		}
	}
}

func (w *RunWriter) writeWithRetry(entry runEntry) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.db.LogRun(ctx, entry.run, entry.attempts)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Str("run_id", entry.run.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("run history write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("run_id", entry.run.ID).
				Msg("run history write failed permanently after retries")
		}
	}
}

func fromResult(res *pipeline.Result) runEntry {
	now := time.Now()
	created := now.Add(-res.Duration)

	run := &Run{
		ID:           res.ID,
		Language:     res.Language,
		Success:      res.Success,
		Reason:       res.Reason,
		Code:         res.Code,
		CodeHash:     hashCode(res.Code),
		AttemptCount: len(res.Attempts),
		DurationMS:   res.Duration.Milliseconds(),
		CreatedAt:    created,
		CompletedAt:  &now,
	}
	if res.Tests != nil {
		run.TestsTotal = res.Tests.Total
		run.TestsPassed = res.Tests.Passed
	}
	if res.Complexity != nil {
		run.ComplexityScore = res.Complexity.Score
		run.ComplexityTier = res.Complexity.Rating
	}

	attempts := make([]AttemptRecord, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		rec := AttemptRecord{
			ID:        uuid.New().String(),
			RunID:     res.ID,
			Index:     a.Index,
			Outcome:   attemptOutcome(a),
			CodeHash:  hashCode(a.Code),
			Feedback:  a.Feedback,
			CreatedAt: now,
		}
		if a.Verdict != nil {
			rec.Violations = len(a.Verdict.Violations)
		}
		if a.Execution != nil {
			rec.ExecStatus = string(a.Execution.Status)
			rec.DurationMS = a.Execution.Duration.Milliseconds()
		}
		if a.Tests != nil {
			rec.TestsTotal = a.Tests.Total
			rec.TestsPassed = a.Tests.Passed
		}
		attempts = append(attempts, rec)
	}

	return runEntry{run: run, attempts: attempts}
}

func attemptOutcome(a pipeline.Attempt) string {
	switch {
	case a.SyntaxError != "":
		return "syntax_error"
	case a.Verdict != nil && !a.Verdict.Allowed:
		return "security_rejected"
	case a.Execution == nil || a.Execution.Status != sandbox.StatusSuccess:
		return "execution_failed"
	case a.Tests != nil && !a.Tests.AllPassed():
		return "tests_failed"
	default:
		return "passed"
	}
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
