package executor

import (
	"context"
	"fmt"
	"time"

	"tiller/internal/logger"
	"tiller/internal/store"
)

// ScanRunner is the per-user unit of scheduled work: sweep expired proposals,
// then push every still-approved proposal through the gate and the executor.
// It is leased by the scheduler and must tolerate being run twice for the
// same job; the idempotent claim inside SubmitExecution makes the second run
// a no-op.
type ScanRunner struct {
	proposals store.ProposalStore
	gate      *Gate
	executor  *Executor
	batchSize int
	now       func() time.Time
}

func NewScanRunner(proposals store.ProposalStore, gate *Gate, exec *Executor, batchSize int) *ScanRunner {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &ScanRunner{
		proposals: proposals,
		gate:      gate,
		executor:  exec,
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (s *ScanRunner) Run(ctx context.Context, job store.ScanJob) error {
	if s == nil || s.proposals == nil {
		return fmt.Errorf("scan runner not initialized")
	}
	now := s.now()
	if n, err := s.proposals.ExpireProposals(ctx, now); err != nil {
		logger.Warnf("scan: expiry sweep failed for job %s: %v", job.ID, err)
	} else if n > 0 {
		logger.Infof("scan: expired %d stale proposals", n)
	}

	pending, err := s.proposals.ListApprovedProposals(ctx, job.UserID, now, s.batchSize)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		outcome, err := s.gate.Check(ctx, p)
		if err != nil {
			logger.Warnf("scan: gate error for proposal %s: %v", p.ID, err)
			continue
		}
		if !outcome.Allowed {
			continue
		}
		result, err := s.executor.SubmitExecution(ctx, p.ID)
		if err != nil {
			logger.Warnf("scan: submission error for proposal %s: %v", p.ID, err)
			continue
		}
		logger.Infof("scan: proposal %s -> %s (execution %s)", p.ID, result.Code, result.Execution.ID)
	}
	return nil
}
