// Package jobs runs scheduled background work.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cppla/meritboard/services"
)

// DriftFinder reports students whose balance does not match their ledger.
type DriftFinder interface {
	FindDrift(ctx context.Context) ([]services.LedgerAudit, error)
}

// LedgerAuditJob checks on a schedule that every balance equals its ledger sum. It only reads
// and logs; balances are never corrected here.
type LedgerAuditJob struct {
	finder  DriftFinder
	log     *zap.Logger
	timeout time.Duration
}

// NewLedgerAuditJob creates a LedgerAuditJob.
func NewLedgerAuditJob(finder DriftFinder, log *zap.Logger) *LedgerAuditJob {
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerAuditJob{finder: finder, log: log, timeout: time.Minute}
}

// Run performs one audit pass and returns the number of drifted students.
func (j *LedgerAuditJob) Run(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	drift, err := j.finder.FindDrift(ctx)
	if err != nil {
		j.log.Error("ledger audit failed", zap.Error(err))
		return 0
	}
	for _, d := range drift {
		j.log.Error("ledger drift detected",
			zap.Uint("student_id", d.StudentID),
			zap.Int64("points", d.Points),
			zap.Int64("ledger_sum", d.LedgerSum),
			zap.Int64("transaction_count", d.TransactionCount),
		)
	}
	if len(drift) == 0 {
		j.log.Debug("ledger audit clean")
	}
	return len(drift)
}

// Schedule registers the job on a new cron scheduler using spec (standard five-field syntax
// or descriptors such as "@hourly") and starts it. An empty spec disables the job and
// returns nil. Stop the returned scheduler on shutdown.
func Schedule(spec string, job *LedgerAuditJob) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { job.Run(context.Background()) }); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
