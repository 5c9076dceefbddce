/*
scheduler.go - Automated reminder scheduler

PURPOSE:
  Periodically scans open issuances and delivers the reminders owed today.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Scans once immediately on Start
  - Each scan gets a run id so its log lines can be grouped
  - A store error ends the scan; delivery errors never do

CONFIGURATION:
  - Interval: How often to scan (default: 24 hours)
  - Enabled:  Whether scheduler is active (default: true)

USAGE:
  scheduler := notify.NewReminderScheduler(engine, dispatcher, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - api/handlers.go: manual scan endpoint
  - cmd/server: "remind" command
*/
package notify

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/library-ledger/ledger"
)

// ReminderSource is the slice of the ledger engine the scheduler needs.
type ReminderSource interface {
	Today() ledger.Date
	DueReminders(ctx context.Context, asOf ledger.Date) iter.Seq2[ledger.Reminder, error]
}

// Deliverer sends one reminder on every channel.
type Deliverer interface {
	Deliver(ctx context.Context, r ledger.Reminder) Outcome
}

// RunReport summarizes one scan.
type RunReport struct {
	RunID     string         `json:"run_id"`
	Date      string         `json:"date"`
	Reminders int            `json:"reminders"`
	ByKind    map[string]int `json:"by_kind"`
	Sent      int            `json:"sent"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Duration  string         `json:"duration"`
	Error     string         `json:"error,omitempty"`
}

// ReminderScheduler handles the daily reminder scan.
type ReminderScheduler struct {
	Source    ReminderSource
	Deliverer Deliverer
	Logger    *slog.Logger
	Interval  time.Duration
	Enabled   bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	// scans serializes RunNow so a manual trigger never overlaps a tick.
	scans sync.Mutex
}

func NewReminderScheduler(source ReminderSource, deliverer Deliverer, logger *slog.Logger) *ReminderScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderScheduler{
		Source:    source,
		Deliverer: deliverer,
		Logger:    logger,
		Interval:  24 * time.Hour,
		Enabled:   true,
	}
}

// Start begins the scheduler.
func (rs *ReminderScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("reminder scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run(rs.ticker, rs.stop)

	rs.Logger.Info("reminder scheduler started", slog.Duration("interval", rs.Interval))
}

// Stop stops the scheduler and waits for a running scan to finish.
func (rs *ReminderScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.Logger.Info("reminder scheduler stopped")
}

func (rs *ReminderScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	rs.RunNow(ctx, rs.Source.Today())
	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx, rs.Source.Today())
		case <-stop:
			return
		}
	}
}

// RunNow scans as of the given date and delivers every reminder it yields.
func (rs *ReminderScheduler) RunNow(ctx context.Context, asOf ledger.Date) RunReport {
	rs.scans.Lock()
	defer rs.scans.Unlock()

	start := time.Now()
	report := RunReport{
		RunID:  uuid.NewString(),
		Date:   asOf.String(),
		ByKind: make(map[string]int),
	}
	var outcome Outcome
	log := rs.Logger.With(slog.String("run_id", report.RunID), slog.String("date", report.Date))
	log.Info("reminder scan started")

	for r, err := range rs.Source.DueReminders(ctx, asOf) {
		if err != nil {
			report.Error = err.Error()
			log.Error("reminder scan aborted", slog.String("error", err.Error()))
			break
		}
		report.Reminders++
		report.ByKind[string(r.Kind)]++
		outcome.Add(rs.Deliverer.Deliver(ctx, r))
	}

	report.Sent = outcome.Sent
	report.Skipped = outcome.Skipped
	report.Failed = outcome.Failed
	report.Duration = time.Since(start).String()

	log.Info("reminder scan finished",
		slog.Int("reminders", report.Reminders),
		slog.Int("sent", report.Sent),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed))
	return report
}
