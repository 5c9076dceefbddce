package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/warp/library-ledger/ledger"
	"golang.org/x/time/rate"
)

// Outcome counts deliveries across channels.
type Outcome struct {
	Sent    int
	Skipped int
	Failed  int
}

func (o *Outcome) Add(other Outcome) {
	o.Sent += other.Sent
	o.Skipped += other.Skipped
	o.Failed += other.Failed
}

// DefaultSendTimeout bounds a single channel send.
const DefaultSendTimeout = 30 * time.Second

// Dispatcher sends each reminder on every configured channel. All channels
// share one limiter so a large overdue backlog doesn't trip provider limits.
type Dispatcher struct {
	// SendTimeout bounds each Sender.Send call.
	SendTimeout time.Duration

	senders []Sender
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewDispatcher(limit rate.Limit, logger *slog.Logger, senders ...Sender) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	burst := 1
	if limit != rate.Inf && limit > 1 {
		burst = int(limit)
	}
	return &Dispatcher{
		SendTimeout: DefaultSendTimeout,
		senders:     senders,
		limiter:     rate.NewLimiter(limit, burst),
		logger:      logger,
	}
}

// Deliver never fails: every error is logged and counted.
func (d *Dispatcher) Deliver(ctx context.Context, r ledger.Reminder) Outcome {
	var out Outcome
	for _, s := range d.senders {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("reminder delivery interrupted",
				slog.String("channel", s.Name()),
				slog.Int64("reader_id", r.Reader.ID),
				slog.String("error", err.Error()))
			out.Failed++
			continue
		}

		err := d.send(ctx, s, r)
		switch {
		case err == nil:
			out.Sent++
			d.logger.Debug("reminder sent",
				slog.String("channel", s.Name()),
				slog.Int64("reader_id", r.Reader.ID),
				slog.Int64("issuance_id", r.Issuance.ID),
				slog.String("kind", string(r.Kind)))
		case errors.Is(err, ErrNoContact):
			out.Skipped++
		default:
			out.Failed++
			d.logger.Warn("reminder delivery failed",
				slog.String("channel", s.Name()),
				slog.Int64("reader_id", r.Reader.ID),
				slog.Int64("issuance_id", r.Issuance.ID),
				slog.String("error", err.Error()))
		}
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, s Sender, r ledger.Reminder) error {
	timeout := d.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Send(ctx, r.Reader, Subject, r.Message)
}
