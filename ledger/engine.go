/*
engine.go - Operation Applier: commit, revert and write-off amendment

PURPOSE:
  The Engine is the only writer of ledger rows and Book counters.
  Each inbound call runs as one store transaction:

    read Book + candidate issuance rows
      → Validate
      → compute next counters, check invariant
      → append/delete Operation row
      → write Book row (version-checked)
      → link/unlink the issuance row (state-checked)

  Any failure rolls the whole transaction back, so a rejected or failed call
  never leaves partial effects.

CONCURRENCY:
  Book writes are guarded by Book.Version and issuance writes by the
  issuance's current linkage. A caller that loses either race gets
  ErrConflict inside the transaction; the engine then retries the whole
  call with exponential backoff (see retry.go). The loser of a race to
  resolve the same issuance re-reads it as resolved and is rejected with
  code already_resolved.

TIMEOUTS:
  Every transaction runs under StoreTimeout. A deadline surfaces as
  ErrTransient.

SEE ALSO:
  - validator.go: rules checked before any write
  - effects.go:   counter deltas
  - reminder.go:  read-only scan over open issuances
*/
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const DefaultStoreTimeout = 5 * time.Second

type Engine struct {
	store        TxStore
	logger       *slog.Logger
	now          func() time.Time
	location     *time.Location
	storeTimeout time.Duration
	retry        retryConfig
}

type EngineOption func(*Engine) error

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

// WithLocation sets the zone in which "today" is evaluated.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) error {
		if loc != nil {
			e.location = loc
		}
		return nil
	}
}

func WithStoreTimeout(d time.Duration) EngineOption {
	return func(e *Engine) error {
		if d > 0 {
			e.storeTimeout = d
		}
		return nil
	}
}

func WithRetry(opts ...RetryOption) EngineOption {
	return func(e *Engine) error {
		for _, opt := range opts {
			if err := opt(&e.retry); err != nil {
				return err
			}
		}
		return nil
	}
}

func NewEngine(store TxStore, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:        store,
		logger:       slog.Default(),
		now:          time.Now,
		location:     time.UTC,
		storeTimeout: DefaultStoreTimeout,
		retry:        defaultRetryConfig(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Today returns the current calendar day in the engine's location.
func (e *Engine) Today() Date {
	return DateOf(e.now().In(e.location))
}

func (e *Engine) Store() TxStore { return e.store }

// =============================================================================
// SCOPES
// =============================================================================

// mutate runs fn in one bounded transaction and retries it on ErrConflict.
func (e *Engine) mutate(ctx context.Context, name string, fn func(context.Context, Store) error) error {
	return retryOnConflict(ctx, e.retry, e.logger, name, func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
		defer cancel()
		err := e.store.WithTx(tctx, func(s Store) error { return fn(tctx, s) })
		return e.classify(ctx, tctx, name, err)
	})
}

// read runs fn against the store under the store timeout.
func (e *Engine) read(ctx context.Context, name string, fn func(context.Context, Store) error) error {
	tctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.classify(ctx, tctx, name, fn(tctx, e.store))
}

// WithCatalog runs fn against the catalog under the store timeout, so catalog
// maintenance and caller lookups fail with ErrTransient instead of waiting on
// a held connection.
func (e *Engine) WithCatalog(ctx context.Context, name string, fn func(context.Context, Catalog) error) error {
	return e.read(ctx, name, func(ctx context.Context, s Store) error { return fn(ctx, s) })
}

func (e *Engine) classify(parent, scoped context.Context, name string, err error) error {
	if err != nil && parent.Err() == nil && errors.Is(scoped.Err(), context.DeadlineExceeded) &&
		!errors.Is(err, ErrTransient) {
		return &TransientError{Op: name, Err: context.DeadlineExceeded}
	}
	return classify(name, err)
}

// =============================================================================
// COMMIT PATH
// =============================================================================

// Submit validates and records a new operation. The reader of arrival,
// inventory and write_off operations is the acting librarian; return and
// loss keep the borrowing reader so the open issuance can be matched.
func (e *Engine) Submit(ctx context.Context, actor Actor, sub Submission) (Operation, error) {
	if !sub.Kind.Valid() {
		return Operation{}, reject(CodeInvalidKind, "unknown operation %q", sub.Kind)
	}

	readerID := sub.ReaderID
	if sub.Kind.ActsAsLibrarian() {
		readerID = actor.ReaderID
	}
	date := sub.EventDate
	if date.IsZero() {
		date = e.Today()
	}

	var committed Operation
	err := e.mutate(ctx, "submit", func(ctx context.Context, s Store) error {
		op := Operation{
			ReaderID:        readerID,
			BookID:          sub.BookID,
			Kind:            sub.Kind,
			EventDate:       date,
			ArrivalQuantity: sub.Quantity,
			IssuedQuantity:  sub.Issued,
			CreatedBy:       actor.ReaderID,
		}
		if err := e.commit(ctx, s, &op); err != nil {
			return err
		}
		committed = op
		return nil
	})
	if err != nil {
		e.logger.Debug("operation not committed",
			slog.String("kind", string(sub.Kind)),
			slog.Int64("book_id", sub.BookID),
			slog.Int64("reader_id", readerID),
			slog.String("error", err.Error()))
		return Operation{}, err
	}

	e.logger.Info("operation committed",
		slog.Int64("id", committed.ID),
		slog.String("kind", string(committed.Kind)),
		slog.Int64("book_id", committed.BookID),
		slog.Int64("reader_id", committed.ReaderID),
		slog.Int64("actor", actor.ReaderID))
	return committed, nil
}

func (e *Engine) commit(ctx context.Context, s Store, op *Operation) error {
	if _, err := s.GetReader(ctx, op.ReaderID); err != nil {
		return err
	}
	book, err := s.GetBook(ctx, op.BookID)
	if err != nil {
		return err
	}

	var open []Operation
	if op.Kind == KindIssuance || op.Kind.Resolves() {
		if open, err = s.OpenIssuances(ctx, op.ReaderID, op.BookID); err != nil {
			return err
		}
	}

	if err := Validate(*op, book, open); err != nil {
		return err
	}
	next := book.Counters.Apply(Effect(*op))
	if err := checkInvariant(book, next); err != nil {
		return err
	}

	switch {
	case op.Kind == KindIssuance:
		op.State = StateOpen
	case op.Kind.Resolves():
		op.LinkedOperationID = open[0].ID
	}

	if err := s.AppendOperation(ctx, op); err != nil {
		return err
	}
	if err := s.UpdateBookCounters(ctx, book.ID, book.Version, next); err != nil {
		return err
	}
	if op.Kind.Resolves() {
		return s.ResolveIssuance(ctx, op.LinkedOperationID, op.ID, resolvedState(op.Kind))
	}
	return nil
}

// =============================================================================
// REVERT PATH
// =============================================================================

// Delete removes an operation and applies the exact inverse of its effect.
func (e *Engine) Delete(ctx context.Context, actor Actor, id int64) error {
	var reverted Operation
	err := e.mutate(ctx, "delete", func(ctx context.Context, s Store) error {
		op, err := s.GetOperation(ctx, id)
		if err != nil {
			return err
		}
		reverted = op
		return e.revert(ctx, s, op)
	})
	if err != nil {
		e.logger.Debug("operation not deleted",
			slog.Int64("id", id),
			slog.String("error", err.Error()))
		return err
	}

	e.logger.Info("operation deleted",
		slog.Int64("id", reverted.ID),
		slog.String("kind", string(reverted.Kind)),
		slog.Int64("book_id", reverted.BookID),
		slog.Int64("actor", actor.ReaderID))
	return nil
}

func (e *Engine) revert(ctx context.Context, s Store, op Operation) error {
	book, err := s.GetBook(ctx, op.BookID)
	if err != nil {
		return err
	}

	switch op.Kind {
	case KindArrival:
		if book.Available() < op.ArrivalQuantity {
			return reject(CodeExceedsStock,
				"Cannot delete the arrival: %d copies of %q are out with readers and only %d would remain",
				book.QuantityLending, book.Title, book.QuantityAll-op.ArrivalQuantity)
		}
	case KindIssuance:
		if op.LinkedOperationID != 0 {
			return reject(CodeIssuanceResolved,
				"The issuance has already been returned or lost; delete operation %d first", op.LinkedOperationID)
		}
	case KindLoss:
		issuance, err := s.GetOperation(ctx, op.LinkedOperationID)
		if err != nil {
			return err
		}
		if issuance.IsWrittenOff() {
			return reject(CodeLossWrittenOff, "The lost book %q has already been written off; the loss cannot be undone", book.Title)
		}
	}

	next := book.Counters.Apply(Effect(op).Neg())
	if err := checkInvariant(book, next); err != nil {
		return err
	}

	if op.Kind.Resolves() {
		if err := s.ReopenIssuance(ctx, op.LinkedOperationID, op.ID); err != nil {
			return err
		}
	}
	if err := s.DeleteOperation(ctx, op.ID); err != nil {
		return err
	}
	return s.UpdateBookCounters(ctx, book.ID, book.Version, next)
}

// =============================================================================
// WRITE-OFF AMENDMENT
// =============================================================================

// AmendWriteOff marks a lost issuance as written off. Counters don't change;
// the copy left the stock when the loss was recorded.
func (e *Engine) AmendWriteOff(ctx context.Context, actor Actor, id int64) (Operation, error) {
	var amended Operation
	err := e.mutate(ctx, "amend_write_off", func(ctx context.Context, s Store) error {
		op, err := s.GetOperation(ctx, id)
		if err != nil {
			return err
		}
		if op.Kind != KindIssuance || !op.IsLost() {
			return reject(CodeNotLost, "Only a lost issuance can be written off")
		}
		if op.IsWrittenOff() {
			return reject(CodeAlreadyWrittenOff, "The issuance has already been written off")
		}
		if err := s.SetIssuanceState(ctx, op.ID, StateLost, StateLostWrittenOff); err != nil {
			return err
		}
		op.State = StateLostWrittenOff
		amended = op
		return nil
	})
	if err != nil {
		return Operation{}, err
	}

	e.logger.Info("loss written off",
		slog.Int64("id", amended.ID),
		slog.Int64("book_id", amended.BookID),
		slog.Int64("actor", actor.ReaderID))
	return amended, nil
}

// =============================================================================
// READS
// =============================================================================

func (e *Engine) Operation(ctx context.Context, actor Actor, id int64) (Operation, error) {
	var op Operation
	err := e.read(ctx, "get_operation", func(ctx context.Context, s Store) error {
		var err error
		op, err = s.GetOperation(ctx, id)
		return err
	})
	if err != nil {
		return Operation{}, err
	}
	if !actor.IsLibrarian && op.ReaderID != actor.ReaderID {
		return Operation{}, NotFound("operation", id)
	}
	return op, nil
}

// Operations lists ledger rows. Readers who aren't librarians only ever see
// their own rows, whatever the filter says.
func (e *Engine) Operations(ctx context.Context, actor Actor, filter OperationFilter) ([]Operation, error) {
	if !actor.IsLibrarian {
		own := actor.ReaderID
		filter.ReaderID = &own
	}
	var ops []Operation
	err := e.read(ctx, "list_operations", func(ctx context.Context, s Store) error {
		var err error
		ops, err = s.ListOperations(ctx, filter)
		return err
	})
	return ops, err
}
