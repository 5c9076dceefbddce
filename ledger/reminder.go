/*
reminder.go - Due-date policy for open issuances

PURPOSE:
  A borrowed book is due LoanPeriodDays after the issuance date. Readers
  get one advance notice AdvanceNoticeDays after issuance, a notice on the
  due date, and a daily overdue notice after it:

    issued ──+7──▶ advance ──+3──▶ due today ──+1..──▶ overdue (daily)

  ReminderFor is the pure policy; DueReminders walks the open issuances
  and yields one Reminder per issuance that needs one today.

LAZINESS:
  DueReminders returns an iterator. Nothing is read until it is ranged
  over, and every range re-queries the store, so a sequence can be
  replayed (e.g. a manual re-run after a delivery outage).
*/
package ledger

import (
	"context"
	"fmt"
	"iter"
)

const (
	LoanPeriodDays    = 10
	AdvanceNoticeDays = 7
)

type ReminderKind string

const (
	ReminderNone     ReminderKind = ""
	ReminderAdvance  ReminderKind = "advance"
	ReminderDueToday ReminderKind = "due_today"
	ReminderOverdue  ReminderKind = "overdue"
)

// Reminder is one message owed to one reader for one open issuance.
type Reminder struct {
	Kind     ReminderKind
	Issuance Operation
	Reader   Reader
	Book     Book
	Due      Date
	Message  string
}

// DueDate is the return date of a book issued on issued.
func DueDate(issued Date) Date { return issued.AddDays(LoanPeriodDays) }

// ReminderFor evaluates the closed set of reminder rules in order.
func ReminderFor(issued, today Date) ReminderKind {
	due := DueDate(issued)
	switch {
	case today.After(due):
		return ReminderOverdue
	case today.Equal(due):
		return ReminderDueToday
	case today.Equal(issued.AddDays(AdvanceNoticeDays)):
		return ReminderAdvance
	}
	return ReminderNone
}

func ReminderMessage(kind ReminderKind, title string, due Date) string {
	switch kind {
	case ReminderOverdue:
		return fmt.Sprintf("You must return the book %q immediately", title)
	case ReminderDueToday:
		return fmt.Sprintf("You must return the book %q today", title)
	case ReminderAdvance:
		return fmt.Sprintf("You must return the book %q by %s", title, due)
	}
	return ""
}

// DueReminders yields the reminders owed on asOf. A store error is yielded
// once with a zero Reminder and ends the sequence.
func (e *Engine) DueReminders(ctx context.Context, asOf Date) iter.Seq2[Reminder, error] {
	return func(yield func(Reminder, error) bool) {
		var open []Operation
		err := e.read(ctx, "open_issuances", func(ctx context.Context, s Store) error {
			var err error
			open, err = s.AllOpenIssuances(ctx)
			return err
		})
		if err != nil {
			yield(Reminder{}, err)
			return
		}

		readers := make(map[int64]Reader)
		books := make(map[int64]Book)

		for _, op := range open {
			kind := ReminderFor(op.EventDate, asOf)
			if kind == ReminderNone {
				continue
			}

			reader, book, err := e.lookup(ctx, op, readers, books)
			if err != nil {
				yield(Reminder{}, err)
				return
			}

			due := DueDate(op.EventDate)
			r := Reminder{
				Kind:     kind,
				Issuance: op,
				Reader:   reader,
				Book:     book,
				Due:      due,
				Message:  ReminderMessage(kind, book.Title, due),
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (e *Engine) lookup(ctx context.Context, op Operation, readers map[int64]Reader, books map[int64]Book) (Reader, Book, error) {
	reader, okR := readers[op.ReaderID]
	book, okB := books[op.BookID]
	if okR && okB {
		return reader, book, nil
	}
	err := e.read(ctx, "reminder_lookup", func(ctx context.Context, s Store) error {
		var err error
		if !okR {
			if reader, err = s.GetReader(ctx, op.ReaderID); err != nil {
				return err
			}
			readers[op.ReaderID] = reader
		}
		if !okB {
			if book, err = s.GetBook(ctx, op.BookID); err != nil {
				return err
			}
			books[op.BookID] = book
		}
		return nil
	})
	return reader, book, err
}
