/*
Package notify delivers return reminders to readers.

PURPOSE:
  The ledger decides who is owed a reminder and what it says; this package
  only gets the text to the reader. Delivery is best-effort: a failed
  e-mail or Telegram call is logged and counted, never returned to the
  scan that produced the reminder.

COMPONENTS:
  Sender:            one delivery channel (e-mail, Telegram)
  Dispatcher:        fans a reminder out to every channel, rate limited
  ReminderScheduler: runs the daily scan on a ticker, or on demand

SEE ALSO:
  - ledger/reminder.go: date policy and the DueReminders sequence
*/
package notify

import (
	"context"
	"errors"

	"github.com/warp/library-ledger/ledger"
)

// Subject of every reminder e-mail.
const Subject = "Book return"

// ErrNoContact is returned by a Sender when the reader has no address on
// that channel. The dispatcher counts it as skipped, not failed.
var ErrNoContact = errors.New("reader has no contact on this channel")

// Sender delivers one message to one reader.
type Sender interface {
	Name() string
	Send(ctx context.Context, to ledger.Reader, subject, text string) error
}
