/*
Package ledger provides the book inventory ledger engine.

PURPOSE:
  A library's stock is never edited directly. Every movement of a copy
  (arrival, issuance, return, loss, write-off, inventory count) is recorded
  as an Operation, and the Book's aggregate counters are kept in step with
  the ledger by the engine in this package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Book:          catalog record carrying the aggregate counters
  - Operation:     one ledger entry (kind, reader, book, date, quantities)
  - IssuanceState: the small state machine of an issuance row
  - Counters:      the three aggregate counters and their deltas

INVARIANTS:
  1. 0 <= QuantityLending <= QuantityAll for every committed Book
  2. At most one open issuance per (reader, book) pair
  3. An issuance is resolved by at most one return or loss

USAGE:
  engine := ledger.NewEngine(store)
  op, err := engine.Submit(ctx, actor, ledger.Submission{
      Kind:     ledger.KindArrival,
      BookID:   book.ID,
      Quantity: 2,
  })

SEE ALSO:
  - validator.go: legality checks for a proposed operation
  - effects.go:   counter mutation table
  - engine.go:    commit, revert and amendment paths
  - reminder.go:  due-date policy for open issuances
*/
package ledger

import "time"

// =============================================================================
// CATALOG
// =============================================================================

type Genre string

const (
	GenreAdventures Genre = "adventures"
	GenreFantasy    Genre = "fantasy"
	GenreStory      Genre = "story"
	GenreNovel      Genre = "novel"
	GenrePoetry     Genre = "poetry"
)

// Valid reports whether g is one of the known genres.
func (g Genre) Valid() bool {
	switch g {
	case GenreAdventures, GenreFantasy, GenreStory, GenreNovel, GenrePoetry:
		return true
	}
	return false
}

type Author struct {
	ID       int64
	Name     string
	Portrait string
}

type Book struct {
	ID         int64
	Title      string
	AuthorID   int64
	Genre      Genre
	Annotation string
	Barcode    *int64
	Counters

	// Version is bumped on every counter write and guards concurrent commits.
	Version int64
}

// Reader is a library user. Librarians are readers with extra rights.
type Reader struct {
	ID             int64
	Name           string
	Email          string
	Phone          string
	TelegramChatID string
	IsLibrarian    bool
}

// =============================================================================
// COUNTERS - Aggregate state derived from the ledger
// =============================================================================

// Counters are the aggregate fields kept on a Book.
//
//	QuantityAll:     copies acquired minus copies written off or lost
//	QuantityLending: copies currently out with readers
//	AmountLending:   lifetime number of issuances
type Counters struct {
	QuantityAll     int
	QuantityLending int
	AmountLending   int
}

// Delta is a signed change to Counters.
type Delta Counters

func (d Delta) Neg() Delta {
	return Delta{
		QuantityAll:     -d.QuantityAll,
		QuantityLending: -d.QuantityLending,
		AmountLending:   -d.AmountLending,
	}
}

func (c Counters) Apply(d Delta) Counters {
	return Counters{
		QuantityAll:     c.QuantityAll + d.QuantityAll,
		QuantityLending: c.QuantityLending + d.QuantityLending,
		AmountLending:   c.AmountLending + d.AmountLending,
	}
}

// Available returns the number of copies on the shelf.
func (c Counters) Available() int { return c.QuantityAll - c.QuantityLending }

// Consistent reports whether the counters satisfy the book invariant.
func (c Counters) Consistent() bool {
	return c.QuantityLending >= 0 &&
		c.QuantityLending <= c.QuantityAll &&
		c.AmountLending >= 0
}

// =============================================================================
// OPERATION - Ledger entry
// =============================================================================

type Kind string

const (
	KindInventory Kind = "inventory"
	KindArrival   Kind = "arrival"
	KindIssuance  Kind = "issuance"
	KindReturn    Kind = "return"
	KindLoss      Kind = "loss"
	KindWriteOff  Kind = "write_off"
)

func (k Kind) Valid() bool {
	switch k {
	case KindInventory, KindArrival, KindIssuance, KindReturn, KindLoss, KindWriteOff:
		return true
	}
	return false
}

// ActsAsLibrarian reports whether operations of this kind are recorded
// against the acting librarian rather than a borrowing reader.
func (k Kind) ActsAsLibrarian() bool {
	return k == KindArrival || k == KindInventory || k == KindWriteOff
}

// Resolves reports whether the kind closes an open issuance.
func (k Kind) Resolves() bool { return k == KindReturn || k == KindLoss }

// IssuanceState is the lifecycle of an issuance row.
//
//	open ──return──▶ returned
//	  │
//	  └───loss────▶ lost ──amend──▶ lost_written_off
//
// Non-issuance rows carry StateNone.
type IssuanceState string

const (
	StateNone           IssuanceState = ""
	StateOpen           IssuanceState = "open"
	StateReturned       IssuanceState = "returned"
	StateLost           IssuanceState = "lost"
	StateLostWrittenOff IssuanceState = "lost_written_off"
)

type Operation struct {
	ID        int64
	ReaderID  int64
	BookID    int64
	Kind      Kind
	EventDate Date

	// Signed copy count for arrival and inventory.
	ArrivalQuantity int
	// Copies found with readers during an inventory count.
	IssuedQuantity int

	// LinkedOperationID is 0 while an issuance is open, and otherwise the id
	// of the return or loss that resolved it.
	LinkedOperationID int64
	State             IssuanceState

	CreatedBy int64
	CreatedAt time.Time
}

func (o Operation) IsOpen() bool {
	return o.Kind == KindIssuance && o.LinkedOperationID == 0
}

func (o Operation) IsReturned() bool   { return o.State == StateReturned }
func (o Operation) IsLost() bool       { return o.State == StateLost || o.State == StateLostWrittenOff }
func (o Operation) IsWrittenOff() bool { return o.State == StateLostWrittenOff }

// =============================================================================
// REQUESTS
// =============================================================================

// Actor is the identity on whose behalf a mutation runs.
type Actor struct {
	ReaderID    int64
	IsLibrarian bool
}

// Submission is a request to record a new operation.
type Submission struct {
	Kind     Kind
	ReaderID int64
	BookID   int64

	// EventDate defaults to the engine's current date when zero.
	EventDate Date

	// Quantity is the arrival_quantity of arrival and inventory operations.
	Quantity int
	// Issued is the issued_quantity of inventory operations.
	Issued int
}
