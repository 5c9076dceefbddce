/*
store.go - Persistence interface for the catalog and the operation ledger

PURPOSE:
  Defines the boundary between the ledger engine and the database.
  The engine never caches state between calls: every commit or revert
  re-reads the Book and the candidate issuance rows inside one WithTx scope.

KEY INTERFACES:
  Catalog:  Authors, Books, Readers (create, read, list, delete)
  Ledger:   Operation rows plus the guarded writes the engine needs
  Store:    Catalog + Ledger
  TxStore:  Store with atomic scoped execution

GUARDED WRITES:
  UpdateBookCounters and the issuance state writes are conditional. If the
  row no longer matches what the caller read, they return ErrConflict and
  write nothing. This is what lets two librarians race on the same book:
  one commits, the other retries against the fresh row.

RESTRICT-ON-DELETE:
  Deleting an Author, Book or Reader that is still referenced returns a
  RejectedError with code "referenced".

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via database/sql
  - ledger/store/memory.go: In-memory for tests and dev runs
*/
package ledger

import "context"

// =============================================================================
// CATALOG
// =============================================================================

type Catalog interface {
	CreateAuthor(ctx context.Context, a *Author) error
	GetAuthor(ctx context.Context, id int64) (Author, error)
	ListAuthors(ctx context.Context) ([]Author, error)
	DeleteAuthor(ctx context.Context, id int64) error

	CreateBook(ctx context.Context, b *Book) error
	GetBook(ctx context.Context, id int64) (Book, error)
	ListBooks(ctx context.Context, filter BookFilter) ([]Book, error)
	// UpdateBook rewrites title, author, genre, annotation and barcode.
	// Counters and version are never touched; b is refreshed from the store.
	// An empty genre keeps the stored one.
	UpdateBook(ctx context.Context, b *Book) error
	DeleteBook(ctx context.Context, id int64) error

	CreateReader(ctx context.Context, r *Reader) error
	GetReader(ctx context.Context, id int64) (Reader, error)
	ListReaders(ctx context.Context) ([]Reader, error)
	DeleteReader(ctx context.Context, id int64) error
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger interface {
	GetOperation(ctx context.Context, id int64) (Operation, error)
	ListOperations(ctx context.Context, filter OperationFilter) ([]Operation, error)

	// OpenIssuances returns issuance rows for the pair with no resolver yet.
	OpenIssuances(ctx context.Context, readerID, bookID int64) ([]Operation, error)

	// AllOpenIssuances returns every open issuance ordered by id.
	AllOpenIssuances(ctx context.Context) ([]Operation, error)

	// AppendOperation inserts op and assigns op.ID and op.CreatedAt.
	AppendOperation(ctx context.Context, op *Operation) error

	DeleteOperation(ctx context.Context, id int64) error

	// UpdateBookCounters writes c if the stored version equals version,
	// and bumps the version. Otherwise it returns ErrConflict.
	UpdateBookCounters(ctx context.Context, bookID, version int64, c Counters) error

	// ResolveIssuance links an open issuance to resolverID and moves it to
	// state. Returns ErrConflict if the issuance is no longer open.
	ResolveIssuance(ctx context.Context, issuanceID, resolverID int64, state IssuanceState) error

	// ReopenIssuance undoes ResolveIssuance. Returns ErrConflict unless the
	// issuance is still linked to resolverID.
	ReopenIssuance(ctx context.Context, issuanceID, resolverID int64) error

	// SetIssuanceState moves an issuance from one resolved state to another.
	// Returns ErrConflict if the current state is not from.
	SetIssuanceState(ctx context.Context, issuanceID int64, from, to IssuanceState) error
}

type Store interface {
	Catalog
	Ledger
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// FILTERS
// =============================================================================

// OperationFilter selects ledger rows. Nil fields don't filter.
type OperationFilter struct {
	ReaderID     *int64
	BookID       *int64
	EventDate    *Date
	Kind         Kind
	IsReturned   *bool
	IsLost       *bool
	IsWrittenOff *bool

	Limit  int
	Offset int
}

// States returns the issuance states accepted by the flag filters, or nil
// when no flag filter is set. An empty non-nil result matches nothing.
func (f OperationFilter) States() []IssuanceState {
	if f.IsReturned == nil && f.IsLost == nil && f.IsWrittenOff == nil {
		return nil
	}
	all := []IssuanceState{StateNone, StateOpen, StateReturned, StateLost, StateLostWrittenOff}
	out := make([]IssuanceState, 0, len(all))
	for _, s := range all {
		probe := Operation{State: s}
		if f.IsReturned != nil && probe.IsReturned() != *f.IsReturned {
			continue
		}
		if f.IsLost != nil && probe.IsLost() != *f.IsLost {
			continue
		}
		if f.IsWrittenOff != nil && probe.IsWrittenOff() != *f.IsWrittenOff {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Matches reports whether op passes every filter except paging.
func (f OperationFilter) Matches(op Operation) bool {
	if f.ReaderID != nil && op.ReaderID != *f.ReaderID {
		return false
	}
	if f.BookID != nil && op.BookID != *f.BookID {
		return false
	}
	if f.EventDate != nil && !op.EventDate.Equal(*f.EventDate) {
		return false
	}
	if f.Kind != "" && op.Kind != f.Kind {
		return false
	}
	if states := f.States(); states != nil {
		found := false
		for _, s := range states {
			if op.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type BookFilter struct {
	AuthorID *int64
	Genre    Genre

	Limit  int
	Offset int
}

func (f BookFilter) Matches(b Book) bool {
	if f.AuthorID != nil && b.AuthorID != *f.AuthorID {
		return false
	}
	if f.Genre != "" && b.Genre != f.Genre {
		return false
	}
	return true
}

// Page applies limit and offset to an already filtered slice.
func Page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
