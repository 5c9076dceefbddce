/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists the catalog (authors, books, readers) and the operation ledger.
  The ledger engine does all policy work; this package only guarantees that
  the guarded writes are conditional and that WithTx is all-or-nothing.

KEY TABLES:
  authors:    unique name
  books:      unique title, aggregate counters, version for optimistic writes
  readers:    unique email, telegram chat id, librarian flag
  operations: the ledger; issuance rows carry linked_operation_id and state

RESTRICT-ON-DELETE:
  Foreign keys are declared ON DELETE RESTRICT and enforced by opening with
  _foreign_keys=on. A violation surfaces as a RejectedError "referenced".

GUARDED WRITES:
  UPDATE ... WHERE version = ?                      (book counters)
  UPDATE ... WHERE linked_operation_id = 0          (resolve)
  UPDATE ... WHERE linked_operation_id = ?          (reopen)
  UPDATE ... WHERE state = ?                        (write-off amendment)
  Zero affected rows on an existing row means ErrConflict.

CONCURRENCY:
  The pool holds a single connection, so transactions are serialized by
  database/sql and a ":memory:" database is shared by every caller.

WAL MODE:
  File databases are opened with WAL so the reminder scan doesn't block
  behind a writer's journal.

USAGE:
  store, err := sqlite.New("./library.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine, err := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
	"github.com/mattn/go-sqlite3"
	"github.com/warp/library-ledger/ledger"
)

const dialect = "sqlite3"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{db: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS authors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		portrait TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL UNIQUE COLLATE NOCASE,
		author_id INTEGER NOT NULL REFERENCES authors(id) ON DELETE RESTRICT,
		genre TEXT NOT NULL DEFAULT 'story',
		annotation TEXT NOT NULL DEFAULT '',
		barcode INTEGER,
		quantity_all INTEGER NOT NULL DEFAULT 0,
		quantity_lending INTEGER NOT NULL DEFAULT 0,
		amount_lending INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_books_author ON books(author_id);

	CREATE TABLE IF NOT EXISTS readers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		phone TEXT NOT NULL DEFAULT '',
		telegram_chat_id TEXT NOT NULL DEFAULT '',
		is_librarian INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reader_id INTEGER NOT NULL REFERENCES readers(id) ON DELETE RESTRICT,
		book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE RESTRICT,
		kind TEXT NOT NULL,
		event_date TEXT NOT NULL,
		arrival_quantity INTEGER NOT NULL DEFAULT 0,
		issued_quantity INTEGER NOT NULL DEFAULT 0,
		linked_operation_id INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT '',
		created_by INTEGER NOT NULL REFERENCES readers(id) ON DELETE RESTRICT,
		created_at TEXT NOT NULL
	);

	-- Open issuance lookup (validation hot path and reminder scan)
	CREATE INDEX IF NOT EXISTS idx_operations_open
		ON operations(reader_id, book_id)
		WHERE kind = 'issuance' AND linked_operation_id = 0;

	CREATE INDEX IF NOT EXISTS idx_operations_book ON operations(book_id);
	CREATE INDEX IF NOT EXISTS idx_operations_event_date ON operations(event_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ledger.Store over a pool or a transaction.
type queries struct {
	db dbtx
}

// =============================================================================
// AUTHORS
// =============================================================================

func (q *queries) CreateAuthor(ctx context.Context, a *ledger.Author) error {
	res, err := q.db.ExecContext(ctx,
		"INSERT INTO authors (name, portrait) VALUES (?, ?)", a.Name, a.Portrait)
	if err != nil {
		return mapConstraint(err, "author %q already exists", a.Name)
	}
	a.ID, err = res.LastInsertId()
	return err
}

func (q *queries) GetAuthor(ctx context.Context, id int64) (ledger.Author, error) {
	var a ledger.Author
	err := q.db.QueryRowContext(ctx,
		"SELECT id, name, portrait FROM authors WHERE id = ?", id,
	).Scan(&a.ID, &a.Name, &a.Portrait)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ledger.NotFound("author", id)
	}
	return a, err
}

func (q *queries) ListAuthors(ctx context.Context) ([]ledger.Author, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT id, name, portrait FROM authors ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query authors: %w", err)
	}
	defer rows.Close()

	var authors []ledger.Author
	for rows.Next() {
		var a ledger.Author
		if err := rows.Scan(&a.ID, &a.Name, &a.Portrait); err != nil {
			return nil, fmt.Errorf("failed to scan author: %w", err)
		}
		authors = append(authors, a)
	}
	return authors, rows.Err()
}

func (q *queries) DeleteAuthor(ctx context.Context, id int64) error {
	return q.deleteRow(ctx, "authors", "author", id)
}

// =============================================================================
// BOOKS
// =============================================================================

var bookColumns = []any{
	"id", "title", "author_id", "genre", "annotation", "barcode",
	"quantity_all", "quantity_lending", "amount_lending", "version",
}

func (q *queries) CreateBook(ctx context.Context, b *ledger.Book) error {
	if b.Genre == "" {
		b.Genre = ledger.GenreStory
	}
	b.Version = 1
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO books (title, author_id, genre, annotation, barcode,
		                   quantity_all, quantity_lending, amount_lending, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Title, b.AuthorID, b.Genre, b.Annotation, nullInt(b.Barcode),
		b.QuantityAll, b.QuantityLending, b.AmountLending, b.Version,
	)
	if err != nil {
		if isForeignKey(err) {
			return ledger.NotFound("author", b.AuthorID)
		}
		return mapConstraint(err, "book %q already exists", b.Title)
	}
	b.ID, err = res.LastInsertId()
	return err
}

func (q *queries) UpdateBook(ctx context.Context, b *ledger.Book) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE books
		SET title = ?, author_id = ?, genre = COALESCE(NULLIF(?, ''), genre),
		    annotation = ?, barcode = ?
		WHERE id = ?`,
		b.Title, b.AuthorID, b.Genre, b.Annotation, nullInt(b.Barcode), b.ID,
	)
	if err != nil {
		if isForeignKey(err) {
			return ledger.NotFound("author", b.AuthorID)
		}
		if isConstraint(err, sqlite3.ErrConstraintUnique) {
			return ledger.Reject(ledger.CodeDuplicate, "book %q already exists", b.Title)
		}
		return fmt.Errorf("failed to update book: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFound("book", b.ID)
	}
	updated, err := q.GetBook(ctx, b.ID)
	if err != nil {
		return err
	}
	*b = updated
	return nil
}

func (q *queries) GetBook(ctx context.Context, id int64) (ledger.Book, error) {
	books, err := q.selectBooks(ctx, goqu.Dialect(dialect).From("books").Where(goqu.Ex{"id": id}))
	if err != nil {
		return ledger.Book{}, err
	}
	if len(books) == 0 {
		return ledger.Book{}, ledger.NotFound("book", id)
	}
	return books[0], nil
}

func (q *queries) ListBooks(ctx context.Context, f ledger.BookFilter) ([]ledger.Book, error) {
	ds := goqu.Dialect(dialect).From("books")
	if f.AuthorID != nil {
		ds = ds.Where(goqu.Ex{"author_id": *f.AuthorID})
	}
	if f.Genre != "" {
		ds = ds.Where(goqu.Ex{"genre": string(f.Genre)})
	}
	return q.selectBooks(ctx, paginate(ds, f.Limit, f.Offset))
}

func (q *queries) selectBooks(ctx context.Context, ds *goqu.SelectDataset) ([]ledger.Book, error) {
	query, args, err := ds.Select(bookColumns...).Order(goqu.I("id").Asc()).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build book query: %w", err)
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	var books []ledger.Book
	for rows.Next() {
		var (
			b       ledger.Book
			barcode sql.NullInt64
		)
		err := rows.Scan(&b.ID, &b.Title, &b.AuthorID, &b.Genre, &b.Annotation, &barcode,
			&b.QuantityAll, &b.QuantityLending, &b.AmountLending, &b.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		if barcode.Valid {
			b.Barcode = &barcode.Int64
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (q *queries) DeleteBook(ctx context.Context, id int64) error {
	return q.deleteRow(ctx, "books", "book", id)
}

func (q *queries) UpdateBookCounters(ctx context.Context, bookID, version int64, c ledger.Counters) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE books
		SET quantity_all = ?, quantity_lending = ?, amount_lending = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		c.QuantityAll, c.QuantityLending, c.AmountLending, bookID, version,
	)
	if err != nil {
		return fmt.Errorf("failed to update book counters: %w", err)
	}
	return q.guarded(ctx, res, "books", "book", bookID)
}

// =============================================================================
// READERS
// =============================================================================

func (q *queries) CreateReader(ctx context.Context, r *ledger.Reader) error {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO readers (name, email, phone, telegram_chat_id, is_librarian)
		VALUES (?, ?, ?, ?, ?)`,
		r.Name, r.Email, r.Phone, r.TelegramChatID, r.IsLibrarian,
	)
	if err != nil {
		return mapConstraint(err, "reader with email %q already exists", r.Email)
	}
	r.ID, err = res.LastInsertId()
	return err
}

func (q *queries) GetReader(ctx context.Context, id int64) (ledger.Reader, error) {
	var r ledger.Reader
	err := q.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, telegram_chat_id, is_librarian
		FROM readers WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.Email, &r.Phone, &r.TelegramChatID, &r.IsLibrarian)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ledger.NotFound("reader", id)
	}
	return r, err
}

func (q *queries) ListReaders(ctx context.Context) ([]ledger.Reader, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, email, phone, telegram_chat_id, is_librarian
		FROM readers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query readers: %w", err)
	}
	defer rows.Close()

	var readers []ledger.Reader
	for rows.Next() {
		var r ledger.Reader
		if err := rows.Scan(&r.ID, &r.Name, &r.Email, &r.Phone, &r.TelegramChatID, &r.IsLibrarian); err != nil {
			return nil, fmt.Errorf("failed to scan reader: %w", err)
		}
		readers = append(readers, r)
	}
	return readers, rows.Err()
}

func (q *queries) DeleteReader(ctx context.Context, id int64) error {
	return q.deleteRow(ctx, "readers", "reader", id)
}

// =============================================================================
// OPERATIONS
// =============================================================================

var operationColumns = []any{
	"id", "reader_id", "book_id", "kind", "event_date", "arrival_quantity",
	"issued_quantity", "linked_operation_id", "state", "created_by", "created_at",
}

func (q *queries) AppendOperation(ctx context.Context, op *ledger.Operation) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO operations
		(reader_id, book_id, kind, event_date, arrival_quantity, issued_quantity,
		 linked_operation_id, state, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ReaderID, op.BookID, op.Kind, op.EventDate.String(),
		op.ArrivalQuantity, op.IssuedQuantity, op.LinkedOperationID, op.State,
		op.CreatedBy, op.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isForeignKey(err) {
			return ledger.Reject(ledger.CodeInvalid, "operation references an unknown reader or book")
		}
		return fmt.Errorf("failed to append operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	return err
}

func (q *queries) GetOperation(ctx context.Context, id int64) (ledger.Operation, error) {
	ops, err := q.selectOperations(ctx, goqu.Dialect(dialect).From("operations").Where(goqu.Ex{"id": id}))
	if err != nil {
		return ledger.Operation{}, err
	}
	if len(ops) == 0 {
		return ledger.Operation{}, ledger.NotFound("operation", id)
	}
	return ops[0], nil
}

func (q *queries) ListOperations(ctx context.Context, f ledger.OperationFilter) ([]ledger.Operation, error) {
	ds := goqu.Dialect(dialect).From("operations")
	if f.ReaderID != nil {
		ds = ds.Where(goqu.Ex{"reader_id": *f.ReaderID})
	}
	if f.BookID != nil {
		ds = ds.Where(goqu.Ex{"book_id": *f.BookID})
	}
	if f.EventDate != nil {
		ds = ds.Where(goqu.Ex{"event_date": f.EventDate.String()})
	}
	if f.Kind != "" {
		ds = ds.Where(goqu.Ex{"kind": string(f.Kind)})
	}
	if states := f.States(); states != nil {
		if len(states) == 0 {
			return []ledger.Operation{}, nil
		}
		values := make([]string, len(states))
		for i, s := range states {
			values[i] = string(s)
		}
		ds = ds.Where(goqu.C("state").In(values))
	}
	return q.selectOperations(ctx, paginate(ds, f.Limit, f.Offset))
}

func (q *queries) OpenIssuances(ctx context.Context, readerID, bookID int64) ([]ledger.Operation, error) {
	return q.selectOperations(ctx, openIssuances().Where(goqu.Ex{"reader_id": readerID, "book_id": bookID}))
}

func (q *queries) AllOpenIssuances(ctx context.Context) ([]ledger.Operation, error) {
	return q.selectOperations(ctx, openIssuances())
}

func openIssuances() *goqu.SelectDataset {
	return goqu.Dialect(dialect).From("operations").Where(goqu.Ex{
		"kind":                string(ledger.KindIssuance),
		"linked_operation_id": 0,
	})
}

func (q *queries) selectOperations(ctx context.Context, ds *goqu.SelectDataset) ([]ledger.Operation, error) {
	query, args, err := ds.Select(operationColumns...).Order(goqu.I("id").Asc()).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build operation query: %w", err)
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []ledger.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanOperation(rows *sql.Rows) (ledger.Operation, error) {
	var (
		op        ledger.Operation
		eventDate string
		createdAt string
	)
	err := rows.Scan(&op.ID, &op.ReaderID, &op.BookID, &op.Kind, &eventDate,
		&op.ArrivalQuantity, &op.IssuedQuantity, &op.LinkedOperationID, &op.State,
		&op.CreatedBy, &createdAt)
	if err != nil {
		return op, fmt.Errorf("failed to scan operation: %w", err)
	}
	if op.EventDate, err = ledger.ParseDate(eventDate); err != nil {
		return op, fmt.Errorf("operation %d: bad event date %q: %w", op.ID, eventDate, err)
	}
	op.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return op, nil
}

func (q *queries) DeleteOperation(ctx context.Context, id int64) error {
	return q.deleteRow(ctx, "operations", "operation", id)
}

func (q *queries) ResolveIssuance(ctx context.Context, issuanceID, resolverID int64, state ledger.IssuanceState) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE operations SET linked_operation_id = ?, state = ?
		WHERE id = ? AND kind = 'issuance' AND linked_operation_id = 0`,
		resolverID, state, issuanceID,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve issuance: %w", err)
	}
	return q.guarded(ctx, res, "operations", "operation", issuanceID)
}

func (q *queries) ReopenIssuance(ctx context.Context, issuanceID, resolverID int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE operations SET linked_operation_id = 0, state = ?
		WHERE id = ? AND kind = 'issuance' AND linked_operation_id = ?`,
		ledger.StateOpen, issuanceID, resolverID,
	)
	if err != nil {
		return fmt.Errorf("failed to reopen issuance: %w", err)
	}
	return q.guarded(ctx, res, "operations", "operation", issuanceID)
}

func (q *queries) SetIssuanceState(ctx context.Context, issuanceID int64, from, to ledger.IssuanceState) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE operations SET state = ?
		WHERE id = ? AND kind = 'issuance' AND state = ?`,
		to, issuanceID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to set issuance state: %w", err)
	}
	return q.guarded(ctx, res, "operations", "operation", issuanceID)
}

// =============================================================================
// HELPERS
// =============================================================================

// guarded turns a conditional UPDATE that touched nothing into ErrConflict,
// or into NotFound if the row is gone altogether.
func (q *queries) guarded(ctx context.Context, res sql.Result, table, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ledger.NotFound(entity, id)
	}
	return ledger.ErrConflict
}

// deleteRow deletes by id. Tables are fixed identifiers, never user input.
func (q *queries) deleteRow(ctx context.Context, table, entity string, id int64) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		if isForeignKey(err) {
			return ledger.Reject(ledger.CodeReferenced, "%s %d is still referenced", entity, id)
		}
		return fmt.Errorf("failed to delete %s: %w", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFound(entity, id)
	}
	return nil
}

func paginate(ds *goqu.SelectDataset, limit, offset int) *goqu.SelectDataset {
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	if offset > 0 {
		if limit <= 0 {
			// SQLite needs a LIMIT before OFFSET
			ds = ds.Limit(uint(1<<31 - 1))
		}
		ds = ds.Offset(uint(offset))
	}
	return ds
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}

// isForeignKey matches both foreign key failures SQLite reports: inserts
// fail with CONSTRAINT_FOREIGNKEY, while ON DELETE RESTRICT is enforced by an
// internal trigger and fails with CONSTRAINT_TRIGGER.
func isForeignKey(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return false
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintForeignKey:
		return true
	case sqlite3.ErrConstraintTrigger:
		return strings.Contains(se.Error(), "FOREIGN KEY")
	}
	return false
}

func mapConstraint(err error, format string, args ...any) error {
	if isConstraint(err, sqlite3.ErrConstraintUnique) {
		return ledger.Reject(ledger.CodeDuplicate, format, args...)
	}
	return fmt.Errorf("failed to insert: %w", err)
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
