// Package store provides Store implementations.
package store

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/warp/library-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	data
}

// data holds the tables. Its methods never lock; Memory locks around them
// and the transactional view runs them under the lock WithTx already holds.
type data struct {
	authors    map[int64]ledger.Author
	books      map[int64]ledger.Book
	readers    map[int64]ledger.Reader
	operations map[int64]ledger.Operation
	nextID     int64
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{data: data{
		authors:    make(map[int64]ledger.Author),
		books:      make(map[int64]ledger.Book),
		readers:    make(map[int64]ledger.Reader),
		operations: make(map[int64]ledger.Operation),
		now:        time.Now,
	}}
}

func (d *data) id() int64 {
	d.nextID++
	return d.nextID
}

func (d *data) clone() data {
	return data{
		authors:    maps.Clone(d.authors),
		books:      maps.Clone(d.books),
		readers:    maps.Clone(d.readers),
		operations: maps.Clone(d.operations),
		nextID:     d.nextID,
		now:        d.now,
	}
}

// sortedValues returns map values ordered by id.
func sortedValues[V any](m map[int64]V) []V {
	keys := slices.Sorted(maps.Keys(m))
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// =============================================================================
// CATALOG
// =============================================================================

func (d *data) createAuthor(a *ledger.Author) error {
	for _, existing := range d.authors {
		if strings.EqualFold(existing.Name, a.Name) {
			return ledger.Reject(ledger.CodeDuplicate, "author %q already exists", a.Name)
		}
	}
	a.ID = d.id()
	d.authors[a.ID] = *a
	return nil
}

func (d *data) getAuthor(id int64) (ledger.Author, error) {
	a, ok := d.authors[id]
	if !ok {
		return ledger.Author{}, ledger.NotFound("author", id)
	}
	return a, nil
}

func (d *data) deleteAuthor(id int64) error {
	if _, ok := d.authors[id]; !ok {
		return ledger.NotFound("author", id)
	}
	for _, b := range d.books {
		if b.AuthorID == id {
			return ledger.Reject(ledger.CodeReferenced, "author %d is referenced by book %d", id, b.ID)
		}
	}
	delete(d.authors, id)
	return nil
}

func (d *data) createBook(b *ledger.Book) error {
	if _, ok := d.authors[b.AuthorID]; !ok {
		return ledger.NotFound("author", b.AuthorID)
	}
	for _, existing := range d.books {
		if strings.EqualFold(existing.Title, b.Title) {
			return ledger.Reject(ledger.CodeDuplicate, "book %q already exists", b.Title)
		}
	}
	if b.Genre == "" {
		b.Genre = ledger.GenreStory
	}
	b.ID = d.id()
	b.Version = 1
	d.books[b.ID] = *b
	return nil
}

func (d *data) updateBook(b *ledger.Book) error {
	existing, ok := d.books[b.ID]
	if !ok {
		return ledger.NotFound("book", b.ID)
	}
	if _, ok := d.authors[b.AuthorID]; !ok {
		return ledger.NotFound("author", b.AuthorID)
	}
	for _, other := range d.books {
		if other.ID != b.ID && strings.EqualFold(other.Title, b.Title) {
			return ledger.Reject(ledger.CodeDuplicate, "book %q already exists", b.Title)
		}
	}
	existing.Title = b.Title
	existing.AuthorID = b.AuthorID
	if b.Genre != "" {
		existing.Genre = b.Genre
	}
	existing.Annotation = b.Annotation
	existing.Barcode = b.Barcode
	d.books[b.ID] = existing
	*b = existing
	return nil
}

func (d *data) getBook(id int64) (ledger.Book, error) {
	b, ok := d.books[id]
	if !ok {
		return ledger.Book{}, ledger.NotFound("book", id)
	}
	return b, nil
}

func (d *data) listBooks(f ledger.BookFilter) []ledger.Book {
	var out []ledger.Book
	for _, b := range sortedValues(d.books) {
		if f.Matches(b) {
			out = append(out, b)
		}
	}
	return ledger.Page(out, f.Limit, f.Offset)
}

func (d *data) deleteBook(id int64) error {
	if _, ok := d.books[id]; !ok {
		return ledger.NotFound("book", id)
	}
	for _, op := range d.operations {
		if op.BookID == id {
			return ledger.Reject(ledger.CodeReferenced, "book %d is referenced by operation %d", id, op.ID)
		}
	}
	delete(d.books, id)
	return nil
}

func (d *data) createReader(r *ledger.Reader) error {
	for _, existing := range d.readers {
		if strings.EqualFold(existing.Email, r.Email) {
			return ledger.Reject(ledger.CodeDuplicate, "reader with email %q already exists", r.Email)
		}
	}
	r.ID = d.id()
	d.readers[r.ID] = *r
	return nil
}

func (d *data) getReader(id int64) (ledger.Reader, error) {
	r, ok := d.readers[id]
	if !ok {
		return ledger.Reader{}, ledger.NotFound("reader", id)
	}
	return r, nil
}

func (d *data) deleteReader(id int64) error {
	if _, ok := d.readers[id]; !ok {
		return ledger.NotFound("reader", id)
	}
	for _, op := range d.operations {
		if op.ReaderID == id || op.CreatedBy == id {
			return ledger.Reject(ledger.CodeReferenced, "reader %d is referenced by operation %d", id, op.ID)
		}
	}
	delete(d.readers, id)
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (d *data) getOperation(id int64) (ledger.Operation, error) {
	op, ok := d.operations[id]
	if !ok {
		return ledger.Operation{}, ledger.NotFound("operation", id)
	}
	return op, nil
}

func (d *data) listOperations(f ledger.OperationFilter) []ledger.Operation {
	var out []ledger.Operation
	for _, op := range sortedValues(d.operations) {
		if f.Matches(op) {
			out = append(out, op)
		}
	}
	return ledger.Page(out, f.Limit, f.Offset)
}

func (d *data) openIssuances(readerID, bookID int64) []ledger.Operation {
	var out []ledger.Operation
	for _, op := range sortedValues(d.operations) {
		if op.IsOpen() && op.ReaderID == readerID && op.BookID == bookID {
			out = append(out, op)
		}
	}
	return out
}

func (d *data) allOpenIssuances() []ledger.Operation {
	var out []ledger.Operation
	for _, op := range sortedValues(d.operations) {
		if op.IsOpen() {
			out = append(out, op)
		}
	}
	return out
}

func (d *data) appendOperation(op *ledger.Operation) error {
	if _, ok := d.readers[op.ReaderID]; !ok {
		return ledger.NotFound("reader", op.ReaderID)
	}
	if _, ok := d.books[op.BookID]; !ok {
		return ledger.NotFound("book", op.BookID)
	}
	op.ID = d.id()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = d.now().UTC()
	}
	d.operations[op.ID] = *op
	return nil
}

func (d *data) deleteOperation(id int64) error {
	if _, ok := d.operations[id]; !ok {
		return ledger.NotFound("operation", id)
	}
	delete(d.operations, id)
	return nil
}

func (d *data) updateBookCounters(bookID, version int64, c ledger.Counters) error {
	b, ok := d.books[bookID]
	if !ok {
		return ledger.NotFound("book", bookID)
	}
	if b.Version != version {
		return ledger.ErrConflict
	}
	b.Counters = c
	b.Version++
	d.books[bookID] = b
	return nil
}

func (d *data) resolveIssuance(issuanceID, resolverID int64, state ledger.IssuanceState) error {
	op, err := d.getOperation(issuanceID)
	if err != nil {
		return err
	}
	if !op.IsOpen() {
		return ledger.ErrConflict
	}
	op.LinkedOperationID = resolverID
	op.State = state
	d.operations[issuanceID] = op
	return nil
}

func (d *data) reopenIssuance(issuanceID, resolverID int64) error {
	op, err := d.getOperation(issuanceID)
	if err != nil {
		return err
	}
	if op.Kind != ledger.KindIssuance || op.LinkedOperationID != resolverID {
		return ledger.ErrConflict
	}
	op.LinkedOperationID = 0
	op.State = ledger.StateOpen
	d.operations[issuanceID] = op
	return nil
}

func (d *data) setIssuanceState(issuanceID int64, from, to ledger.IssuanceState) error {
	op, err := d.getOperation(issuanceID)
	if err != nil {
		return err
	}
	if op.Kind != ledger.KindIssuance || op.State != from {
		return ledger.ErrConflict
	}
	op.State = to
	d.operations[issuanceID] = op
	return nil
}

// =============================================================================
// LOCKED ACCESSORS
// =============================================================================

func (m *Memory) CreateAuthor(_ context.Context, a *ledger.Author) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAuthor(a)
}

func (m *Memory) GetAuthor(_ context.Context, id int64) (ledger.Author, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAuthor(id)
}

func (m *Memory) ListAuthors(_ context.Context) ([]ledger.Author, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.authors), nil
}

func (m *Memory) DeleteAuthor(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteAuthor(id)
}

func (m *Memory) CreateBook(_ context.Context, b *ledger.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createBook(b)
}

func (m *Memory) UpdateBook(_ context.Context, b *ledger.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBook(b)
}

func (m *Memory) GetBook(_ context.Context, id int64) (ledger.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBook(id)
}

func (m *Memory) ListBooks(_ context.Context, f ledger.BookFilter) ([]ledger.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBooks(f), nil
}

func (m *Memory) DeleteBook(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteBook(id)
}

func (m *Memory) CreateReader(_ context.Context, r *ledger.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createReader(r)
}

func (m *Memory) GetReader(_ context.Context, id int64) (ledger.Reader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getReader(id)
}

func (m *Memory) ListReaders(_ context.Context) ([]ledger.Reader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.readers), nil
}

func (m *Memory) DeleteReader(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteReader(id)
}

func (m *Memory) GetOperation(_ context.Context, id int64) (ledger.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOperation(id)
}

func (m *Memory) ListOperations(_ context.Context, f ledger.OperationFilter) ([]ledger.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listOperations(f), nil
}

func (m *Memory) OpenIssuances(_ context.Context, readerID, bookID int64) ([]ledger.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openIssuances(readerID, bookID), nil
}

func (m *Memory) AllOpenIssuances(_ context.Context) ([]ledger.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allOpenIssuances(), nil
}

func (m *Memory) AppendOperation(_ context.Context, op *ledger.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendOperation(op)
}

func (m *Memory) DeleteOperation(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteOperation(id)
}

func (m *Memory) UpdateBookCounters(_ context.Context, bookID, version int64, c ledger.Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBookCounters(bookID, version, c)
}

func (m *Memory) ResolveIssuance(_ context.Context, issuanceID, resolverID int64, state ledger.IssuanceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveIssuance(issuanceID, resolverID, state)
}

func (m *Memory) ReopenIssuance(_ context.Context, issuanceID, resolverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reopenIssuance(issuanceID, resolverID)
}

func (m *Memory) SetIssuanceState(_ context.Context, issuanceID int64, from, to ledger.IssuanceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setIssuanceState(issuanceID, from, to)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error
// or panic. Transactions are serialized by the store lock.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.data.clone()
	committed := false
	defer func() {
		if !committed {
			tm.data = snapshot
		}
	}()
	if err := fn(&txMemoryView{d: &tm.data}); err != nil {
		return err
	}
	committed = true
	return nil
}

// txMemoryView runs every call against the locked tables.
type txMemoryView struct {
	d *data
}

func (tv *txMemoryView) CreateAuthor(_ context.Context, a *ledger.Author) error {
	return tv.d.createAuthor(a)
}

func (tv *txMemoryView) GetAuthor(_ context.Context, id int64) (ledger.Author, error) {
	return tv.d.getAuthor(id)
}

func (tv *txMemoryView) ListAuthors(_ context.Context) ([]ledger.Author, error) {
	return sortedValues(tv.d.authors), nil
}

func (tv *txMemoryView) DeleteAuthor(_ context.Context, id int64) error {
	return tv.d.deleteAuthor(id)
}

func (tv *txMemoryView) CreateBook(_ context.Context, b *ledger.Book) error {
	return tv.d.createBook(b)
}

func (tv *txMemoryView) UpdateBook(_ context.Context, b *ledger.Book) error {
	return tv.d.updateBook(b)
}

func (tv *txMemoryView) GetBook(_ context.Context, id int64) (ledger.Book, error) {
	return tv.d.getBook(id)
}

func (tv *txMemoryView) ListBooks(_ context.Context, f ledger.BookFilter) ([]ledger.Book, error) {
	return tv.d.listBooks(f), nil
}

func (tv *txMemoryView) DeleteBook(_ context.Context, id int64) error {
	return tv.d.deleteBook(id)
}

func (tv *txMemoryView) CreateReader(_ context.Context, r *ledger.Reader) error {
	return tv.d.createReader(r)
}

func (tv *txMemoryView) GetReader(_ context.Context, id int64) (ledger.Reader, error) {
	return tv.d.getReader(id)
}

func (tv *txMemoryView) ListReaders(_ context.Context) ([]ledger.Reader, error) {
	return sortedValues(tv.d.readers), nil
}

func (tv *txMemoryView) DeleteReader(_ context.Context, id int64) error {
	return tv.d.deleteReader(id)
}

func (tv *txMemoryView) GetOperation(_ context.Context, id int64) (ledger.Operation, error) {
	return tv.d.getOperation(id)
}

func (tv *txMemoryView) ListOperations(_ context.Context, f ledger.OperationFilter) ([]ledger.Operation, error) {
	return tv.d.listOperations(f), nil
}

func (tv *txMemoryView) OpenIssuances(_ context.Context, readerID, bookID int64) ([]ledger.Operation, error) {
	return tv.d.openIssuances(readerID, bookID), nil
}

func (tv *txMemoryView) AllOpenIssuances(_ context.Context) ([]ledger.Operation, error) {
	return tv.d.allOpenIssuances(), nil
}

func (tv *txMemoryView) AppendOperation(_ context.Context, op *ledger.Operation) error {
	return tv.d.appendOperation(op)
}

func (tv *txMemoryView) DeleteOperation(_ context.Context, id int64) error {
	return tv.d.deleteOperation(id)
}

func (tv *txMemoryView) UpdateBookCounters(_ context.Context, bookID, version int64, c ledger.Counters) error {
	return tv.d.updateBookCounters(bookID, version, c)
}

func (tv *txMemoryView) ResolveIssuance(_ context.Context, issuanceID, resolverID int64, state ledger.IssuanceState) error {
	return tv.d.resolveIssuance(issuanceID, resolverID, state)
}

func (tv *txMemoryView) ReopenIssuance(_ context.Context, issuanceID, resolverID int64) error {
	return tv.d.reopenIssuance(issuanceID, resolverID)
}

func (tv *txMemoryView) SetIssuanceState(_ context.Context, issuanceID int64, from, to ledger.IssuanceState) error {
	return tv.d.setIssuanceState(issuanceID, from, to)
}
