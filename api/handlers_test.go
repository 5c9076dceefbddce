/*
handlers_test.go - Tests for the HTTP surface

Tests for:
- Caller identity and librarian-only routes
- Catalog endpoints
- Lending flow through the router (submit, list, amend, delete)
- Error taxonomy to status mapping
- Manual reminder trigger
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/library-ledger/ledger"
	"github.com/warp/library-ledger/ledger/store"
	"github.com/warp/library-ledger/notify"
	"github.com/warp/library-ledger/store/sqlite"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRunner struct {
	asOf   ledger.Date
	report notify.RunReport
}

func (f *fakeRunner) RunNow(_ context.Context, asOf ledger.Date) notify.RunReport {
	f.asOf = asOf
	f.report.Date = asOf.String()
	return f.report
}

type fixture struct {
	router    *chi.Mux
	runner    *fakeRunner
	librarian ledger.Reader
	alice     ledger.Reader
	bob       ledger.Reader
	book      ledger.Book
}

func setup(t *testing.T) *fixture {
	t.Helper()
	return setupWith(t, store.NewTxMemory())
}

func setupWith(t *testing.T, st ledger.TxStore, opts ...ledger.EngineOption) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{runner: &fakeRunner{}}
	f.librarian = ledger.Reader{Name: "Lib", Email: "lib@x.test", IsLibrarian: true}
	require.NoError(t, st.CreateReader(ctx, &f.librarian))
	f.alice = ledger.Reader{Name: "Alice", Email: "alice@x.test"}
	require.NoError(t, st.CreateReader(ctx, &f.alice))
	f.bob = ledger.Reader{Name: "Bob", Email: "bob@x.test"}
	require.NoError(t, st.CreateReader(ctx, &f.bob))
	author := ledger.Author{Name: "Herbert"}
	require.NoError(t, st.CreateAuthor(ctx, &author))
	f.book = ledger.Book{Title: "Dune", AuthorID: author.ID}
	require.NoError(t, st.CreateBook(ctx, &f.book))

	today := ledger.NewDate(2025, time.March, 10)
	opts = append([]ledger.EngineOption{
		ledger.WithLogger(quiet),
		ledger.WithClock(func() time.Time { return today.Time }),
	}, opts...)
	engine, err := ledger.NewEngine(st, opts...)
	require.NoError(t, err)

	f.router = NewRouter(NewHandler(engine, f.runner, quiet), nil)
	return f
}

func (f *fixture) do(t *testing.T, as ledger.Reader, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if as.ID != 0 {
		req.Header.Set(ReaderHeader, strconv.FormatInt(as.ID, 10))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *fixture) submit(t *testing.T, req SubmitOperationRequest) OperationDTO {
	t.Helper()
	rec := f.do(t, f.librarian, http.MethodPost, "/api/lending/create", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[OperationDTO](t, rec)
}

// =============================================================================
// IDENTITY
// =============================================================================

func TestIdentity(t *testing.T) {
	f := setup(t)

	rec := f.do(t, ledger.Reader{}, http.MethodGet, "/api/books", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, ledger.Reader{ID: 999}, http.MethodGet, "/api/books", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, f.alice, http.MethodGet, "/api/books", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLibrarianOnlyRoutes(t *testing.T) {
	f := setup(t)

	cases := []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/authors", CreateAuthorRequest{Name: "X"}},
		{http.MethodPost, "/api/books", CreateBookRequest{Title: "X", AuthorID: 1}},
		{http.MethodGet, "/api/readers", nil},
		{http.MethodPost, "/api/lending/create", SubmitOperationRequest{Operation: "arrival", BookID: f.book.ID, ArrivalQuantity: 1}},
		{http.MethodPatch, "/api/lending/update/1", nil},
		{http.MethodDelete, "/api/lending/delete/1", nil},
		{http.MethodPost, "/api/admin/reminders", nil},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := f.do(t, f.alice, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog(t *testing.T) {
	f := setup(t)

	// GIVEN: A new author and a book by them
	rec := f.do(t, f.librarian, http.MethodPost, "/api/authors", CreateAuthorRequest{Name: "Le Guin"})
	require.Equal(t, http.StatusCreated, rec.Code)
	author := decode[AuthorDTO](t, rec)

	rec = f.do(t, f.librarian, http.MethodPost, "/api/books",
		CreateBookRequest{Title: "Earthsea", AuthorID: author.ID, Genre: "fantasy"})
	require.Equal(t, http.StatusCreated, rec.Code)
	book := decode[BookDTO](t, rec)
	assert.Equal(t, "fantasy", book.Genre)

	// WHEN: Filtering books by author
	rec = f.do(t, f.alice, http.MethodGet, fmt.Sprintf("/api/books?author=%d", author.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	books := decode[[]BookDTO](t, rec)
	require.Len(t, books, 1)
	assert.Equal(t, "Earthsea", books[0].Title)

	// THEN: Duplicates and referenced deletions are rejected with codes
	rec = f.do(t, f.librarian, http.MethodPost, "/api/authors", CreateAuthorRequest{Name: "le guin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.CodeDuplicate, decode[ErrorResponse](t, rec).Code)

	rec = f.do(t, f.librarian, http.MethodDelete, fmt.Sprintf("/api/authors/%d", author.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.CodeReferenced, decode[ErrorResponse](t, rec).Code)

	rec = f.do(t, f.librarian, http.MethodDelete, fmt.Sprintf("/api/books/%d", book.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, f.alice, http.MethodGet, fmt.Sprintf("/api/books/%d", book.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalog_InvalidInput(t *testing.T) {
	f := setup(t)

	rec := f.do(t, f.librarian, http.MethodPost, "/api/books", CreateBookRequest{Title: "X", AuthorID: 1, Genre: "horror"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, f.librarian, http.MethodPost, "/api/readers", CreateReaderRequest{Name: "Eve", Email: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, f.alice, http.MethodGet, "/api/books/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, f.alice, http.MethodGet, "/api/books?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalog_UpdateBookKeepsCounters(t *testing.T) {
	f := setup(t)

	// GIVEN: Dune has two copies, one of them on loan
	f.submit(t, SubmitOperationRequest{Operation: "arrival", BookID: f.book.ID, ArrivalQuantity: 2})
	f.submit(t, SubmitOperationRequest{Operation: "issuance", ReaderID: f.alice.ID, BookID: f.book.ID})

	// WHEN: A librarian renames it and sends counters along
	path := fmt.Sprintf("/api/books/%d", f.book.ID)
	rec := f.do(t, f.librarian, http.MethodPatch, path, map[string]any{
		"title":          "Dune Messiah",
		"genre":          "fantasy",
		"quantity_all":   99,
		"amount_lending": 99,
	})

	// THEN: Metadata changes, counters do not
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	book := decode[BookDTO](t, rec)
	assert.Equal(t, "Dune Messiah", book.Title)
	assert.Equal(t, "fantasy", book.Genre)
	assert.Equal(t, 2, book.QuantityAll)
	assert.Equal(t, 1, book.QuantityLending)
	assert.Equal(t, 1, book.AmountLending)

	// THEN: The next ledger write still sees the stored counters
	f.submit(t, SubmitOperationRequest{Operation: "issuance", ReaderID: f.bob.ID, BookID: f.book.ID})
	rec = f.do(t, f.alice, http.MethodGet, path, nil)
	assert.Equal(t, 0, decode[BookDTO](t, rec).Available)
}

func TestCatalog_UpdateBookInvalid(t *testing.T) {
	f := setup(t)
	other := f.do(t, f.librarian, http.MethodPost, "/api/books", CreateBookRequest{Title: "Children of Dune", AuthorID: f.book.AuthorID})
	require.Equal(t, http.StatusCreated, other.Code)
	path := fmt.Sprintf("/api/books/%d", f.book.ID)

	rec := f.do(t, f.librarian, http.MethodPatch, path, map[string]any{"title": "children of dune"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.CodeDuplicate, decode[ErrorResponse](t, rec).Code)

	rec = f.do(t, f.librarian, http.MethodPatch, path, map[string]any{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, f.librarian, http.MethodPatch, path, map[string]any{"genre": "horror"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, f.librarian, http.MethodPatch, path, map[string]any{"author": 999})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, f.librarian, http.MethodPatch, "/api/books/999", map[string]any{"title": "X"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, f.alice, http.MethodPatch, path, map[string]any{"title": "X"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, f.alice, http.MethodGet, path, nil)
	assert.Equal(t, "Dune", decode[BookDTO](t, rec).Title)
}

func TestCatalog_GetAuthorAndReader(t *testing.T) {
	f := setup(t)

	rec := f.do(t, f.alice, http.MethodGet, fmt.Sprintf("/api/authors/%d", f.book.AuthorID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Herbert", decode[AuthorDTO](t, rec).Name)

	rec = f.do(t, f.alice, http.MethodGet, "/api/authors/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A reader sees their own record, librarians see everyone
	rec = f.do(t, f.alice, http.MethodGet, fmt.Sprintf("/api/readers/%d", f.alice.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice@x.test", decode[ReaderDTO](t, rec).Email)

	rec = f.do(t, f.alice, http.MethodGet, fmt.Sprintf("/api/readers/%d", f.bob.ID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, f.librarian, http.MethodGet, fmt.Sprintf("/api/readers/%d", f.bob.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bob", decode[ReaderDTO](t, rec).Name)

	rec = f.do(t, f.librarian, http.MethodGet, "/api/readers/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// stallingCatalog blocks book listings until the context is done.
type stallingCatalog struct {
	ledger.TxStore
}

func (s *stallingCatalog) ListBooks(ctx context.Context, _ ledger.BookFilter) ([]ledger.Book, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCatalog_StoreTimeout(t *testing.T) {
	// GIVEN: A catalog that never answers and a short store timeout
	f := setupWith(t, &stallingCatalog{TxStore: store.NewTxMemory()},
		ledger.WithStoreTimeout(20*time.Millisecond))

	// WHEN: Listing books
	start := time.Now()
	rec := f.do(t, f.alice, http.MethodGet, "/api/books", nil)

	// THEN: The request fails as unavailable instead of hanging
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCatalog_SQLiteReferencedDelete(t *testing.T) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	f := setupWith(t, st)

	// WHEN: Deleting the author of a catalogued book, then a reader with history
	rec := f.do(t, f.librarian, http.MethodDelete, fmt.Sprintf("/api/authors/%d", f.book.AuthorID), nil)

	// THEN: Both are refused as referenced, not as server errors
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, ledger.CodeReferenced, decode[ErrorResponse](t, rec).Code)

	f.submit(t, SubmitOperationRequest{Operation: "arrival", BookID: f.book.ID, ArrivalQuantity: 1})
	f.submit(t, SubmitOperationRequest{Operation: "issuance", ReaderID: f.alice.ID, BookID: f.book.ID})
	rec = f.do(t, f.librarian, http.MethodDelete, fmt.Sprintf("/api/readers/%d", f.alice.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, ledger.CodeReferenced, decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// LENDING
// =============================================================================

func TestLending_IssueReturnFlow(t *testing.T) {
	f := setup(t)

	// GIVEN: One copy arrives and Alice borrows it
	arrival := f.submit(t, SubmitOperationRequest{Operation: "arrival", BookID: f.book.ID, ArrivalQuantity: 1})
	assert.Equal(t, f.librarian.ID, arrival.ReaderID)
	assert.Equal(t, "2025-03-10", arrival.DateEvent)

	issuance := f.submit(t, SubmitOperationRequest{Operation: "issuance", ReaderID: f.alice.ID, BookID: f.book.ID, DateEvent: "2025-03-01"})
	assert.Equal(t, "open", issuance.State)
	assert.Nil(t, issuance.LinkedOperationID)

	// WHEN: Bob asks for the same book
	rec := f.do(t, f.librarian, http.MethodPost, "/api/lending/create",
		SubmitOperationRequest{Operation: "issuance", ReaderID: f.bob.ID, BookID: f.book.ID})

	// THEN: Rejected with the reason shown verbatim
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, ledger.CodeAllIssued, errResp.Code)
	assert.Contains(t, errResp.Error, `"Dune"`)

	// WHEN: Alice returns the book
	ret := f.submit(t, SubmitOperationRequest{Operation: "return", ReaderID: f.alice.ID, BookID: f.book.ID})
	require.NotNil(t, ret.LinkedOperationID)
	assert.Equal(t, issuance.ID, *ret.LinkedOperationID)

	rec = f.do(t, f.librarian, http.MethodGet, fmt.Sprintf("/api/lending/%d", issuance.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[OperationDTO](t, rec)
	assert.True(t, got.IsReturned)
	assert.False(t, got.IsLost)

	rec = f.do(t, f.alice, http.MethodGet, fmt.Sprintf("/api/books/%d", f.book.ID), nil)
	book := decode[BookDTO](t, rec)
	assert.Equal(t, 1, book.QuantityAll)
	assert.Equal(t, 0, book.QuantityLending)
	assert.Equal(t, 1, book.AmountLending)
	assert.Equal(t, 1, book.Available)

	// THEN: The resolved issuance cannot be deleted, but the return can
	rec = f.do(t, f.librarian, http.MethodDelete, fmt.Sprintf("/api/lending/delete/%d", issuance.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.CodeIssuanceResolved, decode[ErrorResponse](t, rec).Code)

	rec = f.do(t, f.librarian, http.MethodDelete, fmt.Sprintf("/api/lending/delete/%d", ret.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, f.librarian, http.MethodGet, fmt.Sprintf("/api/lending/%d", issuance.ID), nil)
	assert.Equal(t, "open", decode[OperationDTO](t, rec).State)
}

func TestLending_LossAndWriteOffAmendment(t *testing.T) {
	f := setup(t)
	f.submit(t, SubmitOperationRequest{Operation: "arrival", BookID: f.book.ID, ArrivalQuantity: 1})
	issuance := f.submit(t, SubmitOperationRequest{Operation: "issuance", ReaderID: f.alice.ID, BookID: f.book.ID})

	// GIVEN: Alice lost the book
	f.submit(t, SubmitOperationRequest{Operation: "loss", ReaderID: f.alice.ID, BookID: f.book.ID})

	// WHEN: Trying to undo a write-off that hasn't happened
	path := fmt.Sprintf("/api/lending/update/%d", issuance.ID)
	rec := f.do(t, f.librarian, http.MethodPatch, path, map[string]bool{"is_write_off": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// WHEN: Writing the lost copy off
	rec = f.do(t, f.librarian, http.MethodPatch, path, map[string]bool{"is_write_off": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	op := decode[OperationDTO](t, rec)
	assert.True(t, op.IsLost)
	assert.True(t, op.IsWrittenOff)

	// THEN: A second write-off is rejected
	rec = f.do(t, f.librarian, http.MethodPatch, path, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.CodeAlreadyWrittenOff, decode[ErrorResponse](t, rec).Code)

	rec = f.do(t, f.librarian, http.MethodGet, "/api/lending?is_write_off=true", nil)
	ops := decode[[]OperationDTO](t, rec)
	require.Len(t, ops, 1)
	assert.Equal(t, issuance.ID, ops[0].ID)
}

func TestLending_ReaderVisibility(t *testing.T) {
	f := setup(t)
	f.submit(t, SubmitOperationRequest{Operation: "arrival", BookID: f.book.ID, ArrivalQuantity: 2})
	aliceOp := f.submit(t, SubmitOperationRequest{Operation: "issuance", ReaderID: f.alice.ID, BookID: f.book.ID})
	bobOp := f.submit(t, SubmitOperationRequest{Operation: "issuance", ReaderID: f.bob.ID, BookID: f.book.ID})

	// WHEN: Alice lists everything, even asking for Bob's rows
	rec := f.do(t, f.alice, http.MethodGet, fmt.Sprintf("/api/lending?reader=%d", f.bob.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ops := decode[[]OperationDTO](t, rec)

	// THEN: She only sees her own
	require.Len(t, ops, 1)
	assert.Equal(t, aliceOp.ID, ops[0].ID)

	rec = f.do(t, f.alice, http.MethodGet, fmt.Sprintf("/api/lending/%d", bobOp.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// AND: The librarian sees every row, filtered and paged
	rec = f.do(t, f.librarian, http.MethodGet, "/api/lending?operation=issuance&limit=1&offset=1", nil)
	ops = decode[[]OperationDTO](t, rec)
	require.Len(t, ops, 1)
	assert.Equal(t, bobOp.ID, ops[0].ID)

	rec = f.do(t, f.librarian, http.MethodGet, "/api/lending?operation=borrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, f.librarian, http.MethodGet, "/api/lending?date_event=10.03.2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLending_BadSubmissions(t *testing.T) {
	f := setup(t)

	rec := f.do(t, f.librarian, http.MethodPost, "/api/lending/create",
		SubmitOperationRequest{Operation: "steal", BookID: f.book.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.CodeInvalidKind, decode[ErrorResponse](t, rec).Code)

	rec = f.do(t, f.librarian, http.MethodPost, "/api/lending/create",
		SubmitOperationRequest{Operation: "arrival", BookID: 999, ArrivalQuantity: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, f.librarian, http.MethodPost, "/api/lending/create",
		SubmitOperationRequest{Operation: "issuance", ReaderID: f.alice.ID, BookID: f.book.ID, DateEvent: "yesterday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, f.librarian, http.MethodDelete, "/api/lending/delete/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestWriteLedgerError(t *testing.T) {
	h := &Handler{Logger: quiet}

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"rejected", ledger.Reject(ledger.CodeAllIssued, "all out"), http.StatusBadRequest},
		{"not found", ledger.NotFound("book", 1), http.StatusNotFound},
		{"conflict", fmt.Errorf("submit: %w", ledger.ErrConflict), http.StatusConflict},
		{"transient", &ledger.TransientError{Op: "submit", Err: context.DeadlineExceeded}, http.StatusServiceUnavailable},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeLedgerError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
			assert.Equal(t, tc.status, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.writeLedgerError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("disk on fire"))
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

// =============================================================================
// REMINDERS
// =============================================================================

func TestTriggerReminders(t *testing.T) {
	f := setup(t)
	f.runner.report = notify.RunReport{RunID: "run-1", Reminders: 2, Sent: 2}

	rec := f.do(t, f.librarian, http.MethodPost, "/api/admin/reminders?date=2025-04-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[notify.RunReport](t, rec)
	assert.Equal(t, "2025-04-01", report.Date)
	assert.Equal(t, 2, report.Sent)

	rec = f.do(t, f.librarian, http.MethodPost, "/api/admin/reminders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-03-10", f.runner.asOf.String())

	rec = f.do(t, f.librarian, http.MethodPost, "/api/admin/reminders?date=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.runner.report.Error = "transient store failure"
	rec = f.do(t, f.librarian, http.MethodPost, "/api/admin/reminders", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
