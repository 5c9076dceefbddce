/*
handlers.go - HTTP API handlers for the library ledger

PURPOSE:
  Exposes the ledger engine and the catalog via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the ledger.

ENDPOINTS:
  Authors:
    GET    /api/authors                List authors
    POST   /api/authors                Create author
    GET    /api/authors/{id}           Get author
    DELETE /api/authors/{id}           Delete unreferenced author

  Books:
    GET    /api/books                  List books (?author=&genre=&limit=&offset=)
    POST   /api/books                  Create book
    GET    /api/books/{id}             Book with its counters
    PATCH  /api/books/{id}             Update metadata (never counters)
    DELETE /api/books/{id}             Delete unreferenced book

  Readers:
    GET    /api/readers                List readers
    POST   /api/readers                Create reader
    GET    /api/readers/{id}           Get reader (librarian or self)
    DELETE /api/readers/{id}           Delete unreferenced reader

  Lending:
    GET    /api/lending                List operations (see parseOperationFilter)
    POST   /api/lending/create         Submit operation
    GET    /api/lending/{id}           Get operation
    PATCH  /api/lending/update/{id}    Mark a lost copy as written off
    DELETE /api/lending/delete/{id}    Delete operation and revert its effect

  Admin:
    POST   /api/admin/reminders        Run one reminder scan (?date=YYYY-MM-DD)

REQUEST FLOW:
  1. identify resolves the caller from X-Reader-ID
  2. Parse and validate input
  3. Call the ledger engine or the catalog, both under the store timeout
  4. Serialize response or map the error

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Rejected by the ledger, invalid input
  - 401: Missing or unknown caller
  - 403: Caller is not a librarian
  - 404: Resource not found
  - 409: Concurrent modification survived every retry
  - 503: Store timed out
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/warp/library-ledger/ledger"
	"github.com/warp/library-ledger/notify"
)

// ReaderHeader names the calling reader.
const ReaderHeader = "X-Reader-ID"

// ReminderRunner runs one reminder scan on demand.
type ReminderRunner interface {
	RunNow(ctx context.Context, asOf ledger.Date) notify.RunReport
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *ledger.Engine
	Reminders ReminderRunner
	Logger    *slog.Logger
}

// NewHandler creates a new handler. reminders may be nil, in which case the
// admin trigger answers 503.
func NewHandler(engine *ledger.Engine, reminders ReminderRunner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:    engine,
		Reminders: reminders,
		Logger:    logger,
	}
}

// catalog runs fn under the engine's store timeout.
func (h *Handler) catalog(r *http.Request, name string, fn func(context.Context, ledger.Catalog) error) error {
	return h.Engine.WithCatalog(r.Context(), name, fn)
}

// =============================================================================
// CALLER IDENTITY
// =============================================================================

type actorKey struct{}

func actorFrom(ctx context.Context) ledger.Actor {
	actor, _ := ctx.Value(actorKey{}).(ledger.Actor)
	return actor
}

func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ReaderHeader))
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+ReaderHeader+" header", nil)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid "+ReaderHeader+" header", err)
			return
		}
		var reader ledger.Reader
		err = h.catalog(r, "identify", func(ctx context.Context, c ledger.Catalog) error {
			var err error
			reader, err = c.GetReader(ctx, id)
			return err
		})
		if err != nil {
			if ledger.IsNotFound(err) {
				writeError(w, http.StatusUnauthorized, "Unknown reader", err)
				return
			}
			h.writeLedgerError(w, r, err)
			return
		}

		actor := ledger.Actor{ReaderID: reader.ID, IsLibrarian: reader.IsLibrarian}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func requireLibrarian(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r.Context()).IsLibrarian {
			writeError(w, http.StatusForbidden, "Only librarians may do this", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// AUTHOR HANDLERS
// =============================================================================

func (h *Handler) ListAuthors(w http.ResponseWriter, r *http.Request) {
	var authors []ledger.Author
	err := h.catalog(r, "list_authors", func(ctx context.Context, c ledger.Catalog) error {
		var err error
		authors, err = c.ListAuthors(ctx)
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	out := make([]AuthorDTO, 0, len(authors))
	for _, a := range authors {
		out = append(out, toAuthorDTO(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetAuthor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var author ledger.Author
	err := h.catalog(r, "get_author", func(ctx context.Context, c ledger.Catalog) error {
		var err error
		author, err = c.GetAuthor(ctx, id)
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthorDTO(author))
}

func (h *Handler) CreateAuthor(w http.ResponseWriter, r *http.Request) {
	var req CreateAuthorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	author := ledger.Author{Name: strings.TrimSpace(req.Name), Portrait: req.Portrait}
	err := h.catalog(r, "create_author", func(ctx context.Context, c ledger.Catalog) error {
		return c.CreateAuthor(ctx, &author)
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuthorDTO(author))
}

func (h *Handler) DeleteAuthor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	err := h.catalog(r, "delete_author", func(ctx context.Context, c ledger.Catalog) error {
		return c.DeleteAuthor(ctx, id)
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BOOK HANDLERS
// =============================================================================

func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ledger.BookFilter
	var err error
	if filter.AuthorID, err = queryInt64(q.Get("author")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid author", err)
		return
	}
	if g := q.Get("genre"); g != "" {
		filter.Genre = ledger.Genre(g)
		if !filter.Genre.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown genre %q", g), nil)
			return
		}
	}
	if filter.Limit, filter.Offset, err = paging(q.Get("limit"), q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid paging", err)
		return
	}

	var books []ledger.Book
	err = h.catalog(r, "list_books", func(ctx context.Context, c ledger.Catalog) error {
		var err error
		books, err = c.ListBooks(ctx, filter)
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	out := make([]BookDTO, 0, len(books))
	for _, b := range books {
		out = append(out, toBookDTO(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var book ledger.Book
	err := h.catalog(r, "get_book", func(ctx context.Context, c ledger.Catalog) error {
		var err error
		book, err = c.GetBook(ctx, id)
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required", nil)
		return
	}
	genre := ledger.Genre(req.Genre)
	if genre != "" && !genre.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown genre %q", req.Genre), nil)
		return
	}

	book := ledger.Book{
		Title:      strings.TrimSpace(req.Title),
		AuthorID:   req.AuthorID,
		Genre:      genre,
		Annotation: req.Annotation,
		Barcode:    req.Barcode,
	}
	err := h.catalog(r, "create_book", func(ctx context.Context, c ledger.Catalog) error {
		return c.CreateBook(ctx, &book)
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookDTO(book))
}

// UpdateBook changes catalog metadata only. Counters belong to the ledger
// and are never accepted from a request.
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title must not be empty", nil)
		return
	}
	if req.Genre != nil && !ledger.Genre(*req.Genre).Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown genre %q", *req.Genre), nil)
		return
	}

	var book ledger.Book
	err := h.catalog(r, "update_book", func(ctx context.Context, c ledger.Catalog) error {
		var err error
		if book, err = c.GetBook(ctx, id); err != nil {
			return err
		}
		req.apply(&book)
		return c.UpdateBook(ctx, &book)
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	err := h.catalog(r, "delete_book", func(ctx context.Context, c ledger.Catalog) error {
		return c.DeleteBook(ctx, id)
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// READER HANDLERS
// =============================================================================

func (h *Handler) ListReaders(w http.ResponseWriter, r *http.Request) {
	var readers []ledger.Reader
	err := h.catalog(r, "list_readers", func(ctx context.Context, c ledger.Catalog) error {
		var err error
		readers, err = c.ListReaders(ctx)
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	out := make([]ReaderDTO, 0, len(readers))
	for _, rd := range readers {
		out = append(out, toReaderDTO(rd))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetReader is open to librarians and to the reader themselves.
func (h *Handler) GetReader(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor := actorFrom(r.Context())
	if !actor.IsLibrarian && actor.ReaderID != id {
		writeError(w, http.StatusForbidden, "Only librarians may do this", nil)
		return
	}
	var reader ledger.Reader
	err := h.catalog(r, "get_reader", func(ctx context.Context, c ledger.Catalog) error {
		var err error
		reader, err = c.GetReader(ctx, id)
		return err
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReaderDTO(reader))
}

func (h *Handler) CreateReader(w http.ResponseWriter, r *http.Request) {
	var req CreateReaderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "name and a valid email are required", nil)
		return
	}

	reader := ledger.Reader{
		Name:           strings.TrimSpace(req.Name),
		Email:          strings.TrimSpace(req.Email),
		Phone:          req.Phone,
		TelegramChatID: req.TelegramChatID,
		IsLibrarian:    req.IsLibrarian,
	}
	err := h.catalog(r, "create_reader", func(ctx context.Context, c ledger.Catalog) error {
		return c.CreateReader(ctx, &reader)
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReaderDTO(reader))
}

func (h *Handler) DeleteReader(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	err := h.catalog(r, "delete_reader", func(ctx context.Context, c ledger.Catalog) error {
		return c.DeleteReader(ctx, id)
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LENDING HANDLERS
// =============================================================================

// ListOperations returns ledger rows ordered by id. Non-librarians only see
// their own rows.
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseOperationFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}
	ops, err := h.Engine.Operations(r.Context(), actorFrom(r.Context()), filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTOs(ops))
}

func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	op, err := h.Engine.Operation(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTO(op))
}

func (h *Handler) SubmitOperation(w http.ResponseWriter, r *http.Request) {
	var req SubmitOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sub := ledger.Submission{
		Kind:     ledger.Kind(req.Operation),
		ReaderID: req.ReaderID,
		BookID:   req.BookID,
		Quantity: req.ArrivalQuantity,
		Issued:   req.IssuedQuantity,
	}
	if req.DateEvent != "" {
		date, err := ledger.ParseDate(req.DateEvent)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date_event format (use YYYY-MM-DD)", err)
			return
		}
		sub.EventDate = date
	}

	op, err := h.Engine.Submit(r.Context(), actorFrom(r.Context()), sub)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationDTO(op))
}

// AmendWriteOff marks a lost copy as written off. The body may be empty or
// {"is_write_off": true}; nothing else about an operation can change.
func (h *Handler) AmendWriteOff(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if r.ContentLength != 0 {
		var req AmendOperationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		if req.IsWrittenOff != nil && !*req.IsWrittenOff {
			writeError(w, http.StatusBadRequest, "A write-off cannot be undone", nil)
			return
		}
	}

	op, err := h.Engine.AmendWriteOff(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTO(op))
}

func (h *Handler) DeleteOperation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.Delete(r.Context(), actorFrom(r.Context()), id); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseOperationFilter reads the listing filters:
//
//	reader, book          ids
//	date_event            YYYY-MM-DD
//	operation             kind
//	is_return, is_loss,
//	is_write_off          true/false
//	limit, offset         paging
func parseOperationFilter(r *http.Request) (ledger.OperationFilter, error) {
	q := r.URL.Query()
	var f ledger.OperationFilter
	var err error

	if f.ReaderID, err = queryInt64(q.Get("reader")); err != nil {
		return f, fmt.Errorf("reader: %w", err)
	}
	if f.BookID, err = queryInt64(q.Get("book")); err != nil {
		return f, fmt.Errorf("book: %w", err)
	}
	if s := q.Get("date_event"); s != "" {
		date, err := ledger.ParseDate(s)
		if err != nil {
			return f, fmt.Errorf("date_event: %w", err)
		}
		f.EventDate = &date
	}
	if s := q.Get("operation"); s != "" {
		f.Kind = ledger.Kind(s)
		if !f.Kind.Valid() {
			return f, fmt.Errorf("operation: unknown kind %q", s)
		}
	}
	if f.IsReturned, err = queryBool(q.Get("is_return")); err != nil {
		return f, fmt.Errorf("is_return: %w", err)
	}
	if f.IsLost, err = queryBool(q.Get("is_loss")); err != nil {
		return f, fmt.Errorf("is_loss: %w", err)
	}
	if f.IsWrittenOff, err = queryBool(q.Get("is_write_off")); err != nil {
		return f, fmt.Errorf("is_write_off: %w", err)
	}
	if f.Limit, f.Offset, err = paging(q.Get("limit"), q.Get("offset")); err != nil {
		return f, err
	}
	return f, nil
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerReminders runs one reminder scan as of ?date or today.
func (h *Handler) TriggerReminders(w http.ResponseWriter, r *http.Request) {
	if h.Reminders == nil {
		writeError(w, http.StatusServiceUnavailable, "Reminders are not configured", nil)
		return
	}

	asOf := h.Engine.Today()
	if s := r.URL.Query().Get("date"); s != "" {
		date, err := ledger.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		asOf = date
	}

	report := h.Reminders.RunNow(r.Context(), asOf)
	if report.Error != "" {
		writeJSON(w, http.StatusServiceUnavailable, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps the ledger error taxonomy to a status. Rejection
// reasons are shown verbatim; unexpected errors are logged and hidden.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *ledger.RejectedError
	switch {
	case errors.As(err, &rej):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: rej.Reason, Code: rej.Code})
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, "Concurrent modification, try again", nil)
	case errors.Is(err, ledger.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "Storage is temporarily unavailable", nil)
	default:
		h.Logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

func queryInt64(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func queryBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func paging(limit, offset string) (int, int, error) {
	var l, o int
	var err error
	if limit != "" {
		if l, err = strconv.Atoi(limit); err != nil || l < 0 {
			return 0, 0, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	if offset != "" {
		if o, err = strconv.Atoi(offset); err != nil || o < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return l, o, nil
}
