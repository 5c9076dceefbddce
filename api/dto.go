/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Catalog:
    AuthorDTO, CreateAuthorRequest
    BookDTO, CreateBookRequest, UpdateBookRequest
    ReaderDTO, CreateReaderRequest

  Ledger:
    OperationDTO, SubmitOperationRequest, AmendOperationRequest

VALIDATION:
  Validation is done in handlers and the ledger, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"strings"
	"time"

	"github.com/warp/library-ledger/ledger"
)

// =============================================================================
// AUTHOR DTOs
// =============================================================================

type AuthorDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Portrait string `json:"portrait,omitempty"`
}

type CreateAuthorRequest struct {
	Name     string `json:"name"`
	Portrait string `json:"portrait"`
}

func toAuthorDTO(a ledger.Author) AuthorDTO {
	return AuthorDTO{ID: a.ID, Name: a.Name, Portrait: a.Portrait}
}

// =============================================================================
// BOOK DTOs
// =============================================================================

// BookDTO carries the catalog fields and the counters derived from the ledger.
type BookDTO struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	AuthorID        int64  `json:"author"`
	Genre           string `json:"genre"`
	Annotation      string `json:"annotation,omitempty"`
	Barcode         *int64 `json:"barcode,omitempty"`
	QuantityAll     int    `json:"quantity_all"`
	QuantityLending int    `json:"quantity_lending"`
	AmountLending   int    `json:"amount_lending"`
	Available       int    `json:"available"`
}

type CreateBookRequest struct {
	Title      string `json:"title"`
	AuthorID   int64  `json:"author"`
	Genre      string `json:"genre"`
	Annotation string `json:"annotation"`
	Barcode    *int64 `json:"barcode"`
}

// UpdateBookRequest is a partial update; nil fields are left alone.
type UpdateBookRequest struct {
	Title      *string `json:"title"`
	AuthorID   *int64  `json:"author"`
	Genre      *string `json:"genre"`
	Annotation *string `json:"annotation"`
	Barcode    *int64  `json:"barcode"`
}

func (u UpdateBookRequest) apply(b *ledger.Book) {
	if u.Title != nil {
		b.Title = strings.TrimSpace(*u.Title)
	}
	if u.AuthorID != nil {
		b.AuthorID = *u.AuthorID
	}
	if u.Genre != nil {
		b.Genre = ledger.Genre(*u.Genre)
	}
	if u.Annotation != nil {
		b.Annotation = *u.Annotation
	}
	if u.Barcode != nil {
		b.Barcode = u.Barcode
	}
}

func toBookDTO(b ledger.Book) BookDTO {
	return BookDTO{
		ID:              b.ID,
		Title:           b.Title,
		AuthorID:        b.AuthorID,
		Genre:           string(b.Genre),
		Annotation:      b.Annotation,
		Barcode:         b.Barcode,
		QuantityAll:     b.QuantityAll,
		QuantityLending: b.QuantityLending,
		AmountLending:   b.AmountLending,
		Available:       b.Available(),
	}
}

// =============================================================================
// READER DTOs
// =============================================================================

type ReaderDTO struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	TelegramChatID string `json:"telegram_chat_id,omitempty"`
	IsLibrarian    bool   `json:"is_librarian"`
}

type CreateReaderRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	TelegramChatID string `json:"telegram_chat_id"`
	IsLibrarian    bool   `json:"is_librarian"`
}

func toReaderDTO(r ledger.Reader) ReaderDTO {
	return ReaderDTO{
		ID:             r.ID,
		Name:           r.Name,
		Email:          r.Email,
		Phone:          r.Phone,
		TelegramChatID: r.TelegramChatID,
		IsLibrarian:    r.IsLibrarian,
	}
}

// =============================================================================
// OPERATION DTOs
// =============================================================================

// OperationDTO is one ledger row. The issuance flags are derived from State.
type OperationDTO struct {
	ID                int64  `json:"id"`
	ReaderID          int64  `json:"reader"`
	BookID            int64  `json:"book"`
	Operation         string `json:"operation"`
	DateEvent         string `json:"date_event"`
	ArrivalQuantity   int    `json:"arrival_quantity"`
	IssuedQuantity    int    `json:"issued_quantity"`
	LinkedOperationID *int64 `json:"linked_operation,omitempty"`
	State             string `json:"state,omitempty"`
	IsReturned        bool   `json:"is_returned"`
	IsLost            bool   `json:"is_lost"`
	IsWrittenOff      bool   `json:"is_written_off"`
	CreatedBy         int64  `json:"created_by"`
	CreatedAt         string `json:"created_at"`
}

// SubmitOperationRequest records a new ledger row. Reader is ignored for
// arrival, inventory and write_off, which are recorded against the caller.
type SubmitOperationRequest struct {
	Operation       string `json:"operation"`
	ReaderID        int64  `json:"reader"`
	BookID          int64  `json:"book"`
	DateEvent       string `json:"date_event"`
	ArrivalQuantity int    `json:"arrival_quantity"`
	IssuedQuantity  int    `json:"issued_quantity"`
}

// AmendOperationRequest is the only amendment the ledger allows: marking a
// lost copy as written off.
type AmendOperationRequest struct {
	IsWrittenOff *bool `json:"is_write_off"`
}

func toOperationDTO(op ledger.Operation) OperationDTO {
	dto := OperationDTO{
		ID:              op.ID,
		ReaderID:        op.ReaderID,
		BookID:          op.BookID,
		Operation:       string(op.Kind),
		DateEvent:       op.EventDate.String(),
		ArrivalQuantity: op.ArrivalQuantity,
		IssuedQuantity:  op.IssuedQuantity,
		State:           string(op.State),
		IsReturned:      op.IsReturned(),
		IsLost:          op.IsLost(),
		IsWrittenOff:    op.IsWrittenOff(),
		CreatedBy:       op.CreatedBy,
		CreatedAt:       op.CreatedAt.UTC().Format(time.RFC3339),
	}
	if op.LinkedOperationID != 0 {
		linked := op.LinkedOperationID
		dto.LinkedOperationID = &linked
	}
	return dto
}

func toOperationDTOs(ops []ledger.Operation) []OperationDTO {
	out := make([]OperationDTO, 0, len(ops))
	for _, op := range ops {
		out = append(out, toOperationDTO(op))
	}
	return out
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
