/*
validator.go - Legality checks for a proposed operation

PURPOSE:
  Validate is a pure function of the proposed Operation, the Book it targets
  and the open issuances of the (reader, book) pair. It performs no I/O, so
  the engine can call it inside a transaction on freshly read rows, and tests
  can call it on hand-built values.

RULES:
  issuance         already holding the book, book not yet acquired,
                   every copy already out
  write_off        book not yet acquired, every copy already out
  return / loss    exactly one open issuance must exist to resolve
  arrival /
  inventory        quantities must be non-negative

  Every check yields a *RejectedError wrapping ErrRejected.

SEE ALSO:
  - effects.go: what a valid operation does to the counters
  - engine.go:  where Validate runs
*/
package ledger

func Validate(op Operation, book Book, open []Operation) error {
	if !op.Kind.Valid() {
		return reject(CodeInvalidKind, "unknown operation %q", op.Kind)
	}
	if op.ArrivalQuantity < 0 || op.IssuedQuantity < 0 {
		return reject(CodeNegativeQuantity, "quantities must not be negative")
	}

	switch op.Kind {
	case KindIssuance:
		if len(open) > 0 {
			return reject(CodeAlreadyHolding, "You are already holding the book %q", book.Title)
		}
		return checkStock(book)

	case KindWriteOff:
		return checkStock(book)

	case KindReturn, KindLoss:
		switch len(open) {
		case 0:
			return reject(CodeAlreadyResolved, "The book %q has already been returned or resolved", book.Title)
		case 1:
			return nil
		default:
			return reject(CodeInvariant, "%d open issuances of %q for one reader", len(open), book.Title)
		}
	}
	return nil
}

func checkStock(book Book) error {
	if book.QuantityAll == 0 {
		return reject(CodeNotAcquired, "The book %q has not been acquired by the library yet", book.Title)
	}
	if book.QuantityLending >= book.QuantityAll {
		return reject(CodeAllIssued, "All copies of %q are out with readers", book.Title)
	}
	return nil
}
