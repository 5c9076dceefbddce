package ledger

// =============================================================================
// EFFECTS - Counter mutation per operation kind
// =============================================================================
//
//	kind        QuantityAll      QuantityLending    AmountLending
//	inventory   +arrival_qty     +issued_qty
//	arrival     +arrival_qty
//	issuance                     +1                 +1
//	return                       -1
//	loss        -1               -1                 -1
//	write_off   -1
//
// Reverting an operation applies Effect(op).Neg().

func Effect(op Operation) Delta {
	switch op.Kind {
	case KindInventory:
		return Delta{QuantityAll: op.ArrivalQuantity, QuantityLending: op.IssuedQuantity}
	case KindArrival:
		return Delta{QuantityAll: op.ArrivalQuantity}
	case KindIssuance:
		return Delta{QuantityLending: 1, AmountLending: 1}
	case KindReturn:
		return Delta{QuantityLending: -1}
	case KindLoss:
		return Delta{QuantityAll: -1, QuantityLending: -1, AmountLending: -1}
	case KindWriteOff:
		return Delta{QuantityAll: -1}
	}
	return Delta{}
}

// resolvedState is the issuance state a resolving kind moves it to.
func resolvedState(k Kind) IssuanceState {
	if k == KindLoss {
		return StateLost
	}
	return StateReturned
}

func checkInvariant(book Book, next Counters) error {
	if !next.Consistent() {
		return reject(CodeInvariant,
			"%q would end with %d of %d copies out and %d issuances",
			book.Title, next.QuantityLending, next.QuantityAll, next.AmountLending)
	}
	return nil
}
