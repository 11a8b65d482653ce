package settlement

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientIO means the settlement stopped before any funds moved; the fill
	// can be matched again later.
	ErrTransientIO = errors.New("settlement aborted before funds moved")
	// ErrPartialSettlement means at least one leg of the trade was broadcast and the
	// rest was not. Manual reconciliation is required.
	ErrPartialSettlement = errors.New("partial settlement")
	// ErrOutcomeUnknown is the cause recorded when a broadcast may or may not have
	// landed: a crash mid-step, a timeout or a gateway error after sending.
	ErrOutcomeUnknown = errors.New("broadcast outcome unknown")
)

type Stage string

const (
	StageARTransfer    Stage = "ar_transfer"
	StageTokenTransfer Stage = "token_transfer"
	// StageBookUpdate is reported when both transfers went out but the order book
	// could not be written.
	StageBookUpdate   Stage = "book_update"
	StageConfirmation Stage = "confirmation"
)

type PartialSettlementError struct {
	Stage     Stage
	FillID    string
	TakerID   string
	MakerID   string
	ARTxID    string
	TokenTxID string
	Err       error
}

func (e *PartialSettlementError) Error() string {
	return fmt.Sprintf("partial settlement of %s at %s (ar_tx=%q token_tx=%q): %v",
		e.FillID, e.Stage, e.ARTxID, e.TokenTxID, e.Err)
}

func (e *PartialSettlementError) Unwrap() []error {
	return []error{ErrPartialSettlement, e.Err}
}

// BlocksBook reports whether the affected orders must be frozen. A missing
// confirmation does not: the trade itself is complete.
func (e *PartialSettlementError) BlocksBook() bool {
	return e.Stage != StageConfirmation
}

// AsPartial extracts a *PartialSettlementError from err.
func AsPartial(err error) (*PartialSettlementError, bool) {
	var pe *PartialSettlementError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
