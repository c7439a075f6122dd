package funds

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// ErrNotClaimed is returned when a redemption references a recipient index
// without a completed claim.
var ErrNotClaimed = errors.New("funds: claim not completed for recipient")

// RedemptionRecord tracks the single allowed conversion of a claim into the
// underlying asset.
type RedemptionRecord struct {
	RecipientIndex uint64
	Redeemer       string
	Amount         *big.Int
	Redeemed       bool
}

// AlreadyRedeemedError reports a second redemption attempt for a claim.
type AlreadyRedeemedError struct {
	RecipientIndex uint64
	Redeemer       string
	Amount         *big.Int
}

func (e *AlreadyRedeemedError) Error() string {
	return fmt.Sprintf("funds: recipient %d claim already redeemed (%s to %s)",
		e.RecipientIndex, e.Amount, e.Redeemer)
}

// RedemptionLedger tracks which claims have been converted to the underlying
// asset. At most one successful settlement per claimed index.
type RedemptionLedger struct {
	mu      sync.Mutex
	records map[uint64]*RedemptionRecord
}

// NewRedemptionLedger creates an empty redemption ledger.
func NewRedemptionLedger() *RedemptionLedger {
	return &RedemptionLedger{records: make(map[uint64]*RedemptionRecord)}
}

// Redeem runs settle for the claimed index and marks the redemption on
// success, all under one lock. settle must debit the redeemer's internal
// balance and credit the underlying asset, undoing the debit itself if the
// credit fails; a settle error leaves the record unredeemed and retryable.
func (l *RedemptionLedger) Redeem(index uint64, redeemer string, amount *big.Int, settle func() error) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("funds: invalid redemption amount for recipient %d", index)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.records[index]; ok && rec.Redeemed {
		return &AlreadyRedeemedError{
			RecipientIndex: index,
			Redeemer:       rec.Redeemer,
			Amount:         new(big.Int).Set(rec.Amount),
		}
	}
	if err := settle(); err != nil {
		return err
	}
	l.records[index] = &RedemptionRecord{
		RecipientIndex: index,
		Redeemer:       redeemer,
		Amount:         new(big.Int).Set(amount),
		Redeemed:       true,
	}
	return nil
}

// Record returns a copy of the redemption record for an index, if any.
func (l *RedemptionLedger) Record(index uint64) (RedemptionRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[index]
	if !ok {
		return RedemptionRecord{}, false
	}
	out := *rec
	out.Amount = new(big.Int).Set(rec.Amount)
	return out, true
}
