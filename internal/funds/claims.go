package funds

import (
	"fmt"
	"math/big"
	"sync"
)

// ClaimRecord is the per-recipient disbursement record. Once Claimed is true
// the record never changes again.
type ClaimRecord struct {
	RecipientIndex uint64
	Claimant       string
	Amount         *big.Int
	Claimed        bool
}

// AlreadyClaimedError reports a second claim attempt for a recipient index.
// It carries the existing record so callers can observe who claimed what.
type AlreadyClaimedError struct {
	RecipientIndex uint64
	Claimant       string
	Amount         *big.Int
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("funds: recipient %d already claimed %s for %s",
		e.RecipientIndex, e.Amount, e.Claimant)
}

// TransferError wraps a failed asset movement. The corresponding record is
// left incomplete, so the same operation can be retried safely.
type TransferError struct {
	Op             string
	RecipientIndex uint64
	Err            error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("funds: %s transfer for recipient %d failed: %v", e.Op, e.RecipientIndex, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ClaimLedger tracks which recipient indices have been paid out. Exactly one
// successful payout per index, ever.
type ClaimLedger struct {
	mu      sync.Mutex
	records map[uint64]*ClaimRecord
}

// NewClaimLedger creates an empty claim ledger.
func NewClaimLedger() *ClaimLedger {
	return &ClaimLedger{records: make(map[uint64]*ClaimRecord)}
}

// Claim disburses amount to claimant for the recipient index via pay. The
// check, the payment and the claimed mark happen under one lock, so from any
// caller's perspective marking is atomic with the transfer: a failed pay
// leaves no record and a successful one can never run twice for the same
// index.
func (l *ClaimLedger) Claim(index uint64, claimant string, amount *big.Int, pay func(to string, amount *big.Int) error) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("funds: invalid claim amount for recipient %d", index)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.records[index]; ok && rec.Claimed {
		return nil, &AlreadyClaimedError{
			RecipientIndex: index,
			Claimant:       rec.Claimant,
			Amount:         new(big.Int).Set(rec.Amount),
		}
	}
	if err := pay(claimant, amount); err != nil {
		return nil, &TransferError{Op: "claim", RecipientIndex: index, Err: err}
	}
	l.records[index] = &ClaimRecord{
		RecipientIndex: index,
		Claimant:       claimant,
		Amount:         new(big.Int).Set(amount),
		Claimed:        true,
	}
	return new(big.Int).Set(amount), nil
}

// Record returns a copy of the claim record for an index, if any.
func (l *ClaimLedger) Record(index uint64) (ClaimRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[index]
	if !ok {
		return ClaimRecord{}, false
	}
	out := *rec
	out.Amount = new(big.Int).Set(rec.Amount)
	return out, true
}

// TotalClaimed sums the disbursed amounts across all claimed indices.
func (l *ClaimLedger) TotalClaimed() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := new(big.Int)
	for _, rec := range l.records {
		if rec.Claimed {
			sum.Add(sum, rec.Amount)
		}
	}
	return sum
}
