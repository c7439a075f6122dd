// Package tally implements the committed snapshot of a funding round's
// aggregate results: per-recipient spent voice credits and quadratic vote
// tallies, accumulated in batches and frozen behind a salted MiMC commitment.
//
// A commitment is open while batches arrive and sealed exactly once; sealing
// is terminal and makes the accumulated arrays read-only.
package tally

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrAlreadySealed is returned by mutating operations after Seal.
	ErrAlreadySealed = errors.New("tally: commitment already sealed")
	// ErrNotSealed is returned by read operations before Seal.
	ErrNotSealed = errors.New("tally: commitment not sealed")
	// ErrIncompleteTally is returned by Seal while recipient slots remain
	// unwritten.
	ErrIncompleteTally = errors.New("tally: not all recipient slots written")
	// ErrCommitmentMismatch is returned by Seal when the salted total does
	// not hash to the published commitment.
	ErrCommitmentMismatch = errors.New("tally: total spent does not match published commitment")
	// ErrBatchShape is returned for malformed batches: empty input,
	// mismatched array lengths, or negative values.
	ErrBatchShape = errors.New("tally: malformed batch")
)

// IndexError reports an access or write beyond the commitment capacity.
type IndexError struct {
	Index    uint64
	Capacity uint64
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("tally: index %d out of range, capacity %d", e.Index, e.Capacity)
}

// InconsistentBatchError reports a batch that rewrites an already-written
// slot with a different value. Identical resubmissions are accepted silently;
// a conflicting value is rejected without touching any slot.
type InconsistentBatchError struct {
	Index uint64
}

func (e *InconsistentBatchError) Error() string {
	return fmt.Sprintf("tally: conflicting value resubmitted for recipient %d", e.Index)
}

// Commitment accumulates per-recipient tally results for 2^treeDepth
// recipient slots and seals them against a salted total-spent commitment.
//
// Commitment is not safe for concurrent use; the owning round serializes
// access the same way the ledger in this repository's ancestry did.
type Commitment struct {
	treeDepth int
	capacity  uint64

	spent   []*big.Int
	votes   []*big.Int
	written []bool
	pending uint64 // unwritten slot count

	sealed         bool
	totalSpent     *big.Int
	totalSpentSalt *big.Int

	// expected is the published MiMC commitment to (totalSpent, salt),
	// verified at Seal time when present.
	expected []byte
}

// Option configures a Commitment at construction time.
type Option func(*Commitment)

// WithExpectedCommitment attaches the published total-spent commitment hash.
// Seal then rejects totals whose salted hash differs from it.
func WithExpectedCommitment(hash []byte) Option {
	return func(c *Commitment) {
		c.expected = append([]byte(nil), hash...)
	}
}

// NewCommitment creates an open commitment with capacity 2^treeDepth.
func NewCommitment(treeDepth int, opts ...Option) (*Commitment, error) {
	if treeDepth < 0 || treeDepth > 32 {
		return nil, fmt.Errorf("tally: tree depth %d out of range", treeDepth)
	}
	capacity := uint64(1) << uint(treeDepth)
	c := &Commitment{
		treeDepth: treeDepth,
		capacity:  capacity,
		spent:     make([]*big.Int, capacity),
		votes:     make([]*big.Int, capacity),
		written:   make([]bool, capacity),
		pending:   capacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TreeDepth returns the configured recipient tree depth.
func (c *Commitment) TreeDepth() int { return c.treeDepth }

// Capacity returns the number of recipient slots, 2^treeDepth.
func (c *Commitment) Capacity() uint64 { return c.capacity }

// Sealed reports whether Seal has completed.
func (c *Commitment) Sealed() bool { return c.sealed }

// AccumulateBatch writes spent voice credits and quadratic vote tallies for
// the recipient slots [start, start+len). Resubmitting a batch with values
// identical to what is already written is a no-op. A batch is applied fully
// or not at all.
func (c *Commitment) AccumulateBatch(start uint64, spent, votes []*big.Int) error {
	if c.sealed {
		return ErrAlreadySealed
	}
	if len(spent) == 0 || len(spent) != len(votes) {
		return fmt.Errorf("%w: %d spent values, %d vote values", ErrBatchShape, len(spent), len(votes))
	}
	if start+uint64(len(spent)) > c.capacity || start+uint64(len(spent)) < start {
		return &IndexError{Index: start + uint64(len(spent)) - 1, Capacity: c.capacity}
	}
	// Validate everything before mutating anything.
	for i := range spent {
		if spent[i] == nil || votes[i] == nil || spent[i].Sign() < 0 || votes[i].Sign() < 0 {
			return fmt.Errorf("%w: nil or negative value at offset %d", ErrBatchShape, i)
		}
		idx := start + uint64(i)
		if c.written[idx] && (c.spent[idx].Cmp(spent[i]) != 0 || c.votes[idx].Cmp(votes[i]) != 0) {
			return &InconsistentBatchError{Index: idx}
		}
	}
	for i := range spent {
		idx := start + uint64(i)
		if c.written[idx] {
			continue
		}
		c.spent[idx] = new(big.Int).Set(spent[i])
		c.votes[idx] = new(big.Int).Set(votes[i])
		c.written[idx] = true
		c.pending--
	}
	return nil
}

// Seal freezes the commitment with the attested total spent voice credits and
// salt. Every recipient slot must have been written. Seal is terminal; the
// commitment never reopens.
func (c *Commitment) Seal(totalSpent, totalSpentSalt *big.Int) error {
	if c.sealed {
		return ErrAlreadySealed
	}
	if totalSpent == nil || totalSpent.Sign() < 0 || totalSpentSalt == nil {
		return fmt.Errorf("%w: nil or negative total", ErrBatchShape)
	}
	if c.pending > 0 {
		return fmt.Errorf("%w: %d of %d slots missing", ErrIncompleteTally, c.pending, c.capacity)
	}
	if c.expected != nil {
		if got := TotalSpentCommitment(totalSpent, totalSpentSalt); !bytes.Equal(got, c.expected) {
			return ErrCommitmentMismatch
		}
	}
	c.totalSpent = new(big.Int).Set(totalSpent)
	c.totalSpentSalt = new(big.Int).Set(totalSpentSalt)
	c.sealed = true
	return nil
}

// RecipientData returns the spent voice credits and quadratic vote tally for
// one recipient slot of a sealed commitment.
func (c *Commitment) RecipientData(index uint64) (spent, votes *big.Int, err error) {
	if !c.sealed {
		return nil, nil, ErrNotSealed
	}
	if index >= c.capacity {
		return nil, nil, &IndexError{Index: index, Capacity: c.capacity}
	}
	return new(big.Int).Set(c.spent[index]), new(big.Int).Set(c.votes[index]), nil
}

// TotalSpent returns the attested total spent voice credits of a sealed
// commitment.
func (c *Commitment) TotalSpent() (*big.Int, error) {
	if !c.sealed {
		return nil, ErrNotSealed
	}
	return new(big.Int).Set(c.totalSpent), nil
}

// QuadraticVoteSum returns the sum over all recipients of tally^2, the
// aggregate demand figure the allocation formula divides the matching pool
// by. Callers with an upstream-attested total may use that instead.
func (c *Commitment) QuadraticVoteSum() (*big.Int, error) {
	if !c.sealed {
		return nil, ErrNotSealed
	}
	sum := new(big.Int)
	sq := new(big.Int)
	for _, v := range c.votes {
		sq.Mul(v, v)
		sum.Add(sum, sq)
	}
	return sum, nil
}
