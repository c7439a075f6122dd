// Package round orchestrates one quadratic-funding settlement round: it owns
// the tally commitment, freezes the matching ratio, and drives claims and
// redemptions through the disbursement ledgers.
//
// Lifecycle is strictly monotonic:
//
//	Collecting -> Sealed -> Finalized -> Disbursing
//
// Disbursing is terminal; the round never closes and unclaimed allocations
// stay claimable forever. Every mutating operation runs under one per-round
// mutex, so no two of them can observe the same pre-state.
package round

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/rs/zerolog"

	"fundinground/internal/allocation"
	"fundinground/internal/funds"
	"fundinground/internal/registry"
	"fundinground/internal/tally"
	"fundinground/internal/token"
)

// State is the round lifecycle state.
type State int

const (
	// Collecting accepts tally batches.
	Collecting State = iota
	// Sealed has the commitment frozen but no alpha yet.
	Sealed
	// Finalized has alpha computed and frozen.
	Finalized
	// Disbursing has paid at least one claim. Terminal.
	Disbursing
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Sealed:
		return "sealed"
	case Finalized:
		return "finalized"
	case Disbursing:
		return "disbursing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateError reports an operation invalid for the round's current state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("round: %s not allowed while %s", e.Op, e.State)
}

// UnauthorizedClaimantError reports a claim by an address the registry does
// not list as the recipient's owner.
type UnauthorizedClaimantError struct {
	RecipientIndex uint64
	Claimant       string
	Owner          string
}

func (e *UnauthorizedClaimantError) Error() string {
	return fmt.Sprintf("round: %q may not claim for recipient %d owned by %q",
		e.Claimant, e.RecipientIndex, e.Owner)
}

// AmountMismatchError reports a redemption whose amount differs from the
// claimed allocation.
type AmountMismatchError struct {
	RecipientIndex uint64
	Requested      *big.Int
	Claimed        *big.Int
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("round: redemption of %s for recipient %d does not match claimed %s",
		e.Requested, e.RecipientIndex, e.Claimed)
}

// Config fixes the immutable parameters of a round.
type Config struct {
	// Budget is the matching budget in settlement-asset units.
	Budget *big.Int
	// VoiceCreditFactor converts voice credits to settlement-asset units.
	VoiceCreditFactor *big.Int
	// TreeDepth sizes the recipient set at 2^TreeDepth slots.
	TreeDepth int
	// ExpectedTallyCommitment, when set, is the published commitment hash
	// the sealed total must verify against.
	ExpectedTallyCommitment []byte
	// ZeroAlphaOnNoBoost makes Finalize treat a round with no quadratic
	// boost (totalQV <= totalSpent) as alpha = 0 instead of failing.
	ZeroAlphaOnNoBoost bool
	// PoolAccount is the internal-token account holding claimable funds.
	PoolAccount string
}

// DefaultPoolAccount holds the round's claimable internal tokens unless
// Config overrides it.
const DefaultPoolAccount = "round:pool"

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithLogger sets the round logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithEmitter sets the event sink.
func WithEmitter(e Emitter) Option {
	return func(c *Coordinator) { c.emitter = e }
}

// Coordinator owns one round's commitment, ledgers and frozen alpha.
type Coordinator struct {
	params   allocation.Params
	pool     string
	zeroOK   bool
	logger   zerolog.Logger
	emitter  Emitter
	registry registry.Registry
	tokens   *token.Ledger
	assets   funds.Transferor

	mu          sync.Mutex
	state       State
	commitment  *tally.Commitment
	alpha       *big.Int
	claims      *funds.ClaimLedger
	redemptions *funds.RedemptionLedger
}

// New creates a round in the Collecting state. reg authorizes claimants,
// tokens is the internal accounting-token ledger whose PoolAccount funds
// claims, and assets pays out redemptions in the underlying asset.
func New(cfg Config, reg registry.Registry, tokens *token.Ledger, assets funds.Transferor, opts ...Option) (*Coordinator, error) {
	params := allocation.Params{Budget: cfg.Budget, VoiceCreditFactor: cfg.VoiceCreditFactor}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if reg == nil || tokens == nil || assets == nil {
		return nil, errors.New("round: registry, token ledger and asset transferor are required")
	}
	var copts []tally.Option
	if cfg.ExpectedTallyCommitment != nil {
		copts = append(copts, tally.WithExpectedCommitment(cfg.ExpectedTallyCommitment))
	}
	commitment, err := tally.NewCommitment(cfg.TreeDepth, copts...)
	if err != nil {
		return nil, err
	}
	pool := cfg.PoolAccount
	if pool == "" {
		pool = DefaultPoolAccount
	}
	c := &Coordinator{
		params:      params,
		pool:        pool,
		zeroOK:      cfg.ZeroAlphaOnNoBoost,
		logger:      zerolog.Nop(),
		emitter:     nopEmitter{},
		registry:    reg,
		tokens:      tokens,
		assets:      assets,
		state:       Collecting,
		commitment:  commitment,
		claims:      funds.NewClaimLedger(),
		redemptions: funds.NewRedemptionLedger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PoolAccount returns the internal-token account claims are paid from.
func (c *Coordinator) PoolAccount() string { return c.pool }

// SubmitBatch feeds one attested tally batch into the open commitment.
func (c *Coordinator) SubmitBatch(start uint64, spent, votes []*big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Collecting {
		return &StateError{Op: "batch submission", State: c.state}
	}
	if err := c.commitment.AccumulateBatch(start, spent, votes); err != nil {
		return err
	}
	c.logger.Debug().
		Uint64("start", start).
		Int("len", len(spent)).
		Msg("tally batch accepted")
	return nil
}

// Seal freezes the commitment with the attested total spent and salt.
func (c *Coordinator) Seal(totalSpent, totalSpentSalt *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Collecting {
		return &StateError{Op: "seal", State: c.state}
	}
	if err := c.commitment.Seal(totalSpent, totalSpentSalt); err != nil {
		return err
	}
	c.state = Sealed
	root, _ := c.commitment.Root()
	c.logger.Info().
		Str("total_spent", totalSpent.String()).
		Str("root", hex.EncodeToString(root)).
		Msg("tally sealed")
	c.emitter.Emit(newEvent(EventTallySealed))
	return nil
}

// Finalize computes and freezes alpha. totalQuadraticVotes is the upstream
// attested aggregate; pass nil to derive it from the sealed tallies. A
// failing alpha computation leaves the round Sealed, so it cannot start
// disbursing without an out-of-band budget remedy.
func (c *Coordinator) Finalize(totalQuadraticVotes *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Sealed {
		return &StateError{Op: "finalize", State: c.state}
	}
	totalSpent, err := c.commitment.TotalSpent()
	if err != nil {
		return err
	}
	qv := totalQuadraticVotes
	if qv == nil {
		if qv, err = c.commitment.QuadraticVoteSum(); err != nil {
			return err
		}
	}
	alpha, err := allocation.ComputeAlpha(c.params, totalSpent, qv)
	switch {
	case err == nil:
	case errors.Is(err, allocation.ErrNoQuadraticBoost) && c.zeroOK:
		alpha = new(big.Int)
	default:
		return err
	}
	c.alpha = alpha
	c.state = Finalized
	c.logger.Info().Str("alpha", alpha.String()).Msg("round finalized")
	ev := newEvent(EventRoundFinalized)
	ev.Alpha = new(big.Int).Set(alpha)
	c.emitter.Emit(ev)
	return nil
}

// Alpha returns the frozen matching ratio.
func (c *Coordinator) Alpha() (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state < Finalized {
		return nil, &StateError{Op: "alpha", State: c.state}
	}
	return new(big.Int).Set(c.alpha), nil
}

// Allocation previews the payout for one recipient of a finalized round.
func (c *Coordinator) Allocation(index uint64) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocationLocked(index)
}

func (c *Coordinator) allocationLocked(index uint64) (*big.Int, error) {
	if c.state < Finalized {
		return nil, &StateError{Op: "allocation", State: c.state}
	}
	if !c.registry.IsValidRecipient(index) {
		return nil, fmt.Errorf("%w: index %d", registry.ErrUnknownRecipient, index)
	}
	spent, votes, err := c.commitment.RecipientData(index)
	if err != nil {
		return nil, err
	}
	return allocation.ComputeAllocation(c.params, c.alpha, votes, spent)
}

// Claim pays the recipient's allocation in internal tokens from the round
// pool to the claimant; the registry must list the claimant as the owner of
// the recipient index. At most one claim per index ever succeeds.
func (c *Coordinator) Claim(index uint64, claimant string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state < Finalized {
		return nil, &StateError{Op: "claim", State: c.state}
	}
	owner, err := c.registry.Owner(index)
	if err != nil {
		return nil, err
	}
	if owner != claimant {
		return nil, &UnauthorizedClaimantError{RecipientIndex: index, Claimant: claimant, Owner: owner}
	}
	amount, err := c.allocationLocked(index)
	if err != nil {
		return nil, err
	}
	paid, err := c.claims.Claim(index, claimant, amount, func(to string, amt *big.Int) error {
		return c.tokens.Transfer(c.pool, to, amt)
	})
	if err != nil {
		return nil, err
	}
	c.state = Disbursing
	c.logger.Info().
		Uint64("recipient", index).
		Str("claimant", claimant).
		Str("amount", paid.String()).
		Msg("funds claimed")
	ev := newEvent(EventFundsClaimed)
	ev.Index = index
	ev.Account = claimant
	ev.Amount = new(big.Int).Set(paid)
	c.emitter.Emit(ev)
	return paid, nil
}

// Redeem converts a claimed internal-token balance to the underlying asset
// at 1:1. The amount must equal the claimed allocation and the redeemer must
// hold it; each claim redeems at most once.
func (c *Coordinator) Redeem(index uint64, redeemer string, claimedAmount *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state < Finalized {
		return nil, &StateError{Op: "redeem", State: c.state}
	}
	rec, ok := c.claims.Record(index)
	if !ok || !rec.Claimed {
		return nil, fmt.Errorf("%w: index %d", funds.ErrNotClaimed, index)
	}
	if claimedAmount == nil || claimedAmount.Cmp(rec.Amount) != 0 {
		return nil, &AmountMismatchError{
			RecipientIndex: index,
			Requested:      claimedAmount,
			Claimed:        rec.Amount,
		}
	}
	err := c.redemptions.Redeem(index, redeemer, claimedAmount, func() error {
		if err := c.tokens.Debit(redeemer, claimedAmount); err != nil {
			return err
		}
		if err := c.assets.Transfer(redeemer, claimedAmount); err != nil {
			// The debit must not stick if the payout failed.
			if mintErr := c.tokens.Mint(redeemer, claimedAmount); mintErr != nil {
				return fmt.Errorf("round: compensation failed after payout error %v: %w", err, mintErr)
			}
			return &funds.TransferError{Op: "redeem", RecipientIndex: index, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Uint64("recipient", index).
		Str("redeemer", redeemer).
		Str("amount", claimedAmount.String()).
		Msg("tokens redeemed")
	ev := newEvent(EventTokensRedeemed)
	ev.Index = index
	ev.Account = redeemer
	ev.Amount = new(big.Int).Set(claimedAmount)
	c.emitter.Emit(ev)
	return new(big.Int).Set(claimedAmount), nil
}

// RecipientData exposes the sealed tally values for one recipient.
func (c *Coordinator) RecipientData(index uint64) (spent, votes *big.Int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitment.RecipientData(index)
}

// ClaimRecord returns the claim record for an index, if any.
func (c *Coordinator) ClaimRecord(index uint64) (funds.ClaimRecord, bool) {
	return c.claims.Record(index)
}

// RedemptionRecord returns the redemption record for an index, if any.
func (c *Coordinator) RedemptionRecord(index uint64) (funds.RedemptionRecord, bool) {
	return c.redemptions.Record(index)
}

// TotalClaimed sums all disbursed allocations.
func (c *Coordinator) TotalClaimed() *big.Int {
	return c.claims.TotalClaimed()
}

// TallyRoot returns the sealed commitment digest.
func (c *Coordinator) TallyRoot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitment.Root()
}
