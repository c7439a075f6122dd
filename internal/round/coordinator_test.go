package round

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"fundinground/internal/allocation"
	"fundinground/internal/fixedpoint"
	"fundinground/internal/funds"
	"fundinground/internal/registry"
	"fundinground/internal/tally"
	"fundinground/internal/token"
)

// fixture wires a depth-2 round (4 recipients) with the reference-style
// budget of twice the direct contributions.
//
//	recipient: 0     1     2     3
//	spent:     1000  400   0     600    (total 2000)
//	tally:     50    30    0     35     (sum of squares 4625)
type fixture struct {
	coord   *Coordinator
	reg     *registry.Simple
	tokens  *token.Ledger
	pool    *funds.Pool
	emitter *MemoryEmitter
	budget  *big.Int
}

var (
	fixtureSpent = []int64{1000, 400, 0, 600}
	fixtureTally = []int64{50, 30, 0, 35}
	fixtureSalt  = big.NewInt(987654321)
)

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	totalSpent := int64(0)
	for _, s := range fixtureSpent {
		totalSpent += s
	}
	budget := big.NewInt(2 * totalSpent)

	cfg := Config{
		Budget:            budget,
		VoiceCreditFactor: big.NewInt(1),
		TreeDepth:         2,
		ExpectedTallyCommitment: tally.TotalSpentCommitment(
			big.NewInt(totalSpent), fixtureSalt),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	reg := registry.NewSimple()
	for i := range fixtureSpent {
		require.NoError(t, reg.SetOwner(uint64(i), owner(uint64(i))))
	}
	tokens := token.NewLedger()
	pool := funds.NewPool(budget)
	emitter := &MemoryEmitter{}

	coord, err := New(cfg, reg, tokens, pool, WithEmitter(emitter))
	require.NoError(t, err)
	// Fund the round pool with claimable internal tokens.
	require.NoError(t, tokens.Mint(coord.PoolAccount(), budget))

	return &fixture{coord: coord, reg: reg, tokens: tokens, pool: pool, emitter: emitter, budget: budget}
}

func owner(index uint64) string {
	return string(rune('a'+index)) + "-owner"
}

func (f *fixture) submitAll(t *testing.T) {
	t.Helper()
	require.NoError(t, f.coord.SubmitBatch(0,
		bigs(fixtureSpent[:2]), bigs(fixtureTally[:2])))
	require.NoError(t, f.coord.SubmitBatch(2,
		bigs(fixtureSpent[2:]), bigs(fixtureTally[2:])))
}

func (f *fixture) sealAndFinalize(t *testing.T) {
	t.Helper()
	f.submitAll(t)
	require.NoError(t, f.coord.Seal(big.NewInt(2000), fixtureSalt))
	require.NoError(t, f.coord.Finalize(nil))
}

func bigs(vs []int64) []*big.Int {
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestLifecycleHappyPath(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, Collecting, f.coord.State())

	f.submitAll(t)
	require.NoError(t, f.coord.Seal(big.NewInt(2000), fixtureSalt))
	require.Equal(t, Sealed, f.coord.State())

	require.NoError(t, f.coord.Finalize(nil))
	require.Equal(t, Finalized, f.coord.State())

	alpha, err := f.coord.Alpha()
	require.NoError(t, err)
	require.GreaterOrEqual(t, alpha.Sign(), 0)
	require.LessOrEqual(t, alpha.Cmp(fixedpoint.Precision), 0)

	amount, err := f.coord.Claim(0, owner(0))
	require.NoError(t, err)
	require.Positive(t, amount.Sign())
	require.Equal(t, Disbursing, f.coord.State())
	require.Zero(t, f.tokens.BalanceOf(owner(0)).Cmp(amount))
}

func TestMonotonicLifecycle(t *testing.T) {
	f := newFixture(t)
	f.sealAndFinalize(t)

	// No operation may move the round backward.
	var stateErr *StateError
	require.ErrorAs(t, f.coord.SubmitBatch(0, bigs(fixtureSpent[:2]), bigs(fixtureTally[:2])), &stateErr)
	require.ErrorAs(t, f.coord.Seal(big.NewInt(2000), fixtureSalt), &stateErr)
	require.ErrorAs(t, f.coord.Finalize(nil), &stateErr)

	_, err := f.coord.Claim(0, owner(0))
	require.NoError(t, err)
	require.Equal(t, Disbursing, f.coord.State())
	require.ErrorAs(t, f.coord.Finalize(nil), &stateErr)
}

func TestOperationsBeforeFinalize(t *testing.T) {
	f := newFixture(t)
	var stateErr *StateError

	_, err := f.coord.Claim(0, owner(0))
	require.ErrorAs(t, err, &stateErr)
	_, err = f.coord.Alpha()
	require.ErrorAs(t, err, &stateErr)
	_, err = f.coord.Allocation(0)
	require.ErrorAs(t, err, &stateErr)
	_, err = f.coord.Redeem(0, owner(0), big.NewInt(1))
	require.ErrorAs(t, err, &stateErr)

	f.submitAll(t)
	require.NoError(t, f.coord.Seal(big.NewInt(2000), fixtureSalt))
	_, err = f.coord.Claim(0, owner(0))
	require.ErrorAs(t, err, &stateErr, "claim before finalize")
}

func TestSealRejectsWrongTotal(t *testing.T) {
	f := newFixture(t)
	f.submitAll(t)
	require.ErrorIs(t, f.coord.Seal(big.NewInt(1999), fixtureSalt), tally.ErrCommitmentMismatch)
	require.Equal(t, Collecting, f.coord.State())
	require.NoError(t, f.coord.Seal(big.NewInt(2000), fixtureSalt))
}

func TestFinalizeFailureLeavesRoundSealed(t *testing.T) {
	// Budget of 2,000,000 against totalSpent 500,000 and totalQV 1,500,000
	// over-funds demand; the round must refuse to finalize.
	f := newFixture(t, func(cfg *Config) {
		cfg.Budget = big.NewInt(2_000_000)
		cfg.ExpectedTallyCommitment = nil
	})
	spent := []int64{500_000, 0, 0, 0}
	votes := []int64{0, 0, 0, 0}
	require.NoError(t, f.coord.SubmitBatch(0, bigs(spent), bigs(votes)))
	require.NoError(t, f.coord.Seal(big.NewInt(500_000), big.NewInt(1)))

	err := f.coord.Finalize(big.NewInt(1_500_000))
	require.ErrorIs(t, err, allocation.ErrBudgetExceedsDemand)
	require.Equal(t, Sealed, f.coord.State())
}

func TestZeroAlphaOnNoBoost(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.ZeroAlphaOnNoBoost = true
		cfg.ExpectedTallyCommitment = nil
	})
	spent := []int64{500, 0, 0, 0}
	votes := []int64{0, 0, 0, 0}
	require.NoError(t, f.coord.SubmitBatch(0, bigs(spent), bigs(votes)))
	require.NoError(t, f.coord.Seal(big.NewInt(500), big.NewInt(1)))
	// totalQV (0) <= totalSpent: no matching effect, alpha collapses to 0.
	require.NoError(t, f.coord.Finalize(big.NewInt(0)))

	alpha, err := f.coord.Alpha()
	require.NoError(t, err)
	require.Zero(t, alpha.Sign())

	// Pure reimbursement: recipient 0 gets back exactly what was spent.
	amount, err := f.coord.Allocation(0)
	require.NoError(t, err)
	require.EqualValues(t, 500, amount.Int64())
}

func TestClaimAuthorization(t *testing.T) {
	f := newFixture(t)
	f.sealAndFinalize(t)

	_, err := f.coord.Claim(1, "impostor")
	var unauthorized *UnauthorizedClaimantError
	require.ErrorAs(t, err, &unauthorized)
	require.Equal(t, owner(1), unauthorized.Owner)

	_, err = f.coord.Claim(99, owner(1))
	require.ErrorIs(t, err, registry.ErrUnknownRecipient)

	_, err = f.coord.Claim(1, owner(1))
	require.NoError(t, err)
}

func TestClaimExactlyOnceUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	f.sealAndFinalize(t)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Claim(3, owner(3))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var already *funds.AlreadyClaimedError
		require.ErrorAs(t, err, &already)
		conflicts++
	}
	require.Equal(t, 1, successes)
	require.Equal(t, attempts-1, conflicts)

	want, err := f.coord.Allocation(3)
	require.NoError(t, err)
	require.Zero(t, f.tokens.BalanceOf(owner(3)).Cmp(want))
}

func TestConservationAcrossAllClaims(t *testing.T) {
	f := newFixture(t)
	f.sealAndFinalize(t)

	for i := range fixtureSpent {
		_, err := f.coord.Claim(uint64(i), owner(uint64(i)))
		require.NoError(t, err)
	}
	require.LessOrEqual(t, f.coord.TotalClaimed().Cmp(f.budget), 0,
		"claims %s exceed budget %s", f.coord.TotalClaimed(), f.budget)
}

func TestClaimThenRedeemFullAmount(t *testing.T) {
	f := newFixture(t)
	f.sealAndFinalize(t)

	claimed, err := f.coord.Claim(0, owner(0))
	require.NoError(t, err)

	underlying, err := f.coord.Redeem(0, owner(0), claimed)
	require.NoError(t, err)
	require.Zero(t, underlying.Cmp(claimed))

	// Internal balance drained to zero, underlying credited exactly 1:1.
	require.Zero(t, f.tokens.BalanceOf(owner(0)).Sign())
	require.Zero(t, f.pool.BalanceOf(owner(0)).Cmp(claimed))
}

func TestRedeemGuards(t *testing.T) {
	f := newFixture(t)
	f.sealAndFinalize(t)

	_, err := f.coord.Redeem(0, owner(0), big.NewInt(1))
	require.ErrorIs(t, err, funds.ErrNotClaimed)

	claimed, err := f.coord.Claim(0, owner(0))
	require.NoError(t, err)

	_, err = f.coord.Redeem(0, owner(0), new(big.Int).Sub(claimed, big.NewInt(1)))
	var mismatch *AmountMismatchError
	require.ErrorAs(t, err, &mismatch)

	// A redeemer without the internal balance is rejected untouched.
	_, err = f.coord.Redeem(0, "broke", claimed)
	var short *token.InsufficientBalanceError
	require.ErrorAs(t, err, &short)

	_, err = f.coord.Redeem(0, owner(0), claimed)
	require.NoError(t, err)

	_, err = f.coord.Redeem(0, owner(0), claimed)
	var already *funds.AlreadyRedeemedError
	require.ErrorAs(t, err, &already)
}

func TestRedeemPayoutFailureCompensates(t *testing.T) {
	f := newFixture(t)
	f.sealAndFinalize(t)
	claimed, err := f.coord.Claim(0, owner(0))
	require.NoError(t, err)

	// Drain the asset reserve so the underlying payout must fail.
	reserve := f.pool.Reserve()
	require.NoError(t, f.pool.Transfer("sink", reserve))

	_, err = f.coord.Redeem(0, owner(0), claimed)
	var xfer *funds.TransferError
	require.ErrorAs(t, err, &xfer)
	require.ErrorIs(t, err, funds.ErrPoolDrained)

	// The debit was compensated and the redemption stays open.
	require.Zero(t, f.tokens.BalanceOf(owner(0)).Cmp(claimed))
	_, ok := f.coord.RedemptionRecord(0)
	require.False(t, ok)

	// Refill and retry.
	require.NoError(t, f.pool.Deposit(claimed))
	_, err = f.coord.Redeem(0, owner(0), claimed)
	require.NoError(t, err)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	f.sealAndFinalize(t)
	claimed, err := f.coord.Claim(2, owner(2))
	require.NoError(t, err)
	_, err = f.coord.Redeem(2, owner(2), claimed)
	require.NoError(t, err)

	events := f.emitter.Events()
	require.Len(t, events, 4)
	require.Equal(t, EventTallySealed, events[0].Type)
	require.Equal(t, EventRoundFinalized, events[1].Type)
	require.NotNil(t, events[1].Alpha)
	require.Equal(t, EventFundsClaimed, events[2].Type)
	require.EqualValues(t, 2, events[2].Index)
	require.Equal(t, owner(2), events[2].Account)
	require.Equal(t, EventTokensRedeemed, events[3].Type)
	for _, ev := range events {
		require.NotEmpty(t, ev.ID)
		require.False(t, ev.At.IsZero())
	}
}

func TestIdempotentBatchThroughCoordinator(t *testing.T) {
	f := newFixture(t)
	batchSpent := bigs(fixtureSpent[:2])
	batchTally := bigs(fixtureTally[:2])
	require.NoError(t, f.coord.SubmitBatch(0, batchSpent, batchTally))
	require.NoError(t, f.coord.SubmitBatch(0, batchSpent, batchTally))

	err := f.coord.SubmitBatch(0, bigs([]int64{1001, 400}), batchTally)
	var inconsistent *tally.InconsistentBatchError
	require.ErrorAs(t, err, &inconsistent)
}

func TestAllocationMatchesReferenceFormula(t *testing.T) {
	f := newFixture(t)
	f.sealAndFinalize(t)
	alpha, err := f.coord.Alpha()
	require.NoError(t, err)

	p := allocation.Params{Budget: f.budget, VoiceCreditFactor: big.NewInt(1)}
	for i := range fixtureSpent {
		want, err := allocation.ComputeAllocation(p, alpha,
			big.NewInt(fixtureTally[i]), big.NewInt(fixtureSpent[i]))
		require.NoError(t, err)
		got, err := f.coord.Allocation(uint64(i))
		require.NoError(t, err)
		require.Zero(t, got.Cmp(want), "recipient %d", i)
	}
}

func TestClaimTransferFailureLeavesClaimOpen(t *testing.T) {
	// A pool account that was never funded makes the internal transfer
	// fail; the claim must stay open and succeed after funding.
	f := newFixture(t)
	f.sealAndFinalize(t)
	require.NoError(t, f.tokens.Debit(f.coord.PoolAccount(), f.budget))

	_, err := f.coord.Claim(0, owner(0))
	var xfer *funds.TransferError
	require.ErrorAs(t, err, &xfer)
	_, ok := f.coord.ClaimRecord(0)
	require.False(t, ok)

	require.NoError(t, f.tokens.Mint(f.coord.PoolAccount(), f.budget))
	_, err = f.coord.Claim(0, owner(0))
	require.NoError(t, err)
}

func TestErrorsCarryContext(t *testing.T) {
	f := newFixture(t)
	f.sealAndFinalize(t)
	_, err := f.coord.Claim(1, "impostor")
	require.Contains(t, err.Error(), "impostor")
	require.Contains(t, err.Error(), "1")

	var detail *UnauthorizedClaimantError
	require.True(t, errors.As(err, &detail))
	require.EqualValues(t, 1, detail.RecipientIndex)
}
