// Package funds tracks disbursement of a funding round: which recipients
// have claimed their allocation and which claims have been redeemed for the
// underlying asset. Both ledgers guarantee exactly-once completion per
// recipient index, even under concurrent or adversarial submission order.
package funds

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// Transferor moves the underlying settlement asset. Implementations may fail;
// callers must treat failure as recoverable and never assume success.
type Transferor interface {
	Transfer(to string, amount *big.Int) error
	BalanceOf(account string) *big.Int
}

// ErrPoolDrained is returned by Pool.Transfer when the reserve cannot cover
// the requested amount.
var ErrPoolDrained = errors.New("funds: pool reserve exhausted")

// Pool is an in-memory Transferor holding one reserve of the underlying
// asset and per-account credited balances. It stands in for the external
// asset contract in tests and single-process deployments.
type Pool struct {
	mu       sync.Mutex
	reserve  *big.Int
	balances map[string]*big.Int
}

// NewPool creates a pool with the given initial reserve.
func NewPool(reserve *big.Int) *Pool {
	p := &Pool{reserve: new(big.Int), balances: make(map[string]*big.Int)}
	if reserve != nil {
		p.reserve.Set(reserve)
	}
	return p
}

// Deposit adds to the reserve.
func (p *Pool) Deposit(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("funds: invalid deposit amount")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserve.Add(p.reserve, amount)
	return nil
}

// Transfer moves amount from the reserve to an account balance.
func (p *Pool) Transfer(to string, amount *big.Int) error {
	if to == "" || amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("funds: invalid transfer")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reserve.Cmp(amount) < 0 {
		return fmt.Errorf("%w: reserve %s, requested %s", ErrPoolDrained, p.reserve, amount)
	}
	p.reserve.Sub(p.reserve, amount)
	b, ok := p.balances[to]
	if !ok {
		b = new(big.Int)
		p.balances[to] = b
	}
	b.Add(b, amount)
	return nil
}

// BalanceOf returns the credited balance of an account.
func (p *Pool) BalanceOf(account string) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Reserve returns the undisbursed remainder.
func (p *Pool) Reserve() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.reserve)
}
