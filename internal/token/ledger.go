// Package token keeps the round's internal accounting-token balances: the
// voting-token credit a participant buys before a round and spends through
// claims and redemptions.
//
// The ledger enforces a bank-transfer invariant: every operation conserves
// total supply except Mint (which raises it) and Debit (which burns). All
// operations are atomic under one mutex, so concurrent callers can never
// observe or create lost or duplicated funds.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var (
	// ErrInvalidAmount rejects nil or negative amounts.
	ErrInvalidAmount = errors.New("token: amount must be a non-negative integer")
	// ErrEmptyAccount rejects the empty account name.
	ErrEmptyAccount = errors.New("token: empty account")
)

// InsufficientBalanceError reports a debit or transfer that exceeds the
// source account's balance.
type InsufficientBalanceError struct {
	Account string
	Have    *big.Int
	Need    *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("token: account %q holds %s, needs %s", e.Account, e.Have, e.Need)
}

// Ledger is an in-memory accounting-token ledger keyed by account name.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]*big.Int
	supply   *big.Int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]*big.Int),
		supply:   new(big.Int),
	}
}

// Mint credits newly issued tokens to an account, raising total supply.
func (l *Ledger) Mint(to string, amount *big.Int) error {
	if to == "" {
		return ErrEmptyAccount
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(to, amount)
	l.supply.Add(l.supply, amount)
	return nil
}

// Debit burns tokens from an account, lowering total supply.
func (l *Ledger) Debit(from string, amount *big.Int) error {
	if from == "" {
		return ErrEmptyAccount
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.deduct(from, amount); err != nil {
		return err
	}
	l.supply.Sub(l.supply, amount)
	return nil
}

// Transfer moves tokens between accounts. Supply is unchanged; either both
// sides move or neither does.
func (l *Ledger) Transfer(from, to string, amount *big.Int) error {
	if from == "" || to == "" {
		return ErrEmptyAccount
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.deduct(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

// BalanceOf returns the account's balance; unknown accounts hold zero.
func (l *Ledger) BalanceOf(account string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// TotalSupply returns the current token supply.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.supply)
}

// credit and deduct require l.mu held.

func (l *Ledger) credit(account string, amount *big.Int) {
	b, ok := l.balances[account]
	if !ok {
		b = new(big.Int)
		l.balances[account] = b
	}
	b.Add(b, amount)
}

func (l *Ledger) deduct(account string, amount *big.Int) error {
	b, ok := l.balances[account]
	if !ok || b.Cmp(amount) < 0 {
		have := new(big.Int)
		if ok {
			have.Set(b)
		}
		return &InsufficientBalanceError{Account: account, Have: have, Need: new(big.Int).Set(amount)}
	}
	b.Sub(b, amount)
	return nil
}
