// Package ledger keeps account balances and moves value between them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"freightmarket/errs"
	"freightmarket/store"
)

// ErrInvalidAccount and ErrOverflow reject the request itself, so they
// carry errs.ErrInvalidParameters.
var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidAccount    = fmt.Errorf("ledger: invalid account: %w", errs.ErrInvalidParameters)
	ErrOverflow          = fmt.Errorf("ledger: balance overflow: %w", errs.ErrInvalidParameters)
)

// Transferer moves amount from one account to another. A nil error means
// the transfer happened.
type Transferer interface {
	Transfer(ctx context.Context, amount uint64, from, to string) error
}

// Book is a balance ledger over a keyed table. Writes go through the
// table, so a transfer made inside a unit of work commits or rolls back
// with it.
type Book struct {
	balances store.Table[string, uint64]
}

var _ Transferer = (*Book)(nil)

func NewBook(balances store.Table[string, uint64]) *Book {
	return &Book{balances: balances}
}

// Balance returns the account balance, 0 for unknown accounts.
func (b *Book) Balance(ctx context.Context, account string) (uint64, error) {
	amount, _, err := b.balances.Get(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("ledger: balance %s: %w", account, err)
	}
	return amount, nil
}

// Deposit credits amount to account.
func (b *Book) Deposit(ctx context.Context, account string, amount uint64) error {
	if account == "" {
		return fmt.Errorf("ledger: deposit: %w", ErrInvalidAccount)
	}
	return b.credit(ctx, account, amount)
}

// Transfer debits from and credits to. A zero amount succeeds without
// touching either balance.
func (b *Book) Transfer(ctx context.Context, amount uint64, from, to string) error {
	if from == "" || to == "" {
		return fmt.Errorf("ledger: transfer: %w", ErrInvalidAccount)
	}
	if amount == 0 {
		return nil
	}

	have, err := b.Balance(ctx, from)
	if err != nil {
		return err
	}
	if have < amount {
		return fmt.Errorf("ledger: transfer %d from %s: %w", amount, from, ErrInsufficientFunds)
	}
	if from == to {
		return nil
	}
	if err := b.balances.Update(ctx, from, have-amount); err != nil {
		return fmt.Errorf("ledger: debit %s: %w", from, err)
	}
	return b.credit(ctx, to, amount)
}

func (b *Book) credit(ctx context.Context, account string, amount uint64) error {
	if amount > math.MaxInt64 {
		return fmt.Errorf("ledger: credit %d to %s: %w", amount, account, ErrOverflow)
	}
	have, found, err := b.balances.Get(ctx, account)
	if err != nil {
		return fmt.Errorf("ledger: balance %s: %w", account, err)
	}
	if !found {
		if err := b.balances.Insert(ctx, account, amount); err != nil {
			return fmt.Errorf("ledger: open %s: %w", account, err)
		}
		return nil
	}
	if have > math.MaxInt64-amount {
		return fmt.Errorf("ledger: credit %d to %s: %w", amount, account, ErrOverflow)
	}
	if err := b.balances.Update(ctx, account, have+amount); err != nil {
		return fmt.Errorf("ledger: credit %s: %w", account, err)
	}
	return nil
}
