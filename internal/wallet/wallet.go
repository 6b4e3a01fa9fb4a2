// Package wallet is the funds rail claims are paid from and winnings are paid
// out to. It keeps an account balance per identity and lets operators mark
// recipients that refuse incoming transfers.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/lox/throne/internal/throne"
)

var (
	ErrRecipientRejected = errors.New("wallet: recipient rejected transfer")
	ErrZeroAmount        = errors.New("wallet: amount must be positive")
	ErrBalanceOverflow   = errors.New("wallet: recipient balance overflow")
)

// Wallet debits claim payments from accounts and credits payouts to them. It
// implements throne.Transferer.
type Wallet struct {
	mu        sync.Mutex
	balances  map[throne.Identity]uint64
	rejecting map[throne.Identity]bool
	paidOut   uint64
	collected uint64
	logger    *log.Logger
}

// New creates an empty wallet.
func New(logger *log.Logger) *Wallet {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Wallet{
		balances:  make(map[throne.Identity]uint64),
		rejecting: make(map[throne.Identity]bool),
		logger:    logger.WithPrefix("wallet"),
	}
}

// Transfer credits amount to the recipient's account.
func (w *Wallet) Transfer(ctx context.Context, to throne.Identity, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroAmount
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.rejecting[to] {
		w.logger.Warn("Transfer rejected by recipient", "to", to, "amount", amount)
		return fmt.Errorf("%w: %s", ErrRecipientRejected, to)
	}
	balance, carry := bits.Add64(w.balances[to], amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	w.balances[to] = balance
	w.paidOut += amount

	w.logger.Debug("Transfer credited", "to", to, "amount", amount, "balance", balance)
	return nil
}

// Deposit adds amount to id's account from outside the game.
func (w *Wallet) Deposit(id throne.Identity, amount uint64) error {
	if id == throne.None {
		return throne.ErrInvalidIdentity
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	balance, carry := bits.Add64(w.balances[id], amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	w.balances[id] = balance
	return nil
}

// Collect debits a claim payment from the claimant's account.
func (w *Wallet) Collect(ctx context.Context, from throne.Identity, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroAmount
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	balance := w.balances[from]
	if balance < amount {
		w.logger.Debug("Collect refused", "from", from, "amount", amount, "balance", balance)
		return fmt.Errorf("%w: %s has %d, needs %d", throne.ErrInsufficientFunds, from, balance, amount)
	}
	w.balances[from] = balance - amount
	w.collected += amount

	w.logger.Debug("Payment collected", "from", from, "amount", amount, "balance", balance-amount)
	return nil
}

// Refund returns a collected payment whose claim was refused. Refunds are
// never rejected by the recipient.
func (w *Wallet) Refund(_ context.Context, to throne.Identity, amount uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if amount > w.collected {
		return fmt.Errorf("wallet: refund of %d exceeds collected %d", amount, w.collected)
	}
	balance, carry := bits.Add64(w.balances[to], amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	w.balances[to] = balance
	w.collected -= amount

	w.logger.Debug("Payment refunded", "to", to, "amount", amount, "balance", balance)
	return nil
}

// SetRejecting marks whether transfers to id are refused.
func (w *Wallet) SetRejecting(id throne.Identity, reject bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if reject {
		w.rejecting[id] = true
	} else {
		delete(w.rejecting, id)
	}
}

// Balance returns id's current account balance.
func (w *Wallet) Balance(id throne.Identity) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[id]
}

// PaidOut returns the total of all successful transfers.
func (w *Wallet) PaidOut() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paidOut
}

// Collected returns the total of claim payments taken and not refunded.
func (w *Wallet) Collected() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.collected
}
