// Package escrow is the boundary to the payment token and the escrow contract.
// Amounts cross this boundary as *big.Int base units.
package escrow

import (
	"context"
	"errors"
	"math/big"
)

var (
	ErrInsufficientEscrow = errors.New("insufficient escrow balance")
	ErrReverted           = errors.New("transaction reverted")
	ErrInvalidAddress     = errors.New("invalid address")
)

// Receipt describes a mined release.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Amount      *big.Int
}

// Ledger is what the settlement engine and bounty store need from the chain.
type Ledger interface {
	// BalanceOf returns the token balance held by addr.
	BalanceOf(ctx context.Context, addr string) (*big.Int, error)
	// EscrowBalanceOf returns the amount addr has deposited into escrow.
	EscrowBalanceOf(ctx context.Context, addr string) (*big.Int, error)
	// ReleaseOnBehalf moves amount from owner's escrow to recipient. Never retried.
	ReleaseOnBehalf(ctx context.Context, owner, recipient string, amount *big.Int) (*Receipt, error)
	// DepositAcknowledged reports whether owner's escrow covers amount.
	DepositAcknowledged(ctx context.Context, owner string, amount *big.Int) (bool, error)
}

// Operator exposes the service wallet for health and balance endpoints.
type Operator interface {
	OperatorAddress() string
	TokenAddress() string
	EscrowAddress() string
	NativeBalance(ctx context.Context) (*big.Int, error)
}
