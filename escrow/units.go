package escrow

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals of the payment token. Ether uses the same scale for native balances.
const Decimals = 18

// ToBaseUnits converts a display amount to token base units.
// Amounts finer than 10^-18 are rejected rather than truncated.
func ToBaseUnits(amount decimal.Decimal) (*big.Int, error) {
	shifted := amount.Shift(Decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount.String(), Decimals)
	}
	return shifted.BigInt(), nil
}

func FromBaseUnits(units *big.Int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -Decimals)
}

// FormatUnits renders base units as a plain decimal string.
func FormatUnits(units *big.Int) string {
	return FromBaseUnits(units).String()
}
