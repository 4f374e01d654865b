package escrow

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.5", "500000000000000000"},
		{"100.25", "100250000000000000000"},
		{"0.000000000000000001", "1"},
	}
	for _, tc := range cases {
		units, err := ToBaseUnits(decimal.RequireFromString(tc.in))
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, units.String(), tc.in)
	}
}

func TestToBaseUnitsRejectsExcessPrecision(t *testing.T) {
	_, err := ToBaseUnits(decimal.RequireFromString("0.0000000000000000001"))
	assert.Error(t, err)
}

func TestFromBaseUnitsRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("42.123456789")
	units, err := ToBaseUnits(amount)
	require.NoError(t, err)
	assert.True(t, amount.Equal(FromBaseUnits(units)))
	assert.Equal(t, "42.123456789", FormatUnits(units))
	assert.True(t, FromBaseUnits(nil).IsZero())
}

func TestFormatUnitsWholeTokens(t *testing.T) {
	units := new(big.Int).Mul(big.NewInt(3), new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil))
	assert.Equal(t, "3", FormatUnits(units))
}

func TestNewEthereumLedgerRejectsBadKey(t *testing.T) {
	_, err := NewEthereumLedger(context.Background(), EthereumConfig{
		RPCURL:        "http://127.0.0.1:1",
		PrivateKey:    "not-hex",
		TokenAddress:  "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		EscrowAddress: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		Timeout:       time.Second,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key")
}

func TestNewEthereumLedgerRejectsBadContract(t *testing.T) {
	_, err := NewEthereumLedger(context.Background(), EthereumConfig{
		RPCURL:        "http://127.0.0.1:1",
		PrivateKey:    "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		TokenAddress:  "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		EscrowAddress: "nope",
		Timeout:       time.Second,
	})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
