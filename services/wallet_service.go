// services/wallet_service.go
package services

import (
	"context"
	"math/big"
	"time"

	"bounty-settlement-system/escrow"
	"bounty-settlement-system/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// WalletService reports balances of the operator wallet and of user payout addresses.
type WalletService struct {
	Ledger      escrow.Ledger
	Operator    escrow.Operator
	Users       *UserService
	TokenSymbol string
	Timeout     time.Duration
	log         *logrus.Entry
}

func NewWalletService(ledger escrow.Ledger, operator escrow.Operator, users *UserService, tokenSymbol string, timeout time.Duration) *WalletService {
	return &WalletService{
		Ledger:      ledger,
		Operator:    operator,
		Users:       users,
		TokenSymbol: tokenSymbol,
		Timeout:     timeout,
		log:         logger.NewSublogger("wallet"),
	}
}

type OperatorBalance struct {
	WalletAddress  string `json:"wallet_address"`
	NativeBalance  string `json:"native_balance"`
	TokenBalance   string `json:"token_balance"`
	TokenSymbol    string `json:"token_symbol"`
	TokenContract  string `json:"token_contract"`
	EscrowContract string `json:"escrow_contract"`
}

type UserBalance struct {
	WalletAddress string `json:"wallet_address"`
	Balance       string `json:"balance"`
	EscrowBalance string `json:"escrow_balance"`
	TokenSymbol   string `json:"token_symbol"`
}

func (s *WalletService) OperatorBalance(ctx context.Context) (*OperatorBalance, error) {
	if s.Operator == nil {
		return nil, newAPIError(fiber.StatusServiceUnavailable, "ledger_unavailable", "Ledger is not configured", nil)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	native, err := s.Operator.NativeBalance(ctx)
	if err != nil {
		return nil, errUpstream(fiber.StatusBadGateway, "ledger_unavailable", "Failed to read wallet balance", err)
	}
	token, err := s.Ledger.BalanceOf(ctx, s.Operator.OperatorAddress())
	if err != nil {
		return nil, errUpstream(fiber.StatusBadGateway, "ledger_unavailable", "Failed to read token balance", err)
	}

	return &OperatorBalance{
		WalletAddress:  s.Operator.OperatorAddress(),
		NativeBalance:  escrow.FormatUnits(native),
		TokenBalance:   escrow.FormatUnits(token),
		TokenSymbol:    s.TokenSymbol,
		TokenContract:  s.Operator.TokenAddress(),
		EscrowContract: s.Operator.EscrowAddress(),
	}, nil
}

// UserBalance reads the token and escrow balances of the user's registered payout address.
func (s *WalletService) UserBalance(ctx context.Context, userID string) (*UserBalance, error) {
	user, err := s.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.PayoutAddress == "" {
		return nil, errValidation("No wallet address registered")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	balance, err := s.Ledger.BalanceOf(ctx, user.PayoutAddress)
	if err != nil {
		return nil, errUpstream(fiber.StatusBadGateway, "ledger_unavailable", "Failed to read token balance", err)
	}
	escrowed, err := s.Ledger.EscrowBalanceOf(ctx, user.PayoutAddress)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("⚠️ [WALLET] escrow balance unavailable")
		escrowed = new(big.Int)
	}

	return &UserBalance{
		WalletAddress: user.PayoutAddress,
		Balance:       escrow.FormatUnits(balance),
		EscrowBalance: escrow.FormatUnits(escrowed),
		TokenSymbol:   s.TokenSymbol,
	}, nil
}

func (s *WalletService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Timeout)
}

// --- HTTP handlers ---

func (s *WalletService) GetOperatorBalance(c *fiber.Ctx) error {
	res, err := s.OperatorBalance(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *WalletService) GetUserBalance(c *fiber.Ctx) error {
	res, err := s.UserBalance(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(res)
}
