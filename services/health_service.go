// services/health_service.go
package services

import (
	"context"
	"time"

	"bounty-settlement-system/database"
	"bounty-settlement-system/escrow"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type HealthService struct {
	DB             *gorm.DB
	Operator       escrow.Operator
	AuthConfigured bool
}

type HealthReport struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	AuthConfigured    bool      `json:"auth_configured"`
	DatabaseConnected bool      `json:"database_connected"`
	LedgerConfigured  bool      `json:"ledger_configured"`
	WalletAddress     string    `json:"wallet_address,omitempty"`
	TokenContract     string    `json:"token_contract,omitempty"`
	EscrowContract    string    `json:"escrow_contract,omitempty"`
}

func (s *HealthService) Report(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	r := HealthReport{
		Status:         "ok",
		Timestamp:      time.Now().UTC(),
		AuthConfigured: s.AuthConfigured,
	}
	r.DatabaseConnected = s.DB != nil && database.Ping(ctx, s.DB) == nil
	if !r.DatabaseConnected {
		r.Status = "degraded"
	}
	if s.Operator != nil {
		r.LedgerConfigured = true
		r.WalletAddress = s.Operator.OperatorAddress()
		r.TokenContract = s.Operator.TokenAddress()
		r.EscrowContract = s.Operator.EscrowAddress()
	}
	return r
}

func (s *HealthService) Health(c *fiber.Ctx) error {
	r := s.Report(c.UserContext())
	if !r.DatabaseConnected {
		return c.Status(fiber.StatusServiceUnavailable).JSON(r)
	}
	return c.JSON(r)
}
