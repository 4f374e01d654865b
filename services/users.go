// services/users.go
package services

import (
	"context"
	"errors"
	"strings"

	"bounty-settlement-system/logger"
	"bounty-settlement-system/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserService is the user directory: identity -> GitHub login and payout address.
type UserService struct {
	DB  *gorm.DB
	log *logrus.Entry
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db, log: logger.NewSublogger("users")}
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNotFound("user")
		}
		return nil, errInternal("failed to load user", err)
	}
	return &user, nil
}

// UpsertIdentity writes the provider's view of a user. payout_address is never overwritten.
func (s *UserService) UpsertIdentity(ctx context.Context, u IdentityUser) (*models.User, error) {
	if u.ID == "" {
		return nil, errValidation("identity user id is required")
	}
	user := models.User{
		ID:        u.ID,
		Email:     u.PrimaryEmail(),
		FirstName: deref(u.FirstName),
		LastName:  deref(u.LastName),
		Username:  deref(u.Username),
		AvatarURL: u.ImageURL,
	}
	if login := u.GitHubLogin(); login != "" {
		user.GitHubUsername = &login
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "first_name", "last_name", "username", "avatar_url", "github_username", "updated_at",
		}),
	}).Create(&user).Error
	if err != nil {
		return nil, errInternal("failed to upsert user", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": u.ID, "github": user.GitHubUsername}).Debug("👤 [USERS] identity upserted")
	return &user, nil
}

// FindByGitHubLogin tries an exact match first, then a case-insensitive one.
// It returns nil without error when nobody has linked that login.
func (s *UserService) FindByGitHubLogin(ctx context.Context, login string) (*models.User, error) {
	if login == "" {
		return nil, nil
	}
	db := s.DB.WithContext(ctx)

	var user models.User
	err := db.Where("github_username = ?", login).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = db.Where("LOWER(github_username) = ?", strings.ToLower(login)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ResolvePayout picks the address a contributor is paid to. When the login is unknown or
// has no address on file the fallback is returned and usedFallback is true.
func (s *UserService) ResolvePayout(ctx context.Context, login, fallback string) (address string, usedFallback bool, err error) {
	user, err := s.FindByGitHubLogin(ctx, login)
	if err != nil {
		return "", false, err
	}
	if user == nil || user.PayoutAddress == "" {
		return fallback, true, nil
	}
	return user.PayoutAddress, false, nil
}

// SetPayoutAddress stores the checksummed form of a 0x-prefixed 20 byte hex address.
func (s *UserService) SetPayoutAddress(ctx context.Context, userID, address string) (*models.User, error) {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return nil, errValidation("payout address must be a 0x-prefixed 20 byte hex address")
	}
	user := models.User{ID: userID, PayoutAddress: common.HexToAddress(address).Hex()}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payout_address", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, errInternal("failed to update payout address", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "address": user.PayoutAddress}).Info("💳 [USERS] payout address updated")
	return s.Get(ctx, userID)
}

// --- HTTP handlers ---

func (s *UserService) GetProfile(c *fiber.Ctx) error {
	user, err := s.Get(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user": user})
}

func (s *UserService) UpdateWallet(c *fiber.Ctx) error {
	var req struct {
		WalletAddress string `json:"wallet_address"`
	}
	if err := c.BodyParser(&req); err != nil {
		return errValidation("invalid request body")
	}
	user, err := s.SetPayoutAddress(c.UserContext(), currentUser(c), req.WalletAddress)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "user": user})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
