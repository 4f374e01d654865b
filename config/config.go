package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores the whole service configuration. It is built once at startup
// and handed to every component that needs it.
type Config struct {
	// HTTP listen port
	Port string

	// Logging level, parsed by logrus
	LogLevel string

	// Comma separated CORS origins
	AllowedOrigins []string

	DatabaseURL string

	// Bearer token guarding /metrics; empty leaves it open
	MetricsToken string

	Auth         Auth
	GitHub       GitHub
	Ledger       Ledger
	Settlement   Settlement
	Funding      Funding
	IdentitySync IdentitySync
	Archive      Archive
}

// Auth is the identity provider (Clerk) configuration.
type Auth struct {
	SecretKey            string
	WebhookSigningSecret string
	APIBaseURL           string
	JWKSURL              string
	Timeout              time.Duration
}

type GitHub struct {
	// Public URL GitHub delivers repository events to
	CallbackURL string

	// Optional shared secret for X-Hub-Signature-256
	WebhookSecret string

	Timeout time.Duration
}

// Ledger holds the chain connection and contract coordinates.
type Ledger struct {
	RPCURL     string
	PrivateKey string

	// Zero means query the node
	ChainID int64

	TokenAddress         string
	EscrowAddress        string
	TokenSymbol          string
	DefaultPayoutAddress string
	Timeout              time.Duration
}

type Settlement struct {
	Workers int
	Timeout time.Duration

	// A bounty settling for longer than StaleAfter is reported every SweepInterval
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

type Funding struct {
	Interval time.Duration
}

// IdentitySync controls the periodic user backfill. Zero interval disables it.
type IdentitySync struct {
	Interval time.Duration
	PageSize int
}

// Archive is optional S3 compatible storage for raw webhook deliveries.
type Archive struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

func (a Archive) Enabled() bool {
	return a.Bucket != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "5000")
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", "http://localhost:3000")

	v.SetDefault("clerk_api_url", "https://api.clerk.com")
	v.SetDefault("clerk_jwks_url", "https://api.clerk.com/v1/jwks")
	v.SetDefault("clerk_timeout", "10s")

	v.SetDefault("github_timeout", "15s")

	v.SetDefault("eth_chain_id", 0)
	v.SetDefault("token_symbol", "GTK")
	v.SetDefault("ledger_timeout", "90s")

	v.SetDefault("settlement_workers", 8)
	v.SetDefault("settlement_timeout", "3m")
	v.SetDefault("settlement_stale_after", "15m")
	v.SetDefault("settlement_sweep_interval", "10m")

	v.SetDefault("funding_interval", "1m")

	v.SetDefault("identity_sync_interval", "0s")
	v.SetDefault("identity_sync_page_size", 100)

	v.SetDefault("archive_region", "auto")
}

// Load reads an optional env file and the process environment.
// An empty envFile means ".env" in the working directory; a missing file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:           v.GetString("port"),
		LogLevel:       v.GetString("log_level"),
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		DatabaseURL:    v.GetString("database_url"),
		MetricsToken:   v.GetString("metrics_token"),
		Auth: Auth{
			SecretKey:            v.GetString("clerk_secret_key"),
			WebhookSigningSecret: v.GetString("clerk_webhook_secret"),
			APIBaseURL:           strings.TrimRight(v.GetString("clerk_api_url"), "/"),
			JWKSURL:              v.GetString("clerk_jwks_url"),
			Timeout:              v.GetDuration("clerk_timeout"),
		},
		GitHub: GitHub{
			CallbackURL:   v.GetString("webhook_callback_url"),
			WebhookSecret: v.GetString("github_webhook_secret"),
			Timeout:       v.GetDuration("github_timeout"),
		},
		Ledger: Ledger{
			RPCURL:               v.GetString("eth_rpc_url"),
			PrivateKey:           strings.TrimPrefix(v.GetString("eth_private_key"), "0x"),
			ChainID:              v.GetInt64("eth_chain_id"),
			TokenAddress:         v.GetString("token_contract_address"),
			EscrowAddress:        v.GetString("escrow_contract_address"),
			TokenSymbol:          v.GetString("token_symbol"),
			DefaultPayoutAddress: v.GetString("default_payout_address"),
			Timeout:              v.GetDuration("ledger_timeout"),
		},
		Settlement: Settlement{
			Workers:       v.GetInt("settlement_workers"),
			Timeout:       v.GetDuration("settlement_timeout"),
			StaleAfter:    v.GetDuration("settlement_stale_after"),
			SweepInterval: v.GetDuration("settlement_sweep_interval"),
		},
		Funding: Funding{
			Interval: v.GetDuration("funding_interval"),
		},
		IdentitySync: IdentitySync{
			Interval: v.GetDuration("identity_sync_interval"),
			PageSize: v.GetInt("identity_sync_page_size"),
		},
		Archive: Archive{
			Bucket:          v.GetString("archive_bucket"),
			Endpoint:        v.GetString("archive_endpoint"),
			Region:          v.GetString("archive_region"),
			AccessKeyID:     v.GetString("archive_access_key_id"),
			SecretAccessKey: v.GetString("archive_secret_access_key"),
		},
	}

	return cfg, nil
}

// Validate refuses to start with a required value missing or left as a placeholder.
func (c *Config) Validate() error {
	var problems []string

	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"CLERK_SECRET_KEY", c.Auth.SecretKey},
		{"CLERK_WEBHOOK_SECRET", c.Auth.WebhookSigningSecret},
		{"WEBHOOK_CALLBACK_URL", c.GitHub.CallbackURL},
		{"ETH_RPC_URL", c.Ledger.RPCURL},
		{"ETH_PRIVATE_KEY", c.Ledger.PrivateKey},
		{"TOKEN_CONTRACT_ADDRESS", c.Ledger.TokenAddress},
		{"ESCROW_CONTRACT_ADDRESS", c.Ledger.EscrowAddress},
		{"DEFAULT_PAYOUT_ADDRESS", c.Ledger.DefaultPayoutAddress},
	}
	for _, r := range required {
		switch {
		case strings.TrimSpace(r.value) == "":
			problems = append(problems, r.name+" is not set")
		case IsPlaceholder(r.value):
			problems = append(problems, r.name+" still holds a placeholder value")
		}
	}

	addresses := []struct {
		name  string
		value string
	}{
		{"TOKEN_CONTRACT_ADDRESS", c.Ledger.TokenAddress},
		{"ESCROW_CONTRACT_ADDRESS", c.Ledger.EscrowAddress},
		{"DEFAULT_PAYOUT_ADDRESS", c.Ledger.DefaultPayoutAddress},
	}
	for _, a := range addresses {
		if a.value != "" && !IsPlaceholder(a.value) && !common.IsHexAddress(a.value) {
			problems = append(problems, a.name+" is not a valid address")
		}
	}

	if c.GitHub.CallbackURL != "" {
		u, err := url.Parse(c.GitHub.CallbackURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, "WEBHOOK_CALLBACK_URL must be an absolute URL")
		}
	}

	if !strings.HasPrefix(c.Auth.WebhookSigningSecret, "whsec_") && c.Auth.WebhookSigningSecret != "" {
		problems = append(problems, "CLERK_WEBHOOK_SECRET must start with whsec_")
	}

	if c.Settlement.Workers <= 0 {
		problems = append(problems, "SETTLEMENT_WORKERS must be positive")
	}
	if c.Ledger.Timeout <= 0 || c.Settlement.Timeout <= 0 || c.GitHub.Timeout <= 0 {
		problems = append(problems, "timeouts must be positive")
	}
	if c.Funding.Interval <= 0 {
		problems = append(problems, "FUNDING_INTERVAL must be positive")
	}

	if c.Archive.Enabled() && (c.Archive.AccessKeyID == "" || c.Archive.SecretAccessKey == "") {
		problems = append(problems, "ARCHIVE_BUCKET requires ARCHIVE_ACCESS_KEY_ID and ARCHIVE_SECRET_ACCESS_KEY")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

var placeholders = []string{"changeme", "change_me", "your_", "your-", "xxx", "todo", "placeholder", "<"}

// IsPlaceholder reports values copied unchanged from an example env file.
func IsPlaceholder(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if strings.Contains(v, "_here") {
		return true
	}
	for _, p := range placeholders {
		if strings.HasPrefix(v, p) {
			return true
		}
	}
	return false
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
