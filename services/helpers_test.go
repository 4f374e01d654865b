package services

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"bounty-settlement-system/database"
	"bounty-settlement-system/escrow"
	"bounty-settlement-system/ghclient"
	"bounty-settlement-system/metrics"
	"bounty-settlement-system/models"

	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	creatorAddress     = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	contributorAddress = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	fallbackAddress    = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func testMetrics() *metrics.Metrics {
	return metrics.Nop()
}

// wei returns whole tokens in base units.
func wei(tokens int64) *big.Int {
	units, err := escrow.ToBaseUnits(decimal.NewFromInt(tokens))
	if err != nil {
		panic(err)
	}
	return units
}

type releaseCall struct {
	Owner     string
	Recipient string
	Amount    *big.Int
}

// fakeLedger keeps balances in memory and records every release.
type fakeLedger struct {
	mu         sync.Mutex
	tokens     map[string]*big.Int
	escrowed   map[string]*big.Int
	releases   []releaseCall
	releaseErr error
	readErr    error
	native     *big.Int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		tokens:   map[string]*big.Int{},
		escrowed: map[string]*big.Int{},
		native:   big.NewInt(0),
	}
}

func (l *fakeLedger) deposit(owner string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.escrowed[strings.ToLower(owner)] = new(big.Int).Set(amount)
}

func (l *fakeLedger) Releases() []releaseCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]releaseCall(nil), l.releases...)
}

func (l *fakeLedger) balance(m map[string]*big.Int, addr string) *big.Int {
	if b, ok := m[strings.ToLower(addr)]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *fakeLedger) BalanceOf(_ context.Context, addr string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	return l.balance(l.tokens, addr), nil
}

func (l *fakeLedger) EscrowBalanceOf(_ context.Context, addr string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	return l.balance(l.escrowed, addr), nil
}

func (l *fakeLedger) DepositAcknowledged(ctx context.Context, owner string, amount *big.Int) (bool, error) {
	have, err := l.EscrowBalanceOf(ctx, owner)
	if err != nil {
		return false, err
	}
	return have.Cmp(amount) >= 0, nil
}

func (l *fakeLedger) ReleaseOnBehalf(_ context.Context, owner, recipient string, amount *big.Int) (*escrow.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases = append(l.releases, releaseCall{Owner: owner, Recipient: recipient, Amount: new(big.Int).Set(amount)})
	if l.releaseErr != nil {
		return nil, l.releaseErr
	}

	key := strings.ToLower(owner)
	l.escrowed[key] = new(big.Int).Sub(l.balance(l.escrowed, owner), amount)
	to := strings.ToLower(recipient)
	l.tokens[to] = new(big.Int).Add(l.balance(l.tokens, recipient), amount)

	return &escrow.Receipt{
		TxHash:      fmt.Sprintf("0x%064x", len(l.releases)),
		BlockNumber: uint64(100 + len(l.releases)),
		Amount:      new(big.Int).Set(amount),
	}, nil
}

func (l *fakeLedger) OperatorAddress() string { return fallbackAddress }
func (l *fakeLedger) TokenAddress() string    { return "0x5FbDB2315678afecb367f032d93F642f64180aa3" }
func (l *fakeLedger) EscrowAddress() string   { return "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512" }

func (l *fakeLedger) NativeBalance(context.Context) (*big.Int, error) {
	return new(big.Int).Set(l.native), nil
}

// fakeTokens maps identity -> GitHub token.
type fakeTokens map[string]string

func (f fakeTokens) GitHubToken(_ context.Context, userID string) (string, error) {
	token, ok := f[userID]
	if !ok {
		return "", ErrNoDelegatedToken
	}
	return token, nil
}

// fakeGitHub stores hooks per repository and counts calls.
type fakeGitHub struct {
	mu        sync.Mutex
	hooks     map[string][]ghclient.Hook
	nextID    int64
	listErr   error
	createErr error
	creates   int

	repos []*github.Repository
	pulls []*github.PullRequest
	diff  string
	files []*github.CommitFile
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{hooks: map[string][]ghclient.Hook{}, nextID: 1000}
}

func (f *fakeGitHub) factory() ghclient.Factory {
	return func(string) ghclient.Client { return f }
}

func (f *fakeGitHub) ListUserRepositories(context.Context) ([]*github.Repository, error) {
	return f.repos, nil
}

func (f *fakeGitHub) ListHooks(_ context.Context, owner, repo string) ([]ghclient.Hook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]ghclient.Hook(nil), f.hooks[owner+"/"+repo]...), nil
}

func (f *fakeGitHub) CreateHook(_ context.Context, owner, repo string, in ghclient.NewHook) (*ghclient.Hook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	hook := ghclient.Hook{ID: f.nextID, URL: in.URL, Events: append([]string(nil), in.Events...), Active: true}
	f.hooks[owner+"/"+repo] = append(f.hooks[owner+"/"+repo], hook)
	return &hook, nil
}

func (f *fakeGitHub) ListPullRequests(context.Context, string, string, ghclient.PullListOptions) ([]*github.PullRequest, error) {
	return f.pulls, nil
}

func (f *fakeGitHub) PullRequestDiff(context.Context, string, string, int) (string, error) {
	return f.diff, nil
}

func (f *fakeGitHub) PullRequestFiles(context.Context, string, string, int) ([]*github.CommitFile, error) {
	return f.files, nil
}

func githubError(status int) error {
	return &github.ErrorResponse{
		Response: &http.Response{StatusCode: status, Request: &http.Request{Method: http.MethodGet}},
		Message:  http.StatusText(status),
	}
}

// inlineRunner runs tasks on the caller's goroutine.
type inlineRunner struct{}

func (inlineRunner) Submit(task func()) error {
	task()
	return nil
}

// seedBounty inserts a bounty directly, bypassing Create.
func seedBounty(t *testing.T, db *gorm.DB, repo string, status models.BountyStatus, escrowStatus models.EscrowStatus, amount int64) *models.Bounty {
	t.Helper()
	b := &models.Bounty{
		Slug:               "seed",
		Title:              "Fix the flaky test",
		Description:        "Make CI green",
		Amount:             decimal.NewFromInt(amount),
		Currency:           "GTK",
		RepositoryFullName: repo,
		CreatedBy:          "user_creator",
		Status:             status,
		EscrowStatus:       escrowStatus,
		EscrowOwnerAddress: creatorAddress,
		Version:            1,
	}
	require.NoError(t, db.Create(b).Error)
	return b
}

func seedUser(t *testing.T, db *gorm.DB, id, githubLogin, payout string) *models.User {
	t.Helper()
	u := &models.User{ID: id, PayoutAddress: payout}
	if githubLogin != "" {
		u.GitHubUsername = &githubLogin
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func mergedPullRequest(repo, login string, number int) *github.PullRequestEvent {
	owner, name, _ := strings.Cut(repo, "/")
	mergedAt := github.Timestamp{Time: time.Now()}
	return &github.PullRequestEvent{
		Action: github.String("closed"),
		Number: github.Int(number),
		Repo: &github.Repository{
			Name:     github.String(name),
			FullName: github.String(repo),
			HTMLURL:  github.String("https://github.com/" + repo),
			Owner:    &github.User{Login: github.String(owner)},
		},
		PullRequest: &github.PullRequest{
			Number:   github.Int(number),
			Title:    github.String("Fix flaky test"),
			HTMLURL:  github.String(fmt.Sprintf("https://github.com/%s/pull/%d", repo, number)),
			Merged:   github.Bool(true),
			MergedAt: &mergedAt,
			User:     &github.User{Login: github.String(login), ID: github.Int64(42)},
			MergedBy: &github.User{Login: github.String(owner)},
		},
	}
}
