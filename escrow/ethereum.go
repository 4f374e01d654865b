package escrow

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"bounty-settlement-system/logger"
	"bounty-settlement-system/utils"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

const tokenABI = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

const escrowABI = `[
	{"inputs":[{"name":"owner","type":"address"}],"name":"escrowBalanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"owner","type":"address"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"name":"releaseOnBehalf","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

type EthereumConfig struct {
	RPCURL        string
	PrivateKey    string // hex, without 0x
	ChainID       int64  // zero queries the node
	TokenAddress  string
	EscrowAddress string
	Timeout       time.Duration
}

// EthereumLedger talks to the token and escrow contracts through go-ethereum bindings.
type EthereumLedger struct {
	client  *ethclient.Client
	token   *bind.BoundContract
	escrow  *bind.BoundContract
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int

	tokenAddr  common.Address
	escrowAddr common.Address
	timeout    time.Duration

	// one release at a time so nonces never collide
	releaseMu sync.Mutex

	log *logrus.Entry
}

func NewEthereumLedger(ctx context.Context, cfg EthereumConfig) (*EthereumLedger, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid operator private key: %w", err)
	}
	if !common.IsHexAddress(cfg.TokenAddress) || !common.IsHexAddress(cfg.EscrowAddress) {
		return nil, fmt.Errorf("%w: token or escrow contract", ErrInvalidAddress)
	}

	parsedToken, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}
	parsedEscrow, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ethereum node: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		chainID, err = client.ChainID(chainCtx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to read chain id: %w", err)
		}
	}

	tokenAddr := common.HexToAddress(cfg.TokenAddress)
	escrowAddr := common.HexToAddress(cfg.EscrowAddress)

	l := &EthereumLedger{
		client:     client,
		token:      bind.NewBoundContract(tokenAddr, parsedToken, client, client, client),
		escrow:     bind.NewBoundContract(escrowAddr, parsedEscrow, client, client, client),
		key:        key,
		from:       crypto.PubkeyToAddress(key.PublicKey),
		chainID:    chainID,
		tokenAddr:  tokenAddr,
		escrowAddr: escrowAddr,
		timeout:    cfg.Timeout,
		log:        logger.NewSublogger("ledger"),
	}
	l.log.WithFields(logrus.Fields{
		"operator": l.from.Hex(),
		"chain_id": chainID.String(),
		"token":    tokenAddr.Hex(),
		"escrow":   escrowAddr.Hex(),
	}).Info("🔗 [LEDGER] connected")
	return l, nil
}

func (l *EthereumLedger) Close() {
	l.client.Close()
}

func (l *EthereumLedger) OperatorAddress() string { return l.from.Hex() }
func (l *EthereumLedger) TokenAddress() string    { return l.tokenAddr.Hex() }
func (l *EthereumLedger) EscrowAddress() string   { return l.escrowAddr.Hex() }

func (l *EthereumLedger) NativeBalance(ctx context.Context) (*big.Int, error) {
	var balance *big.Int
	err := l.read(ctx, "native balance", func(ctx context.Context) (err error) {
		balance, err = l.client.BalanceAt(ctx, l.from, nil)
		return err
	})
	return balance, err
}

func (l *EthereumLedger) BalanceOf(ctx context.Context, addr string) (*big.Int, error) {
	return l.callUint(ctx, l.token, "balanceOf", addr)
}

func (l *EthereumLedger) EscrowBalanceOf(ctx context.Context, addr string) (*big.Int, error) {
	return l.callUint(ctx, l.escrow, "escrowBalanceOf", addr)
}

func (l *EthereumLedger) DepositAcknowledged(ctx context.Context, owner string, amount *big.Int) (bool, error) {
	balance, err := l.EscrowBalanceOf(ctx, owner)
	if err != nil {
		return false, err
	}
	return balance.Cmp(amount) >= 0, nil
}

func (l *EthereumLedger) ReleaseOnBehalf(ctx context.Context, owner, recipient string, amount *big.Int) (*Receipt, error) {
	if !common.IsHexAddress(owner) || !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("%w: %q -> %q", ErrInvalidAddress, owner, recipient)
	}

	l.releaseMu.Lock()
	defer l.releaseMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	opts, err := bind.NewKeyedTransactorWithChainID(l.key, l.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := l.escrow.Transact(opts, "releaseOnBehalf",
		common.HexToAddress(owner), common.HexToAddress(recipient), amount)
	if err != nil {
		return nil, fmt.Errorf("releaseOnBehalf failed: %w", err)
	}

	entry := l.log.WithField("tx_hash", tx.Hash().Hex())
	entry.Info("📤 [LEDGER] release submitted, waiting for receipt")

	receipt, err := bind.WaitMined(ctx, l.client, tx)
	if err != nil {
		return nil, fmt.Errorf("waiting for release %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}

	entry.WithField("block", receipt.BlockNumber.Uint64()).Info("✅ [LEDGER] release mined")
	return &Receipt{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Amount:      new(big.Int).Set(amount),
	}, nil
}

func (l *EthereumLedger) callUint(ctx context.Context, contract *bind.BoundContract, method, addr string) (*big.Int, error) {
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	var value *big.Int
	err := l.read(ctx, method, func(ctx context.Context) error {
		var out []interface{}
		if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, common.HexToAddress(addr)); err != nil {
			return err
		}
		if len(out) == 0 {
			return utils.Permanent(fmt.Errorf("%s returned no value", method))
		}
		value = *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
		return nil
	})
	return value, err
}

// read retries an idempotent call under the ledger timeout.
func (l *EthereumLedger) read(ctx context.Context, what string, f func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	err := utils.NewRetry().
		WithContext(ctx).
		WithMaxElapsedTime(l.timeout).
		WithOnError(func(err error) {
			l.log.WithError(err).WithField("call", what).Warn("⚠️ [LEDGER] read failed, retrying")
		}).
		Run(func() error { return f(ctx) })
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
