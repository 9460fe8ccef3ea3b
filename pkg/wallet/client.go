package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ERC20 ABI for balanceOf, allowance and decimals.
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// Reader is the slice of ethclient.Client the wallet reads through.
type Reader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Balances holds the wallet state relevant to staking: gas, collateral and
// how much collateral the escrow may pull.
type Balances struct {
	Native          *big.Int // wei
	Collateral      *big.Int // token base units
	EscrowAllowance *big.Int // token base units
}

// Client reads balances for one collateral token and escrow spender.
type Client struct {
	reader  Reader
	token   common.Address
	spender common.Address
	abi     abi.ABI
	logger  *zap.Logger
}

// NewClient creates a wallet client.
func NewClient(reader Reader, token, spender common.Address, logger *zap.Logger) (c *Client, err error) {
	if reader == nil {
		return nil, errors.New("reader cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse ERC20 ABI: %w", err)
	}

	return &Client{
		reader:  reader,
		token:   token,
		spender: spender,
		abi:     parsed,
		logger:  logger,
	}, nil
}

// GetBalances fetches the native balance, the collateral balance and the
// collateral allowance granted to the escrow.
func (c *Client) GetBalances(ctx context.Context, owner common.Address) (b *Balances, err error) {
	native, err := c.reader.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("get native balance: %w", err)
	}

	collateral, err := c.callUint(ctx, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("get collateral balance: %w", err)
	}

	allowance, err := c.callUint(ctx, "allowance", owner, c.spender)
	if err != nil {
		return nil, fmt.Errorf("get escrow allowance: %w", err)
	}

	c.logger.Debug("balances-fetched",
		zap.String("owner", owner.Hex()),
		zap.String("native", native.String()),
		zap.String("collateral", collateral.String()),
		zap.String("escrow-allowance", allowance.String()))

	return &Balances{
		Native:          native,
		Collateral:      collateral,
		EscrowAllowance: allowance,
	}, nil
}

func (c *Client) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	token := c.token
	out, err := c.reader.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s returned %d values", method, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, values[0])
	}
	return v, nil
}
