package escrow

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

// Backend is the slice of ethclient.Client the escrow needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Client implements Ledger and the discovery registry over one RPC endpoint.
type Client struct {
	name        string
	backend     Backend
	contract    common.Address
	chainID     *big.Int
	privateKey  *ecdsa.PrivateKey
	from        common.Address
	abi         abi.ABI
	receiptWait time.Duration
	pollEvery   time.Duration
	logger      *zap.Logger
}

// Config holds escrow client configuration.
type Config struct {
	Name        string // "primary" or "secondary", for logs and metrics
	Backend     Backend
	Contract    common.Address
	ChainID     *big.Int
	PrivateKey  *ecdsa.PrivateKey // nil for read-only use
	ReceiptWait time.Duration
	Logger      *zap.Logger
}

// New creates an escrow client.
func New(cfg *Config) (c *Client, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("chain id cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("contract address cannot be zero")
	}

	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow ABI: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "primary"
	}

	receiptWait := cfg.ReceiptWait
	if receiptWait <= 0 {
		receiptWait = 2 * time.Minute
	}

	c = &Client{
		name:        name,
		backend:     cfg.Backend,
		contract:    cfg.Contract,
		chainID:     cfg.ChainID,
		privateKey:  cfg.PrivateKey,
		abi:         parsed,
		receiptWait: receiptWait,
		pollEvery:   2 * time.Second,
		logger:      cfg.Logger.With(zap.String("rpc", name)),
	}
	if cfg.PrivateKey != nil {
		c.from = crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey)
	}

	return c, nil
}

// Name returns the endpoint label.
func (c *Client) Name() string {
	return c.name
}

// GetBet reads a bet record. An unknown id is a BET_NOT_FOUND business error.
func (c *Client) GetBet(ctx context.Context, betID uint64) (*types.BetRecord, error) {
	out, err := c.call(ctx, "bets", new(big.Int).SetUint64(betID))
	if err != nil {
		return nil, err
	}
	if len(out) != 8 {
		return nil, fmt.Errorf("bets: unexpected output length %d", len(out))
	}

	root, ok1 := out[0].([32]byte)
	creator, ok2 := out[1].(common.Address)
	filler, ok3 := out[2].(common.Address)
	creatorAmount, ok4 := out[3].(*big.Int)
	fillerAmount, ok5 := out[4].(*big.Int)
	deadline, ok6 := out[5].(*big.Int)
	createdAt, ok7 := out[6].(*big.Int)
	status, ok8 := out[7].(uint8)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8) {
		return nil, fmt.Errorf("bets: unexpected output types")
	}

	if creator == (common.Address{}) {
		return nil, types.NewBusinessError(betID, types.ErrBetNotFound, "bet not found")
	}

	return &types.BetRecord{
		ID:            betID,
		TradesRoot:    common.Hash(root),
		Creator:       creator,
		Filler:        filler,
		CreatorAmount: creatorAmount,
		FillerAmount:  fillerAmount,
		Deadline:      time.Unix(deadline.Int64(), 0),
		CreatedAt:     time.Unix(createdAt.Int64(), 0),
		Status:        types.BetStatus(status),
	}, nil
}

// NonceOf returns the escrow nonce for account.
func (c *Client) NonceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "nonces", account)
	if err != nil {
		return nil, err
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("nonces: unexpected output type %T", out[0])
	}
	return nonce, nil
}

// ActiveBots lists registered bots and their endpoints.
func (c *Client) ActiveBots(ctx context.Context) (addresses []common.Address, endpoints []string, err error) {
	out, err := c.call(ctx, "getActiveBots")
	if err != nil {
		return nil, nil, err
	}
	if len(out) != 2 {
		return nil, nil, fmt.Errorf("getActiveBots: unexpected output length %d", len(out))
	}

	addresses, ok1 := out[0].([]common.Address)
	endpoints, ok2 := out[1].([]string)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("getActiveBots: unexpected output types")
	}
	return addresses, endpoints, nil
}

// RegisterBot advertises this agent's P2P endpoint in the registry.
func (c *Client) RegisterBot(ctx context.Context, endpoint string) (*types.TxResult, error) {
	return c.transact(ctx, 0, "registerBot", endpoint)
}

// CommitBilateralBet locks both stakes under the signed commitment.
func (c *Client) CommitBilateralBet(ctx context.Context, m *signing.BetCommitment, creatorSig []byte, fillerSig []byte) (*types.TxResult, error) {
	return c.transact(ctx, 0, "commitBilateralBet",
		m.TradesRoot, m.Creator, m.Filler, m.CreatorAmount, m.FillerAmount,
		new(big.Int).SetUint64(m.Deadline), m.Nonce, new(big.Int).SetUint64(m.Expiry),
		creatorSig, fillerSig)
}

// SettleByAgreement pays the whole pot to the agreed winner.
func (c *Client) SettleByAgreement(ctx context.Context, m *signing.SettlementAgreement, creatorSig []byte, fillerSig []byte) (*types.TxResult, error) {
	return c.transact(ctx, m.BetID, "settleByAgreement",
		new(big.Int).SetUint64(m.BetID), m.Winner,
		new(big.Int).SetUint64(m.WinsCount), new(big.Int).SetUint64(m.ValidTrades), m.IsTie,
		m.Nonce, new(big.Int).SetUint64(m.Expiry),
		creatorSig, fillerSig)
}

// CustomPayout splits the pot as both parties signed.
func (c *Client) CustomPayout(ctx context.Context, m *signing.CustomPayoutProposal, creatorSig []byte, fillerSig []byte) (*types.TxResult, error) {
	return c.transact(ctx, m.BetID, "customPayout",
		new(big.Int).SetUint64(m.BetID), m.CreatorPayout, m.FillerPayout,
		m.Nonce, new(big.Int).SetUint64(m.Expiry),
		creatorSig, fillerSig)
}

// RequestArbitration escalates an unresolved bet after its deadline.
func (c *Client) RequestArbitration(ctx context.Context, betID uint64) (*types.TxResult, error) {
	return c.transact(ctx, betID, "requestArbitration", new(big.Int).SetUint64(betID))
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	start := time.Now()
	defer func() {
		CallDuration.WithLabelValues(c.name, method).Observe(time.Since(start).Seconds())
	}()

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &c.contract, Data: data}
	result, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		CallErrorsTotal.WithLabelValues(c.name, method).Inc()
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	out, err := c.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// transact estimates, signs, sends and waits for a contract call.
// A revert during estimation or a failed receipt is a business rejection.
// Errors after the broadcast are *PendingError.
func (c *Client) transact(ctx context.Context, betID uint64, method string, args ...interface{}) (*types.TxResult, error) {
	if c.privateKey == nil {
		return nil, fmt.Errorf("%s: client is read-only", method)
	}

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: data})
	if err != nil {
		if code, ok := classifyRevert(err); ok {
			TxTotal.WithLabelValues(c.name, method, "rejected").Inc()
			c.logger.Warn("escrow-call-rejected",
				zap.String("method", method),
				zap.Uint64("bet-id", betID),
				zap.String("code", code),
				zap.Error(err))
			return types.Rejected(code, err.Error()), nil
		}
		TxTotal.WithLabelValues(c.name, method, "error").Inc()
		return nil, fmt.Errorf("estimate gas %s: %w", method, err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit + gasLimit/5,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		TxTotal.WithLabelValues(c.name, method, "error").Inc()
		return nil, fmt.Errorf("send tx: %w", err)
	}

	c.logger.Info("escrow-tx-sent",
		zap.String("method", method),
		zap.Uint64("bet-id", betID),
		zap.String("tx-hash", signedTx.Hash().Hex()))

	// From here on the call is on the wire: failures are pending, not retryable.
	receipt, err := c.waitForReceipt(ctx, signedTx.Hash())
	if err != nil {
		TxTotal.WithLabelValues(c.name, method, "pending").Inc()
		c.logger.Warn("escrow-tx-pending",
			zap.String("method", method),
			zap.Uint64("bet-id", betID),
			zap.String("tx-hash", signedTx.Hash().Hex()),
			zap.Error(err))
		return nil, &PendingError{Method: method, TxHash: signedTx.Hash(), Err: err}
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		TxTotal.WithLabelValues(c.name, method, "reverted").Inc()
		res := types.Rejected(types.ErrUnknownRevert, "transaction reverted")
		res.TxHash = receipt.TxHash.Hex()
		return res, nil
	}

	TxTotal.WithLabelValues(c.name, method, "ok").Inc()
	c.logger.Info("escrow-tx-confirmed",
		zap.String("method", method),
		zap.String("tx-hash", receipt.TxHash.Hex()),
		zap.Uint64("gas-used", receipt.GasUsed))

	res := &types.TxResult{Success: true, TxHash: receipt.TxHash.Hex(), BetID: betID}
	if method == "commitBilateralBet" {
		if id, ok := c.committedBetID(receipt); ok {
			res.BetID = id
		}
	}
	return res, nil
}

func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptWait)
	defer cancel()

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt for %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) committedBetID(receipt *ethtypes.Receipt) (uint64, bool) {
	event, ok := c.abi.Events["BetCommitted"]
	if !ok {
		return 0, false
	}
	for _, l := range receipt.Logs {
		if l.Address != c.contract || len(l.Topics) < 2 || l.Topics[0] != event.ID {
			continue
		}
		return new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(), true
	}
	return 0, false
}

// revertCodes maps contract revert reasons to business codes.
var revertCodes = []struct {
	needle string
	code   string
}{
	{"betnotfound", types.ErrBetNotFound},
	{"bet not found", types.ErrBetNotFound},
	{"betnotactive", types.ErrBetNotActive},
	{"bet not active", types.ErrBetNotActive},
	{"signatureexpired", types.ErrSignatureExpired},
	{"expired", types.ErrSignatureExpired},
	{"invalidsignature", types.ErrInvalidSignature},
	{"invalid signature", types.ErrInvalidSignature},
	{"invalidwinner", types.ErrInvalidWinner},
	{"invalid winner", types.ErrInvalidWinner},
	{"payout", types.ErrPayoutMismatch},
	{"deadline", types.ErrDeadlineNotPassed},
}

// classifyRevert reports whether err is a contract revert and maps it to a code.
func classifyRevert(err error) (code string, ok bool) {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "revert") {
		return "", false
	}
	for _, rc := range revertCodes {
		if strings.Contains(msg, rc.needle) {
			return rc.code, true
		}
	}
	return types.ErrUnknownRevert, true
}
