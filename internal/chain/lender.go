package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/vantrace/flasharb/internal/engine"
)

// poolABIJSON is the flash-loan entry point on the lending pool. The pool
// transfers the principal to the receiver, invokes its callback, and reverts
// the whole transaction unless principal + premium is repaid before return.
const poolABIJSON = `[{"type":"function","name":"flashLoanSimple","stateMutability":"nonpayable","inputs":[{"name":"receiverAddress","type":"address"},{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"params","type":"bytes"},{"name":"referralCode","type":"uint16"}],"outputs":[]}]`

// settlementABIJSON describes the event our settlement contract emits after
// a completed arbitrage. The engine decodes it from receipt logs but does not
// define its semantics; the contract does.
const settlementABIJSON = `[{"type":"event","name":"ArbitrageExecuted","inputs":[{"name":"opportunityId","type":"bytes32","indexed":true},{"name":"profit","type":"uint256","indexed":false},{"name":"premium","type":"uint256","indexed":false}]}]`

// fallbackGasLimit is used when on-chain gas estimation fails.
const fallbackGasLimit = 1_200_000

// LenderConfig holds the addresses and conversion parameters for the lending
// facility.
type LenderConfig struct {
	Pool                common.Address
	Settlement          common.Address
	Asset               common.Address
	AssetDecimals       int // loan asset decimals; the asset is treated as 1:1 USD
	EthPriceUSD         float64
	ReceiptPollInterval time.Duration
}

// FlashLender submits flash-loan borrow transactions to the lending pool and
// decodes settlement events from the resulting receipts. It implements
// engine.Borrower.
type FlashLender struct {
	client     *Client
	cfg        LenderConfig
	poolABI    abi.ABI
	settleABI  abi.ABI
	paramsArgs abi.Arguments
	logger     *slog.Logger
}

// NewFlashLender parses the pool and settlement ABIs and returns a lender
// bound to the given client.
func NewFlashLender(client *Client, cfg LenderConfig, logger *slog.Logger) (*FlashLender, error) {
	poolABI, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse pool abi: %w", err)
	}
	settleABI, err := abi.JSON(strings.NewReader(settlementABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse settlement abi: %w", err)
	}

	paramsArgs, err := tradeParamsArguments()
	if err != nil {
		return nil, fmt.Errorf("chain: build params arguments: %w", err)
	}

	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 2 * time.Second
	}
	if cfg.AssetDecimals <= 0 {
		cfg.AssetDecimals = 6
	}

	return &FlashLender{
		client:     client,
		cfg:        cfg,
		poolABI:    poolABI,
		settleABI:  settleABI,
		paramsArgs: paramsArgs,
		logger:     logger.With(slog.String("component", "flash_lender")),
	}, nil
}

// tradeParamsArguments builds the ABI argument list for the opaque params
// bytes handed to the settlement callback: (bytes32 opportunityId,
// string pair, string buyVenue, string sellVenue, uint256 minProfit,
// uint256 deadline).
func tradeParamsArguments() (abi.Arguments, error) {
	bytes32Ty, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		return nil, err
	}
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil, err
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return nil, err
	}
	return abi.Arguments{
		{Name: "opportunityId", Type: bytes32Ty},
		{Name: "pair", Type: stringTy},
		{Name: "buyVenue", Type: stringTy},
		{Name: "sellVenue", Type: stringTy},
		{Name: "minProfit", Type: uint256Ty},
		{Name: "deadline", Type: uint256Ty},
	}, nil
}

// buildCalldata packs the flashLoanSimple call for the given request.
func (l *FlashLender) buildCalldata(req engine.LoanRequest) ([]byte, error) {
	oppID := gethcrypto.Keccak256Hash([]byte(req.OpportunityID))

	params, err := l.paramsArgs.Pack(
		oppID,
		req.Pair,
		req.BuyVenue,
		req.SellVenue,
		l.toUnits(req.MinProfit),
		big.NewInt(req.Deadline.Unix()),
	)
	if err != nil {
		return nil, fmt.Errorf("chain: pack trade params: %w", err)
	}

	calldata, err := l.poolABI.Pack("flashLoanSimple",
		l.cfg.Settlement,
		l.cfg.Asset,
		l.toUnits(req.Principal),
		params,
		uint16(0),
	)
	if err != nil {
		return nil, fmt.Errorf("chain: pack flashLoanSimple: %w", err)
	}
	return calldata, nil
}

// EstimateGasUSD estimates the cost of submitting the borrow for the given
// request, converted to USD at the configured native-token price.
func (l *FlashLender) EstimateGasUSD(ctx context.Context, req engine.LoanRequest) (float64, error) {
	calldata, err := l.buildCalldata(req)
	if err != nil {
		return 0, err
	}

	pool := l.cfg.Pool
	gas, err := l.client.Eth().EstimateGas(ctx, ethereum.CallMsg{
		From: l.client.From(),
		To:   &pool,
		Data: calldata,
	})
	if err != nil {
		return 0, fmt.Errorf("chain: estimate gas: %w", err)
	}

	price, err := l.client.Eth().SuggestGasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: suggest gas price: %w", err)
	}

	return l.weiToUSD(new(big.Int).Mul(price, new(big.Int).SetUint64(gas))), nil
}

// Borrow signs and submits the flash-loan transaction, returning a handle the
// engine waits on for finalization.
func (l *FlashLender) Borrow(ctx context.Context, req engine.LoanRequest) (engine.TxHandle, error) {
	if l.client.key == nil {
		return nil, fmt.Errorf("chain: no signer configured")
	}

	calldata, err := l.buildCalldata(req)
	if err != nil {
		return nil, err
	}

	nonce, err := l.client.Eth().PendingNonceAt(ctx, l.client.From())
	if err != nil {
		return nil, fmt.Errorf("chain: pending nonce: %w", err)
	}
	gasPrice, err := l.client.Eth().SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest gas price: %w", err)
	}

	pool := l.cfg.Pool
	gasLimit, err := l.client.Eth().EstimateGas(ctx, ethereum.CallMsg{
		From: l.client.From(),
		To:   &pool,
		Data: calldata,
	})
	if err != nil {
		// Estimation can fail transiently even for viable trades; submit with
		// the fixed conservative limit instead of dropping the attempt.
		l.logger.Warn("gas estimation failed, using fallback limit",
			slog.String("opportunity_id", req.OpportunityID),
			slog.String("error", err.Error()),
		)
		gasLimit = fallbackGasLimit
	} else {
		gasLimit = gasLimit + gasLimit/5 // +20% safety margin
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &pool,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(l.client.chainID), l.client.key)
	if err != nil {
		return nil, fmt.Errorf("chain: sign transaction: %w", err)
	}

	if err := l.client.Eth().SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chain: send transaction: %w", err)
	}

	l.logger.Info("flash loan submitted",
		slog.String("opportunity_id", req.OpportunityID),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("gas_limit", gasLimit),
	)

	return &txHandle{lender: l, hash: signed.Hash()}, nil
}

// txHandle tracks one submitted borrow transaction.
type txHandle struct {
	lender *FlashLender
	hash   common.Hash
}

// Hash returns the transaction hash.
func (h *txHandle) Hash() string {
	return h.hash.Hex()
}

// Wait polls for the transaction receipt until the context expires, then
// decodes the settlement event. A mined-but-reverted transaction, or a
// receipt without a recognizable settlement event, yields an unexecuted
// settlement rather than an error.
func (h *txHandle) Wait(ctx context.Context) (engine.Settlement, error) {
	ticker := time.NewTicker(h.lender.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := h.lender.client.Eth().TransactionReceipt(ctx, h.hash)
		if err == nil && receipt != nil {
			return h.lender.decodeReceipt(receipt), nil
		}

		select {
		case <-ctx.Done():
			return engine.Settlement{}, fmt.Errorf("chain: await receipt %s: %w", h.hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// decodeReceipt extracts the settlement outcome from a mined receipt.
func (l *FlashLender) decodeReceipt(receipt *types.Receipt) engine.Settlement {
	gasCost := l.weiToUSD(new(big.Int).Mul(
		receipt.EffectiveGasPrice,
		new(big.Int).SetUint64(receipt.GasUsed),
	))

	s := engine.Settlement{GasCostUSD: gasCost}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return s
	}

	event := l.settleABI.Events["ArbitrageExecuted"]
	for _, logEntry := range receipt.Logs {
		if logEntry.Address != l.cfg.Settlement {
			continue
		}
		if len(logEntry.Topics) == 0 || logEntry.Topics[0] != event.ID {
			continue
		}

		values, err := l.settleABI.Unpack("ArbitrageExecuted", logEntry.Data)
		if err != nil || len(values) != 2 {
			l.logger.Warn("settlement event unpack failed",
				slog.String("tx", receipt.TxHash.Hex()),
			)
			continue
		}
		profit, okP := values[0].(*big.Int)
		premium, okF := values[1].(*big.Int)
		if !okP || !okF {
			continue
		}

		s.Executed = true
		s.Profit = l.fromUnits(profit)
		s.Premium = l.fromUnits(premium)
		return s
	}

	// Mined successfully but no settlement event: treat as a failed attempt
	// with zero realized profit.
	return s
}

// toUnits converts a USD-denominated amount to loan-asset integer units.
func (l *FlashLender) toUnits(amount float64) *big.Int {
	scale := new(big.Float).SetFloat64(pow10(l.cfg.AssetDecimals))
	units, _ := new(big.Float).Mul(big.NewFloat(amount), scale).Int(nil)
	return units
}

// fromUnits converts loan-asset integer units back to a USD float.
func (l *FlashLender) fromUnits(units *big.Int) float64 {
	scale := new(big.Float).SetFloat64(pow10(l.cfg.AssetDecimals))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(units), scale).Float64()
	return out
}

// weiToUSD converts a wei amount to USD at the configured native-token price.
func (l *FlashLender) weiToUSD(wei *big.Int) float64 {
	eth, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEth).Float64()
	return eth * l.cfg.EthPriceUSD
}

func pow10(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 10
	}
	return out
}

// Compile-time interface check.
var _ engine.Borrower = (*FlashLender)(nil)
