package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/types"
)

// json-rpc methods of the ledger gateway
const (
	ledgerMethodRecordWallet   = "datawallet_recordWallet"
	ledgerMethodGetTransaction = "datawallet_getTransaction"
	// execution reverted (same code as ethereum nodes)
	ledgerRevertedCode = 3
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// LedgerService is a LedgerWriter talking json-rpc to a ledger gateway
type LedgerService struct {
	client  *resty.Client
	chainID int64
	seq     atomic.Uint64
}

func NewLedgerService(conf global.LedgerConfig) *LedgerService {
	timeout := time.Duration(conf.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(conf.GatewayUrl).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &LedgerService{client: client, chainID: conf.ChainID}
}

// GetClient exposes the http client (mocking)
func (ls *LedgerService) GetClient() *resty.Client {
	return ls.client
}

// RecordWallet submits a signed wallet record
func (ls *LedgerService) RecordWallet(ctx context.Context, record *types.WalletRecord) (*types.TransactionReference, error) {
	var tx types.TransactionReference
	if err := ls.call(ctx, ledgerMethodRecordWallet, []interface{}{record, ls.chainID}, &tx); err != nil {
		return nil, err
	}
	if tx.TxHash == "" {
		return nil, fmt.Errorf("%w: gateway returned no transaction hash", types.ErrLedgerFailure)
	}
	if tx.Status == "" {
		tx.Status = types.TxStatusPending
	}
	return &tx, nil
}

// GetTransaction returns the current state of a transaction
func (ls *LedgerService) GetTransaction(ctx context.Context, txHash string) (*types.TransactionReference, error) {
	var tx types.TransactionReference
	if err := ls.call(ctx, ledgerMethodGetTransaction, []interface{}{txHash}, &tx); err != nil {
		return nil, err
	}
	if tx.TxHash == "" {
		tx.TxHash = txHash
	}
	return &tx, nil
}

func (ls *LedgerService) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	request := &rpcRequest{
		JSONRPC: "2.0",
		ID:      ls.seq.Add(1),
		Method:  method,
		Params:  params,
	}
	var rpcResp rpcResponse
	response, err := ls.client.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&rpcResp).
		Post("")
	if err != nil {
		global.Logger.Log("error", "ledger gateway unreachable", "method", method, "err", err)
		return fmt.Errorf("%w: %s", types.ErrLedgerFailure, err.Error())
	}
	if response.IsError() {
		return fmt.Errorf("%w: gateway responded %d", types.ErrLedgerFailure, response.StatusCode())
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == ledgerRevertedCode || strings.Contains(strings.ToLower(rpcResp.Error.Message), "revert") {
			return fmt.Errorf("%w: %s", types.ErrLedgerReverted, rpcResp.Error.Message)
		}
		return fmt.Errorf("%w: %d %s", types.ErrLedgerFailure, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return fmt.Errorf("%w: empty result of %s", types.ErrLedgerFailure, method)
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("%w: %s", types.ErrLedgerFailure, err.Error())
	}
	return nil
}
