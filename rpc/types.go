package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
	codeEscrowInsufficient  = -32026
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s (%d): %v", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// RegistryJSON is the wire form of a seller registry.
type RegistryJSON struct {
	Seller         string `json:"seller"`
	Address        string `json:"address"`
	FeeBps         uint64 `json:"feeBps"`
	DisputeFee     string `json:"disputeFee"`
	FeeDiscountNFT string `json:"feeDiscountNft,omitempty"`
	Arbitrator     string `json:"arbitrator"`
	FeeRecipient   string `json:"feeRecipient"`
	CreatedAt      uint64 `json:"createdAt"`
}

// OrderJSON is the wire form of an order.
type OrderJSON struct {
	ID                string `json:"orderId"`
	Address           string `json:"address"`
	Exists            bool   `json:"exists"`
	Seller            string `json:"seller"`
	Buyer             string `json:"buyer"`
	Partner           string `json:"partner,omitempty"`
	Asset             string `json:"asset"`
	Amount            string `json:"amount"`
	Fee               string `json:"fee"`
	OpenPeerFee       string `json:"openPeerFee"`
	CancelWindow      string `json:"cancelWindow"`
	AutomaticEscrow   bool   `json:"automaticEscrow"`
	Funded            bool   `json:"funded"`
	Dispute           bool   `json:"dispute"`
	SellerPaidDispute bool   `json:"sellerPaidDispute"`
	BuyerPaidDispute  bool   `json:"buyerPaidDispute"`
	Initiator         string `json:"initiator"`
	Funding           string `json:"funding"`
	Status            string `json:"status"`
	Winner            string `json:"winner,omitempty"`
	CreatedAt         uint64 `json:"createdAt"`
	ClosedAt          uint64 `json:"closedAt,omitempty"`
}

// BalanceJSON reports one identity's balance in one asset.
type BalanceJSON struct {
	Owner   string `json:"owner"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// PoolDepositJSON reports the total debited by a pool deposit.
type PoolDepositJSON struct {
	Seller  string `json:"seller"`
	Asset   string `json:"asset"`
	Debited string `json:"debited"`
}
