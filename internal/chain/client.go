package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Function selectors for the contract reads this pipeline needs.
// allowance(address,address) and balanceOf(address) are standard ERC-20;
// currentPrice(uint8) and paymentMode() are getters on the payment contract.
const (
	selAllowance    = "dd62ed3e"
	selBalanceOf    = "70a08231"
	selCurrentPrice = "d24378eb"
	selPaymentMode  = "5c2dad11"
)

// Wallet signs and broadcasts prepared calls. It is an external collaborator:
// signing may suspend while a user approves, and a decline surfaces as
// ErrRejected (possibly wrapped).
type Wallet interface {
	SendTransaction(ctx context.Context, call PreparedCall) (hash string, err error)
}

// Reader exposes the read-only contract queries the payment flow depends on.
type Reader interface {
	CurrentPrice(ctx context.Context, mode PaymentMode) (PaymentQuote, error)
	PaymentMode(ctx context.Context) (PaymentMode, error)
	Allowance(ctx context.Context, owner, spender string) (*big.Int, error)
	Balance(ctx context.Context, owner string) (*big.Int, error)
}

// Client is a minimal JSON-RPC reader against a single payment contract.
type Client struct {
	endpoint   string
	contract   string
	token      string
	recipient  string
	httpClient *http.Client
	logger     *zap.Logger
}

// ClientConfig configures a chain Client.
type ClientConfig struct {
	Endpoint  string
	Contract  string // payment contract address
	Token     string // ERC-20 token address for token-mode payments
	Recipient string // payment recipient baked into quotes
	Timeout   time.Duration
}

// NewClient creates a read-only chain client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		contract:   cfg.Contract,
		token:      cfg.Token,
		recipient:  cfg.Recipient,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error,omitempty"`
}

// call issues a single JSON-RPC request. Transport and node errors surface as
// typed errors; an absent result is ErrUnavailable, never a zero value.
func (c *Client) call(ctx context.Context, method string, params ...interface{}) (string, error) {
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return "", fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return "", fmt.Errorf("%w: parse response: %v", ErrUnavailable, err)
	}
	if rpcResp.Error != nil {
		return "", rpcResp.Error
	}

	var result string
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil || result == "" || result == "0x" {
		return "", ErrUnavailable
	}
	return result, nil
}

// ethCall performs eth_call against the given contract with raw calldata.
func (c *Client) ethCall(ctx context.Context, to string, data string) (*big.Int, error) {
	result, err := c.call(ctx, "eth_call", map[string]string{"to": to, "data": data}, "latest")
	if err != nil {
		return nil, err
	}
	return parseQuantity(result)
}

// CurrentPrice reads the charge amount for the given payment mode. A zero
// price is returned as-is; only an unreadable value is an error.
func (c *Client) CurrentPrice(ctx context.Context, mode PaymentMode) (PaymentQuote, error) {
	modeArg := uint8(0)
	if mode == ModeToken {
		modeArg = 1
	}
	data := "0x" + selCurrentPrice + leftPadUint(uint64(modeArg))
	amount, err := c.ethCall(ctx, c.contract, data)
	if err != nil {
		return PaymentQuote{}, fmt.Errorf("read price: %w", err)
	}
	c.logger.Debug("price read",
		zap.String("mode", string(mode)),
		zap.String("amount", amount.String()))
	return PaymentQuote{Amount: amount, Mode: mode, Recipient: c.recipient}, nil
}

// PaymentMode reads the active payment mode from the contract.
func (c *Client) PaymentMode(ctx context.Context) (PaymentMode, error) {
	v, err := c.ethCall(ctx, c.contract, "0x"+selPaymentMode)
	if err != nil {
		return "", fmt.Errorf("read payment mode: %w", err)
	}
	if v.Sign() == 0 {
		return ModeNative, nil
	}
	return ModeToken, nil
}

// Allowance reads the ERC-20 allowance granted by owner to spender.
func (c *Client) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	data := "0x" + selAllowance + leftPadAddress(owner) + leftPadAddress(spender)
	granted, err := c.ethCall(ctx, c.token, data)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	return granted, nil
}

// Balance reads the owner's token balance.
func (c *Client) Balance(ctx context.Context, owner string) (*big.Int, error) {
	data := "0x" + selBalanceOf + leftPadAddress(owner)
	bal, err := c.ethCall(ctx, c.token, data)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	return bal, nil
}

// parseQuantity decodes a 0x-prefixed hex quantity. An empty word is treated
// as unavailable upstream; here any well-formed hex, including all zeros,
// parses to its numeric value.
func parseQuantity(s string) (*big.Int, error) {
	h := strings.TrimPrefix(s, "0x")
	if h == "" {
		return nil, ErrUnavailable
	}
	v, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return nil, fmt.Errorf("%w: malformed quantity %q", ErrUnavailable, s)
	}
	return v, nil
}

// leftPadAddress encodes an address as a 32-byte ABI word.
func leftPadAddress(addr string) string {
	h := strings.ToLower(strings.TrimPrefix(addr, "0x"))
	if len(h) > 64 {
		h = h[len(h)-64:]
	}
	return strings.Repeat("0", 64-len(h)) + h
}

// leftPadUint encodes an unsigned integer as a 32-byte ABI word.
func leftPadUint(v uint64) string {
	b := new(big.Int).SetUint64(v).Bytes()
	h := hex.EncodeToString(b)
	return strings.Repeat("0", 64-len(h)) + h
}
