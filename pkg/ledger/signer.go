package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

type transferRequest struct {
	Key      string `json:"idempotency_key"`
	Target   string `json:"target"`
	Quantity string `json:"quantity"`
	Tags     []Tag  `json:"tags,omitempty"`
}

type interactRequest struct {
	Key      string        `json:"idempotency_key"`
	Contract string        `json:"contract"`
	Input    interactInput `json:"input"`
}

type interactInput struct {
	Function string `json:"function"`
	Target   string `json:"target"`
	Qty      string `json:"qty"`
}

type postRequest struct {
	Key  string `json:"idempotency_key"`
	Data string `json:"data"` // base64
	Tags []Tag  `json:"tags"`
}

type txIDResponse struct {
	ID string `json:"id"`
}

type walletResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// SignerClient talks to the signing service holding the exchange key. It signs and
// posts every transaction and answers with the transaction id.
type SignerClient struct {
	baseURL string
	client  *http.Client
}

func NewSignerClient(cfg HTTPConfig) *SignerClient {
	return &SignerClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  newHTTPClient(cfg),
	}
}

func (c *SignerClient) Transfer(ctx context.Context, key, target string, amount decimal.Decimal, tags []Tag) (string, error) {
	var resp txIDResponse
	err := postJSON(ctx, c.client, c.baseURL+"/transfer", key, transferRequest{
		Key:      key,
		Target:   target,
		Quantity: amount.String(),
		Tags:     tags,
	}, &resp)
	return resp.ID, err
}

func (c *SignerClient) InvokeTransfer(ctx context.Context, key, contractID, target string, qty decimal.Decimal) (string, error) {
	var resp txIDResponse
	err := postJSON(ctx, c.client, c.baseURL+"/interact", key, interactRequest{
		Key:      key,
		Contract: contractID,
		Input: interactInput{
			Function: "transfer",
			Target:   target,
			Qty:      qty.String(),
		},
	}, &resp)
	return resp.ID, err
}

func (c *SignerClient) PostData(ctx context.Context, key string, tags []Tag, data []byte) (string, error) {
	var resp txIDResponse
	err := postJSON(ctx, c.client, c.baseURL+"/post", key, postRequest{
		Key:  key,
		Data: base64.StdEncoding.EncodeToString(data),
		Tags: tags,
	}, &resp)
	return resp.ID, err
}

// Wallet returns the exchange address and its AR balance.
func (c *SignerClient) Wallet(ctx context.Context) (address string, balance decimal.Decimal, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/wallet", nil)
	if err != nil {
		return "", decimal.Zero, err
	}
	body, err := do(c.client, req, false)
	if err != nil {
		return "", decimal.Zero, err
	}

	var resp walletResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", decimal.Zero, fmt.Errorf("%w: decode wallet: %v", ErrRejected, err)
	}
	balance, _ = decimal.NewFromString(resp.Balance)
	return resp.Address, balance, nil
}
