package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

const txQuery = `query($txID: ID!) {
  transaction(id: $txID) {
    id
    owner { address }
    quantity { ar }
    tags { name value }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type txResponse struct {
	Data struct {
		Transaction *struct {
			ID    string `json:"id"`
			Owner struct {
				Address string `json:"address"`
			} `json:"owner"`
			Quantity struct {
				AR string `json:"ar"`
			} `json:"quantity"`
			Tags []Tag `json:"tags"`
		} `json:"transaction"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GatewayClient reads transactions from a gateway's GraphQL index and raw data
// endpoint.
type GatewayClient struct {
	baseURL string
	client  *http.Client
}

func NewGatewayClient(cfg HTTPConfig) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  newHTTPClient(cfg),
	}
}

func (c *GatewayClient) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var resp txResponse
	err := postJSON(ctx, c.client, c.baseURL+"/graphql", "", graphQLRequest{
		Query:     txQuery,
		Variables: map[string]any{"txID": id},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql: %s", ErrTransient, resp.Errors[0].Message)
	}

	raw := resp.Data.Transaction
	if raw == nil {
		// not indexed yet, the gateway catches up eventually
		return nil, fmt.Errorf("%w: %w: %s", ErrTransient, ErrTxNotFound, id)
	}

	qty := decimal.Zero
	if raw.Quantity.AR != "" {
		qty, err = decimal.NewFromString(raw.Quantity.AR)
		if err != nil {
			return nil, fmt.Errorf("%w: quantity %q of %s: %v", ErrRejected, raw.Quantity.AR, id, err)
		}
	}

	return &Transaction{
		ID:       raw.ID,
		Owner:    raw.Owner.Address,
		Quantity: qty,
		Tags:     raw.Tags,
	}, nil
}

func (c *GatewayClient) GetData(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return do(c.client, req, false)
}

// ContractState is the part of a token contract's initial state the exchange reads.
type ContractState struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

// ParseContractState decodes the JSON init state stored as contract data.
func ParseContractState(data []byte) (ContractState, error) {
	var state ContractState
	if err := json.Unmarshal(data, &state); err != nil {
		return ContractState{}, err
	}
	return state, nil
}
