package settlement

import (
	"context"
	"time"

	"github.com/joripage/dex-matcher/pkg/orderbook"
)

type EventType string

const (
	EventFillSettled       EventType = "fill_settled"
	EventSettlementPartial EventType = "settlement_partial"
	EventSettlementAborted EventType = "settlement_aborted"
)

// Publisher delivers settlement events, usually to a Kafka topic.
type Publisher interface {
	PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error
}

type Event struct {
	Type        EventType `json:"type"`
	FillID      string    `json:"fill_id"`
	Asset       string    `json:"asset"`
	TakerID     string    `json:"taker_id"`
	MakerID     string    `json:"maker_id"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	Rate        string    `json:"rate"`
	ARAmount    string    `json:"ar_amount"`
	TokenAmount string    `json:"token_amount"`
	ARTxID      string    `json:"ar_tx_id,omitempty"`
	TokenTxID   string    `json:"token_tx_id,omitempty"`
	Stage       Stage     `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

func newEvent(typ EventType, fill orderbook.Fill, arTxID, tokenTxID string) Event {
	return Event{
		Type:        typ,
		FillID:      fill.ID,
		Asset:       fill.Asset,
		TakerID:     fill.TakerID,
		MakerID:     fill.MakerID,
		Buyer:       fill.Buyer,
		Seller:      fill.Seller,
		Rate:        fill.Rate.String(),
		ARAmount:    fill.ARAmount.String(),
		TokenAmount: fill.TokenAmount.String(),
		ARTxID:      arTxID,
		TokenTxID:   tokenTxID,
		At:          time.Now().UTC(),
	}
}
