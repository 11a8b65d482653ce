package model

import (
	"strings"
	"time"

	"github.com/joripage/dex-matcher/pkg/orderbook"
	"github.com/shopspring/decimal"
)

type SettlementStatus string

const (
	SettlementPending     SettlementStatus = "pending"
	SettlementARSent      SettlementStatus = "ar_sent"
	SettlementTokenSent   SettlementStatus = "token_sent"
	SettlementBookApplied SettlementStatus = "book_applied"
	SettlementDone        SettlementStatus = "done"
	SettlementPartial     SettlementStatus = "partial"
	SettlementAborted     SettlementStatus = "aborted"
)

// UnfinishedStatuses are the journal states a crashed process must pick up again.
var UnfinishedStatuses = []SettlementStatus{
	SettlementPending,
	SettlementARSent,
	SettlementTokenSent,
	SettlementBookApplied,
}

// Settlement is the journal entry of one fill. It is written before the first
// ledger broadcast and advanced after each step.
type Settlement struct {
	ID          string `gorm:"column:id;primaryKey"`
	Asset       string `gorm:"column:asset;not null"`
	TakerID     string `gorm:"column:taker_id;not null"`
	MakerID     string `gorm:"column:maker_id;not null"`
	TakerSide   string `gorm:"column:taker_side;not null"`
	Buyer       string `gorm:"column:buyer;not null"`
	Seller      string `gorm:"column:seller;not null"`
	BuyOrderID  string `gorm:"column:buy_order_id;not null"`
	SellOrderID string `gorm:"column:sell_order_id;not null"`

	Rate        decimal.Decimal `gorm:"column:rate;type:numeric;not null"`
	ARAmount    decimal.Decimal `gorm:"column:ar_amount;type:numeric;not null"`
	TokenAmount decimal.Decimal `gorm:"column:token_amount;type:numeric;not null"`

	MakerRemaining   decimal.Decimal `gorm:"column:maker_remaining;type:numeric;not null"`
	MakerReceived    decimal.Decimal `gorm:"column:maker_received;type:numeric;not null"`
	TakerRemaining   decimal.Decimal `gorm:"column:taker_remaining;type:numeric;not null"`
	TakerReceived    decimal.Decimal `gorm:"column:taker_received;type:numeric;not null"`
	MakerFullyFilled bool            `gorm:"column:maker_fully_filled;not null"`
	TakerFullyFilled bool            `gorm:"column:taker_fully_filled;not null"`

	Status            SettlementStatus `gorm:"column:status;not null"`
	ARTxID            string           `gorm:"column:ar_tx_id"`
	TokenTxID         string           `gorm:"column:token_tx_id"`
	ConfirmationTxIDs string           `gorm:"column:confirmation_tx_ids"`
	Error             string           `gorm:"column:error"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Settlement) TableName() string {
	return "settlements"
}

func NewSettlement(fill orderbook.Fill) *Settlement {
	return &Settlement{
		ID:               fill.ID,
		Asset:            fill.Asset,
		TakerID:          fill.TakerID,
		MakerID:          fill.MakerID,
		TakerSide:        string(fill.TakerSide),
		Buyer:            fill.Buyer,
		Seller:           fill.Seller,
		BuyOrderID:       fill.BuyOrderID,
		SellOrderID:      fill.SellOrderID,
		Rate:             fill.Rate,
		ARAmount:         fill.ARAmount,
		TokenAmount:      fill.TokenAmount,
		MakerRemaining:   fill.MakerRemaining,
		MakerReceived:    fill.MakerReceived,
		TakerRemaining:   fill.TakerRemaining,
		TakerReceived:    fill.TakerReceived,
		MakerFullyFilled: fill.MakerFullyFilled,
		TakerFullyFilled: fill.TakerFullyFilled,
		Status:           SettlementPending,
	}
}

// Fill rebuilds the fill a journal entry was created from.
func (s *Settlement) Fill() orderbook.Fill {
	return orderbook.Fill{
		ID:               s.ID,
		Asset:            s.Asset,
		TakerID:          s.TakerID,
		MakerID:          s.MakerID,
		TakerSide:        orderbook.Side(s.TakerSide),
		Buyer:            s.Buyer,
		Seller:           s.Seller,
		BuyOrderID:       s.BuyOrderID,
		SellOrderID:      s.SellOrderID,
		Rate:             s.Rate,
		ARAmount:         s.ARAmount,
		TokenAmount:      s.TokenAmount,
		MakerRemaining:   s.MakerRemaining,
		MakerReceived:    s.MakerReceived,
		TakerRemaining:   s.TakerRemaining,
		TakerReceived:    s.TakerReceived,
		MakerFullyFilled: s.MakerFullyFilled,
		TakerFullyFilled: s.TakerFullyFilled,
	}
}

// AddConfirmation records the confirmation txID sent for orderID.
func (s *Settlement) AddConfirmation(orderID, txID string) {
	entry := orderID + "=" + txID
	if s.ConfirmationTxIDs == "" {
		s.ConfirmationTxIDs = entry
		return
	}
	s.ConfirmationTxIDs += "," + entry
}

// Confirmations maps order ids to the confirmation transactions sent for them.
func (s *Settlement) Confirmations() map[string]string {
	out := map[string]string{}
	if s.ConfirmationTxIDs == "" {
		return out
	}
	for _, entry := range strings.Split(s.ConfirmationTxIDs, ",") {
		orderID, txID, ok := strings.Cut(entry, "=")
		if ok {
			out[orderID] = txID
		}
	}
	return out
}
