package orderbook

import "errors"

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrDuplicateOrder  = errors.New("duplicate order")
	errInvalidOrderID  = errors.New("invalid order id")
	errInvalidQuantity = errors.New("invalid order quantity")
)
