package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrTransient marks failures that happened before the ledger accepted a
	// request and may be retried.
	ErrTransient = errors.New("transient ledger error")
	// ErrRejected marks requests the ledger or signer refused; retrying is pointless.
	ErrRejected = errors.New("ledger rejected request")
	// ErrUnconfirmed marks a broadcast whose request may have reached the signer
	// but whose result never came back. Retrying could move funds twice.
	ErrUnconfirmed = errors.New("ledger outcome unknown")

	ErrTxNotFound = errors.New("transaction not found")
)

type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Transaction is the subset of a ledger transaction the exchange reads.
type Transaction struct {
	ID       string
	Owner    string
	Quantity decimal.Decimal // native amount attached, in AR
	Tags     []Tag
}

// Tag returns the first tag named name.
func (tx *Transaction) Tag(name string) (string, bool) {
	for _, t := range tx.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// Querier reads transactions and their data. Both calls are idempotent.
type Querier interface {
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	GetData(ctx context.Context, id string) ([]byte, error)
}

// Broadcasts carry an idempotency key; the signer answers a repeated key with the
// transaction it already posted instead of posting a new one.

// Wallet broadcasts native currency transfers from the exchange wallet.
type Wallet interface {
	Transfer(ctx context.Context, key, target string, amount decimal.Decimal, tags []Tag) (string, error)
}

// ContractCaller invokes the transfer function of a token contract.
type ContractCaller interface {
	InvokeTransfer(ctx context.Context, key, contractID, target string, qty decimal.Decimal) (string, error)
}

// Confirmer posts data transactions, used for confirmation receipts.
type Confirmer interface {
	PostData(ctx context.Context, key string, tags []Tag, data []byte) (string, error)
}

// IsTransient reports whether err may succeed on retry. Unconfirmed broadcasts
// are never transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
