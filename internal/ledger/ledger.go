package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	ledgerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/ledger"
)

// RepositoryAPI is the only writer of wallet balances and ledger entries.
type RepositoryAPI interface {
	WithTx(tx *gorm.DB) RepositoryAPI
	// EnsureWallet creates a zero-balance wallet unless one exists.
	EnsureWallet(ctx context.Context, vendorID string) error
	LockWallet(ctx context.Context, vendorID string) (*ledgerDatamodel.Wallet, error)
	GetWallet(ctx context.Context, vendorID string) (*ledgerDatamodel.Wallet, error)
	FindEntry(ctx context.Context, reference string) (*ledgerDatamodel.Entry, error)
	AppendEntry(ctx context.Context, entry *ledgerDatamodel.Entry) error
	SetBalance(ctx context.Context, vendorID string, balance decimal.Decimal, version int64) error
	SetPasswordHash(ctx context.Context, vendorID, hash string) error
}

// StatementReader serves the wallet read model.
type StatementReader interface {
	Recent(ctx context.Context, vendorID string, limit int) ([]StatementLine, error)
	SumEntries(ctx context.Context, vendorID string) (decimal.Decimal, error)
}

type StatementLine struct {
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Kind         string          `db:"kind" json:"kind"`
	Reason       string          `db:"reason" json:"reason"`
	Reference    string          `db:"reference" json:"reference"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

type WalletView struct {
	VendorID string          `json:"vendor_id"`
	Balance  decimal.Decimal `json:"balance"`
	Entries  []StatementLine `json:"entries"`
}
