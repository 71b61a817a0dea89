package ledger

import "time"

// CustodyHolder is the ledger account that holds escrowed funds on behalf of
// jobs and escrow accounts.
const CustodyHolder = "custody"

// MintHolder is the notional source of minted funds. It never carries a
// balance; minted amounts appear as credit-only transfers.
const MintHolder = "mint"

type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

type Account struct {
	Holder    string
	Balance   int64
	Version   int64
	UpdatedAt time.Time
}

// Entry is one side of a transfer. Amount is signed: debits are negative.
type Entry struct {
	TransferID string
	Holder     string
	Amount     int64
	Type       EntryType
	Balance    int64
	CreatedAt  time.Time
}
