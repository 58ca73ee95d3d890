package credit

import "time"

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	KindWelcome    EntryKind = "welcome"
	KindPurchase   EntryKind = "purchase"
	KindGeneration EntryKind = "generation"
	KindAdminGrant EntryKind = "admin_grant"
)

// welcomeReference is the idempotency key of the lazily created welcome grant.
const welcomeReference = "welcome"

// Account is the per-shop credit balance.
type Account struct {
	ShopKey          string    `db:"shop_key" json:"shop"`
	Balance          int       `db:"balance" json:"balance"`
	LifetimeCredits  int       `db:"lifetime_credits" json:"lifetime_credits"`
	TotalGenerations int       `db:"total_generations" json:"total_generations"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Entry is one applied mutation. (ShopKey, Reference) is unique when
// Reference is set.
type Entry struct {
	ID           string    `db:"id" json:"id"`
	ShopKey      string    `db:"shop_key" json:"shop"`
	Delta        int       `db:"delta" json:"delta"`
	Kind         EntryKind `db:"kind" json:"kind"`
	Reference    string    `db:"reference" json:"reference,omitempty"`
	Description  string    `db:"description" json:"description"`
	BalanceAfter int       `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Mutation is a signed balance change submitted to a Store.
type Mutation struct {
	ShopKey     string
	Delta       int
	Kind        EntryKind
	Reference   string
	Description string
}

// Result is returned by Credit and Debit. Applied is false when the
// reference had already been applied and nothing changed.
type Result struct {
	Balance int  `json:"balance"`
	Applied bool `json:"applied"`
}

// BalanceEvent describes an applied mutation for subscribers.
type BalanceEvent struct {
	ShopKey string
	Balance int
	Delta   int
	Kind    EntryKind
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}

func (p Pagination) normalize() Pagination {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
