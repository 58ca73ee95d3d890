package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChargeStatus mirrors the gateway's application charge status.
type ChargeStatus string

const (
	StatusPending  ChargeStatus = "pending"
	StatusAccepted ChargeStatus = "accepted"
	StatusActive   ChargeStatus = "active"
	StatusDeclined ChargeStatus = "declined"
	StatusExpired  ChargeStatus = "expired"
)

// Charge is the local record of a purchase. It is applied to the ledger at
// most once; AppliedAt is stamped after the credit.
type Charge struct {
	ChargeID        string          `db:"charge_id" json:"charge_id"`
	ShopKey         string          `db:"shop_key" json:"shop"`
	PackID          string          `db:"pack_id" json:"pack_id"`
	Credits         int             `db:"credits" json:"credits"`
	Price           decimal.Decimal `db:"price" json:"price"`
	Currency        string          `db:"currency" json:"currency"`
	Status          ChargeStatus    `db:"status" json:"status"`
	ConfirmationURL string          `db:"confirmation_url" json:"confirmation_url"`
	Test            bool            `db:"test" json:"test"`
	AppliedAt       *time.Time      `db:"applied_at" json:"applied_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Applied reports whether the charge has been credited.
func (c *Charge) Applied() bool {
	return c.AppliedAt != nil
}

// Purchase is returned to the merchant, who must visit ConfirmationURL.
type Purchase struct {
	ChargeID        string `json:"charge_id"`
	ConfirmationURL string `json:"confirmation_url"`
}

// Reconciliation is the outcome of applying a charge.
type Reconciliation struct {
	ChargeID  string `json:"charge_id"`
	Credits   int    `json:"credits"`
	Balance   int    `json:"balance"`
	Duplicate bool   `json:"duplicate"`
}

// SweepResult summarizes one SweepPending pass.
type SweepResult struct {
	Checked  int
	Applied  int
	Declined int
	Pending  int
	Failed   int
}
