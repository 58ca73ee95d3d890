package billing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/fitroom/fitroom-api/internal/pkg/shopify"
)

// ChargeRequest describes a one-time charge to create.
type ChargeRequest struct {
	Name      string
	Price     decimal.Decimal
	ReturnURL string
	Test      bool
}

// GatewayCharge is the gateway's view of a charge.
type GatewayCharge struct {
	ID              string
	Status          ChargeStatus
	Price           decimal.Decimal
	ConfirmationURL string
	Test            bool
}

// Gateway is the External Billing Gateway.
type Gateway interface {
	CreateCharge(ctx context.Context, shop string, req ChargeRequest) (*GatewayCharge, error)
	// FindCharge returns ErrChargeNotFound when the gateway does not know id.
	FindCharge(ctx context.Context, shop, id string) (*GatewayCharge, error)
	ActivateCharge(ctx context.Context, shop, id string) error
}

// ShopifyGateway implements Gateway with Admin API application charges.
type ShopifyGateway struct {
	client *shopify.BillingClient
}

func NewShopifyGateway(client *shopify.BillingClient) *ShopifyGateway {
	return &ShopifyGateway{client: client}
}

func (g *ShopifyGateway) CreateCharge(ctx context.Context, shop string, req ChargeRequest) (*GatewayCharge, error) {
	test := req.Test
	created, err := g.client.CreateCharge(ctx, shop, shopify.ApplicationCharge{
		Name:      req.Name,
		Price:     req.Price,
		ReturnURL: req.ReturnURL,
		Test:      &test,
	})
	if err != nil {
		return nil, err
	}
	return toGatewayCharge(created), nil
}

func (g *ShopifyGateway) FindCharge(ctx context.Context, shop, id string) (*GatewayCharge, error) {
	found, err := g.client.GetCharge(ctx, shop, id)
	if err != nil {
		if errors.Is(err, shopify.ErrChargeNotFound) {
			return nil, ErrChargeNotFound
		}
		return nil, err
	}
	return toGatewayCharge(found), nil
}

func (g *ShopifyGateway) ActivateCharge(ctx context.Context, shop, id string) error {
	_, err := g.client.ActivateCharge(ctx, shop, id)
	return err
}

func toGatewayCharge(c *shopify.ApplicationCharge) *GatewayCharge {
	out := &GatewayCharge{
		ID:              c.IDString(),
		Status:          ChargeStatus(c.Status),
		Price:           c.Price,
		ConfirmationURL: c.ConfirmationURL,
	}
	if c.Test != nil {
		out.Test = *c.Test
	}
	return out
}
