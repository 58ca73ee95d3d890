package billing

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// CustomPackID selects a merchant-chosen number of credits.
const CustomPackID = "custom"

// Pack is a fixed bundle of credits.
type Pack struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Credits int             `json:"credits"`
	Price   decimal.Decimal `json:"price"`
}

// Quote is the price of a purchase before a charge exists.
type Quote struct {
	PackID  string
	Name    string
	Credits int
	Price   decimal.Decimal
}

// Catalog maps pack ids to prices and prices custom amounts.
type Catalog struct {
	packs       map[string]Pack
	customPrice decimal.Decimal
	customMin   int
	Currency    string
}

// DefaultCatalog returns the built-in packs with the given custom pricing.
func DefaultCatalog(customPrice decimal.Decimal, customMin int, currency string) *Catalog {
	return NewCatalog([]Pack{
		{ID: "pack_10", Name: "10 try-on credits", Credits: 10, Price: decimal.RequireFromString("4.99")},
		{ID: "pack_30", Name: "30 try-on credits", Credits: 30, Price: decimal.RequireFromString("12.99")},
		{ID: "pack_100", Name: "100 try-on credits", Credits: 100, Price: decimal.RequireFromString("29.99")},
	}, customPrice, customMin, currency)
}

func NewCatalog(packs []Pack, customPrice decimal.Decimal, customMin int, currency string) *Catalog {
	c := &Catalog{
		packs:       make(map[string]Pack, len(packs)),
		customPrice: customPrice,
		customMin:   customMin,
		Currency:    currency,
	}
	for _, p := range packs {
		c.packs[p.ID] = p
	}
	return c
}

type catalogFile struct {
	Currency string `yaml:"currency"`
	Custom   struct {
		PricePerCredit string `yaml:"price_per_credit"`
		MinCredits     int    `yaml:"min_credits"`
	} `yaml:"custom"`
	Packs []struct {
		ID      string `yaml:"id"`
		Name    string `yaml:"name"`
		Credits int    `yaml:"credits"`
		Price   string `yaml:"price"`
	} `yaml:"packs"`
}

// LoadCatalog reads a YAML catalog. Values missing from the file fall back to
// base.
func LoadCatalog(path string, base *Catalog) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	customPrice := base.customPrice
	if f.Custom.PricePerCredit != "" {
		customPrice, err = decimal.NewFromString(f.Custom.PricePerCredit)
		if err != nil || !customPrice.IsPositive() {
			return nil, fmt.Errorf("catalog: invalid custom price %q", f.Custom.PricePerCredit)
		}
	}
	customMin := base.customMin
	if f.Custom.MinCredits > 0 {
		customMin = f.Custom.MinCredits
	}
	currency := base.Currency
	if f.Currency != "" {
		currency = f.Currency
	}

	packs := base.Packs()
	if len(f.Packs) > 0 {
		packs = make([]Pack, 0, len(f.Packs))
		for _, p := range f.Packs {
			price, err := decimal.NewFromString(p.Price)
			if err != nil || !price.IsPositive() {
				return nil, fmt.Errorf("catalog: pack %q has invalid price %q", p.ID, p.Price)
			}
			if p.ID == "" || p.ID == CustomPackID || p.Credits <= 0 {
				return nil, fmt.Errorf("catalog: invalid pack %q", p.ID)
			}
			name := p.Name
			if name == "" {
				name = fmt.Sprintf("%d try-on credits", p.Credits)
			}
			packs = append(packs, Pack{ID: p.ID, Name: name, Credits: p.Credits, Price: price})
		}
	}

	return NewCatalog(packs, customPrice, customMin, currency), nil
}

// Packs lists the fixed packs ordered by credits.
func (c *Catalog) Packs() []Pack {
	out := make([]Pack, 0, len(c.packs))
	for _, p := range c.packs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits < out[j].Credits })
	return out
}

// Quote prices a purchase. A known packID wins. An empty packID with an
// amount equal to a pack's credits buys that pack; any other amount, or
// packID "custom", is priced per credit and must reach the minimum.
func (c *Catalog) Quote(packID string, customAmount int) (Quote, error) {
	if p, ok := c.packs[packID]; ok {
		return Quote{PackID: p.ID, Name: p.Name, Credits: p.Credits, Price: p.Price}, nil
	}

	switch packID {
	case "":
		if customAmount <= 0 {
			return Quote{}, ErrUnknownPack
		}
		for _, p := range c.packs {
			if p.Credits == customAmount {
				return Quote{PackID: p.ID, Name: p.Name, Credits: p.Credits, Price: p.Price}, nil
			}
		}
	case CustomPackID:
	default:
		return Quote{}, ErrUnknownPack
	}

	if customAmount < c.customMin {
		return Quote{}, fmt.Errorf("%w: minimum is %d credits", ErrCustomBelowMinimum, c.customMin)
	}
	return Quote{
		PackID:  CustomPackID,
		Name:    fmt.Sprintf("%d try-on credits", customAmount),
		Credits: customAmount,
		Price:   c.customPrice.Mul(decimal.NewFromInt(int64(customAmount))).Round(2),
	}, nil
}
