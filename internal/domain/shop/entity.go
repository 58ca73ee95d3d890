package shop

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Installation is the Shop OAuth Token Store record. The access token is only
// ever stored encrypted.
type Installation struct {
	ShopKey        string     `db:"shop_key" json:"shop"`
	AccessTokenEnc string     `db:"access_token_enc" json:"-"`
	Scope          string     `db:"scope" json:"scope"`
	InstalledAt    time.Time  `db:"installed_at" json:"installed_at"`
	UninstalledAt  *time.Time `db:"uninstalled_at" json:"uninstalled_at,omitempty"`
}

// Active reports whether the app is currently installed.
func (i *Installation) Active() bool {
	return i != nil && i.UninstalledAt == nil
}

// Settings is the storefront widget configuration.
type Settings struct {
	ShopKey     string    `db:"shop_key" json:"-"`
	ButtonText  string    `db:"button_text" json:"button_text"`
	ButtonColor string    `db:"button_color" json:"button_color"`
	TextColor   string    `db:"text_color" json:"text_color"`
	DailyLimit  int       `db:"daily_limit" json:"limit"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultSettings returns the settings used until a merchant saves their own.
func DefaultSettings(shop string, dailyLimit int) Settings {
	return Settings{
		ShopKey:     shop,
		ButtonText:  "Try it on",
		ButtonColor: "#000000",
		TextColor:   "#ffffff",
		DailyLimit:  dailyLimit,
	}
}

// SettingsRequest is the body of POST /api/save-settings.
type SettingsRequest struct {
	ButtonText  string  `json:"button_text" validate:"required,max=40"`
	ButtonColor string  `json:"button_color" validate:"required,hexcolor"`
	TextColor   string  `json:"text_color" validate:"required,hexcolor"`
	Limit       flexInt `json:"limit" validate:"gte=0,lte=1000"`
}

// flexInt accepts both 5 and "5"; the dashboard posts raw input values.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}
