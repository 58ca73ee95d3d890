package shop

import "strings"

const shopifySuffix = ".myshopify.com"

// Resolve normalizes a raw shop identifier ("Demo", "https://demo.myshopify.com/admin",
// "demo.myshopify.com:443") into the canonical shop key used by the ledger.
// Resolving an already resolved key returns it unchanged.
func Resolve(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, ".")

	if s == "" {
		return "", ErrNoShop
	}
	if !strings.Contains(s, ".") {
		s += shopifySuffix
	}

	for _, label := range strings.Split(s, ".") {
		if label == "" || label[0] == '-' || label[len(label)-1] == '-' {
			return "", ErrInvalidShop
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
				return "", ErrInvalidShop
			}
		}
	}

	return s, nil
}
