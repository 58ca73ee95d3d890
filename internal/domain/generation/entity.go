package generation

import "time"

const (
	CategoryUpperBody = "upper_body"
	CategoryLowerBody = "lower_body"
	CategoryDresses   = "dresses"
)

// Image is one try-on input: an uploaded file or, for garments, a URL.
type Image struct {
	Data     []byte
	Filename string
	URL      string
}

func (i Image) empty() bool {
	return len(i.Data) == 0 && i.URL == ""
}

// Request is a single try-on attempt.
type Request struct {
	ShopKey  string
	ClientIP string
	Person   Image
	Garment  Image
	Category string
}

// Result is returned after the debit succeeded.
type Result struct {
	GenerationID   string `json:"generation_id"`
	ResultImageURL string `json:"result_image_url"`
	NewCredits     int    `json:"new_credits"`
}

// Window is a fixed rate-limit window for one shop and shopper IP.
type Window struct {
	Key         string
	WindowStart time.Time
	Count       int
}
