package models

// Ticker is the latest top-of-book snapshot of a market.
type Ticker struct {
	Symbol     string  `json:"symbol"`
	Timestamp  int64   `json:"timestamp"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	Last       float64 `json:"last"`
	BaseVolume float64 `json:"baseVolume"`
}

// Balance of one currency.
type Balance struct {
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
}

// PriceLevel is one level of an order book side.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBook is a level 2 order book.
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Timestamp int64        `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// MarketTrade is a public or own trade reported by the venue.
type MarketTrade struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Side      string  `json:"side"`
	Order     string  `json:"order,omitempty"`
	Fee       *Fee    `json:"fee,omitempty"`
}
