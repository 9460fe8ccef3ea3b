package types

// Trade is one leg of a committed portfolio.
// Prices are fixed-point integers in the price source's monetary units.
// ExitPrice is zero until an exit snapshot is applied and never affects the tree root.
type Trade struct {
	Ticker     string `json:"ticker"`
	EntryPrice int64  `json:"entryPrice,string"`
	ExitPrice  int64  `json:"exitPrice,string,omitempty"`
	Method     string `json:"method"`
}

// PriceMode selects which snapshot a price source should return.
type PriceMode string

const (
	PriceModeEntry PriceMode = "entry"
	PriceModeExit  PriceMode = "exit"
)

// Prices maps ticker to fixed-point integer price.
type Prices map[string]int64

// Clone returns a copy of p.
func (p Prices) Clone() Prices {
	out := make(Prices, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// PriceTick is one streamed price update.
type PriceTick struct {
	Ticker    string `json:"ticker"`
	Price     int64  `json:"price,string"`
	Timestamp int64  `json:"timestamp"`
}
