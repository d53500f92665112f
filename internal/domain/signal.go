package domain

import "time"

// ChannelMarketsRefreshed is the signal bus channel announcing a committed
// refresh.
const ChannelMarketsRefreshed = "markets_refreshed"

// RefreshNotice is the payload published on ChannelMarketsRefreshed and
// relayed to WebSocket clients.
type RefreshNotice struct {
	Type        string    `json:"type"`
	Generation  uint64    `json:"generation"`
	MarketCount int       `json:"market_count"`
	NoMarkets   bool      `json:"no_markets"`
	FetchedAt   time.Time `json:"fetched_at"`
}
