package domain

import "time"

// BotStatus is a summary of the bot's current operational state.
type BotStatus struct {
	Mode          string    `json:"mode"`
	StreamState   string    `json:"stream_state"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Products      int       `json:"products"`
	Listed        int       `json:"listed_products"`
	LedgerTrades  int       `json:"ledger_trades"`
	Watermark     string    `json:"watermark"`
	StrategyName  string    `json:"strategy_name"`
}
