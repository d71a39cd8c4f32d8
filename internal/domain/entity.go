package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioRecord is the persisted form of a bot portfolio
type PortfolioRecord struct {
	Name      string          `gorm:"primaryKey" json:"name"`
	FreeCash  decimal.Decimal `gorm:"type:text;not null" json:"free_cash"`
	Holdings  []HoldingRecord `gorm:"foreignKey:Portfolio;references:Name;constraint:OnDelete:CASCADE" json:"holdings"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HoldingRecord is one (portfolio, ticker) share count. Zero counts are never stored.
type HoldingRecord struct {
	Portfolio string `gorm:"primaryKey" json:"portfolio"`
	Ticker    string `gorm:"primaryKey" json:"ticker"`
	Shares    int64  `json:"shares"`
}
