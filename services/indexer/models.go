package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is one committed escrow event.
type EventRecord struct {
	Sequence   uint64    `gorm:"primaryKey;autoIncrement" json:"sequence"`
	EventID    uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"eventId"`
	Type       string    `gorm:"index;not null" json:"type"`
	Seller     string    `gorm:"index:idx_event_order,priority:1" json:"seller"`
	OrderID    string    `gorm:"index:idx_event_order,priority:2" json:"orderId"`
	Buyer      string    `gorm:"index" json:"buyer"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// OrderRecord is the latest projection of an order built from its events.
type OrderRecord struct {
	Seller    string    `gorm:"primaryKey" json:"seller"`
	OrderID   string    `gorm:"primaryKey" json:"orderId"`
	Buyer     string    `gorm:"index" json:"buyer"`
	Asset     string    `json:"asset"`
	Amount    string    `json:"amount"`
	Fee       string    `json:"fee"`
	Status    string    `gorm:"index" json:"status"`
	Disputed  bool      `json:"disputed"`
	Winner    string    `json:"winner,omitempty"`
	LastEvent string    `json:"lastEvent"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AutoMigrate performs all schema migrations for the index.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EventRecord{},
		&OrderRecord{},
	)
}
