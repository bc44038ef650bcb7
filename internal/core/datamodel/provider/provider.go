package provider

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TypeMoMo    = "MOMO"
	TypeCard    = "CARD"
	TypeSandbox = "SANDBOX"
)

type Provider struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Name         string         `gorm:"column:name;not null;uniqueIndex"`
	ProviderType string         `gorm:"column:provider_type;not null"`
	BaseURL      string         `gorm:"column:base_url"`
	APIKey       string         `gorm:"column:api_key"`
	APISecret    string         `gorm:"column:api_secret"`
	Config       datatypes.JSON `gorm:"column:config;type:jsonb"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
}

func (Provider) TableName() string {
	return "payment_providers"
}

// SelectionID is the primary key of the single provider_selection row.
const SelectionID = 1

// Selection holds the active provider. Version is bumped on every change and
// guards compare-and-swap updates.
type Selection struct {
	ID         int64     `gorm:"column:id;primaryKey"`
	ProviderID *int64    `gorm:"column:provider_id"`
	Version    int64     `gorm:"column:version;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (Selection) TableName() string {
	return "provider_selection"
}
