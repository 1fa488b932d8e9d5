package models

import "github.com/shopspring/decimal"

// MenuItem is a row of the cafe catalog. The ordering flow only ever reads it.
type MenuItem struct {
	ID          int             `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string          `gorm:"size:150;not null" json:"name"`
	Category    string          `gorm:"size:100;index" json:"category"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Description string          `gorm:"type:text" json:"description"`
	ImageURL    *string         `gorm:"size:500" json:"image_url"`
	IsAvailable bool            `gorm:"not null;default:true;index" json:"is_available"`
	SortOrder   int             `gorm:"not null;default:0" json:"sort_order"`
}

// TableName keeps the catalog table name shared with the menu admin tooling.
func (MenuItem) TableName() string { return "menu" }
