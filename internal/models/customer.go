package models

// Customer is created on the first order from an email and reused afterwards.
// Email is a lookup key, not a unique constraint: the most recent row wins.
type Customer struct {
	BaseModel
	Name    string `gorm:"size:150;not null" json:"name"`
	Email   string `gorm:"size:255;index;not null" json:"email"`
	Phone   string `gorm:"size:25" json:"phone"`
	Address string `gorm:"size:255" json:"address"`
}
