package models

import "time"

// Lead is a prospective customer. Leads are referenced by sessions and
// tasks, never owned by them.
type Lead struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:128"`
	Phone     string `gorm:"size:32;index"`
	Email     string `gorm:"size:128;index"`
	Source    string `gorm:"size:32;index"` // e.g. "webform", "yelp", "referral"
	CreatedAt time.Time
}
