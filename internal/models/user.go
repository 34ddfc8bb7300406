package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	APIKeyHash    string    `gorm:"size:64;uniqueIndex;not null"`
	APIKeyMasked  string    `gorm:"size:50;not null"`
	CreatedAt     time.Time
	LastLogin     *time.Time
	IsActive      bool           `gorm:"default:true"`
	Conversations []Conversation `gorm:"foreignKey:UserID"`
}

// BeforeCreate assigns the id in Go so the schema works on drivers without gen_random_uuid.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
