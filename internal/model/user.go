package model

import "time"

type User struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Email        string    `gorm:"size:256;uniqueIndex;not null"`
	PasswordHash string    `gorm:"size:128;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (User) TableName() string { return "app_user" }
