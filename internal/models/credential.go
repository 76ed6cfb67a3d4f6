package models

import "time"

// Credential is the single stored publishing credential. Saving replaces any
// existing rows; loading picks the most recently created one. The password
// column only ever holds ciphertext.
type Credential struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Handle            string    `gorm:"not null;size:255" json:"handle"`
	EncryptedPassword string    `gorm:"not null;type:text" json:"-"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
