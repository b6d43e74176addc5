// Package domain defines the persistence models of the relay. These types are
// mapped with GORM and shared by the repository and service layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// CredentialStatus is the lifecycle state of a provisioned bot account.
type CredentialStatus string

const (
	CredentialActive   CredentialStatus = "active"
	CredentialInactive CredentialStatus = "inactive"
)

// Credential is the bot-session account provisioned for one WhatsApp user in
// one bot's namespace. At most one row exists per (user_id, bot_id), enforced
// by the ux_credential_user_bot unique index. Password is written once at
// creation and never updated.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: canonical platform user id (bare phone number).
//   - BotID: target bot/tenant identifier.
//   - Password: opaque secret used to authenticate to the bot transport.
//   - Status: active | inactive (changed only by external administration).
//   - Metadata: open key/value map stored as JSON.
//   - CreatedAt / LastInteractionAt: provisioning and last-message timestamps.
type Credential struct {
	ID                string            `json:"id"                  gorm:"type:char(36);primaryKey"`
	UserID            string            `json:"user_id"             gorm:"type:varchar(64);not null;uniqueIndex:ux_credential_user_bot,priority:1"`
	BotID             string            `json:"bot_id"              gorm:"type:varchar(128);not null;uniqueIndex:ux_credential_user_bot,priority:2;index"`
	Password          string            `json:"-"                   gorm:"type:varchar(128);not null"`
	Status            CredentialStatus  `json:"status"              gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','inactive')"`
	Metadata          datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"          gorm:"autoCreateTime"`
	LastInteractionAt time.Time         `json:"last_interaction_at" gorm:"not null"`
}

// TableName returns the database table name for Credential.
func (Credential) TableName() string { return "credentials" }
