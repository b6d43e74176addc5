// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Credential
// model.
//
// Error semantics:
//   - Lookups that match nothing return ErrNotFound.
//   - Inserting a second credential for the same (user_id, bot_id) returns
//     ErrDuplicate; the unique index is the last line of defence against
//     concurrent provisioning.
//   - Other DB errors are propagated as-is.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/wa-blip-relay/internal/domain"
)

// GetCredential returns the credential for (userID, botID) or ErrNotFound.
func GetCredential(ctx context.Context, db *gorm.DB, userID, botID string) (*domain.Credential, error) {
	var c domain.Credential
	err := db.WithContext(ctx).
		Where("user_id = ? AND bot_id = ?", userID, botID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCredential inserts a new active credential. Both timestamps are set to
// the same UTC instant. A unique violation on (user_id, bot_id) maps to
// ErrDuplicate.
func CreateCredential(ctx context.Context, db *gorm.DB, userID, botID, password string, metadata map[string]any) (*domain.Credential, error) {
	now := time.Now().UTC()
	rec := &domain.Credential{
		ID:                uuid.NewString(),
		UserID:            userID,
		BotID:             botID,
		Password:          password,
		Status:            domain.CredentialActive,
		Metadata:          datatypes.JSONMap(metadata),
		CreatedAt:         now,
		LastInteractionAt: now,
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// TouchCredential sets last_interaction_at to now and returns the updated row.
// The update and re-read run in one transaction so callers never observe a
// half-applied touch.
func TouchCredential(ctx context.Context, db *gorm.DB, userID, botID string, now time.Time) (*domain.Credential, error) {
	var out *domain.Credential
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Credential{}).
			Where("user_id = ? AND bot_id = ?", userID, botID).
			Update("last_interaction_at", now.UTC())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		c, err := GetCredential(ctx, tx, userID, botID)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountCredentials returns the number of credentials provisioned for botID.
func CountCredentials(ctx context.Context, db *gorm.DB, botID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Credential{}).Where("bot_id = ?", botID).Count(&n).Error
	return n, err
}
