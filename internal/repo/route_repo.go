// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for BotRoute,
// including the YAML routes file consumed by `relay routes import`.
//
// Routes file format:
//
//	routes:
//	  - routing_key: "106540352242922"
//	    bot_id: bot42
//	    user_domain: msging.net
//	    ws_uri: wss://ws.0mn.io:443
//	    meta_auth_token: EAAG...
package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/wa-blip-relay/internal/domain"
)

var validate = validator.New()

// routesFile is the on-disk shape of a routes import.
type routesFile struct {
	Routes []domain.BotRoute `yaml:"routes"`
}

// GetRoute returns the route for routingKey or ErrNotFound.
func GetRoute(ctx context.Context, db *gorm.DB, routingKey string) (*domain.BotRoute, error) {
	if strings.TrimSpace(routingKey) == "" {
		return nil, ErrNotFound
	}
	var r domain.BotRoute
	err := db.WithContext(ctx).Where("routing_key = ?", routingKey).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRoutes returns all routes ordered by routing key.
func ListRoutes(ctx context.Context, db *gorm.DB) ([]domain.BotRoute, error) {
	var out []domain.BotRoute
	err := db.WithContext(ctx).Order("routing_key ASC").Find(&out).Error
	return out, err
}

// UpsertRoutes inserts routes or overwrites existing ones with the same
// routing key, all in one transaction.
func UpsertRoutes(ctx context.Context, db *gorm.DB, routes []domain.BotRoute) error {
	if len(routes) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "routing_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"bot_id", "user_domain", "ws_uri", "meta_auth_token", "updated_at"}),
		}).Create(&routes).Error
	})
}

// LoadRoutesFile parses and validates a YAML routes file. Every route must
// pass struct validation and routing keys must be unique within the file.
func LoadRoutesFile(path string) ([]domain.BotRoute, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRoutes(raw)
}

// ParseRoutes is LoadRoutesFile without the file read.
func ParseRoutes(raw []byte) ([]domain.BotRoute, error) {
	var f routesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Routes))
	for i := range f.Routes {
		r := &f.Routes[i]
		r.RoutingKey = strings.TrimSpace(r.RoutingKey)
		r.BotID = strings.TrimSpace(r.BotID)
		r.UserDomain = strings.TrimSpace(r.UserDomain)
		if err := validate.Struct(r); err != nil {
			return nil, fmt.Errorf("route #%d (%q): %w", i+1, r.RoutingKey, err)
		}
		if _, dup := seen[r.RoutingKey]; dup {
			return nil, fmt.Errorf("route #%d: duplicate routing_key %q", i+1, r.RoutingKey)
		}
		seen[r.RoutingKey] = struct{}{}
	}
	return f.Routes, nil
}
