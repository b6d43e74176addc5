package domain

import "time"

// BotRoute maps a routing key (the WhatsApp phone_number_id that received a
// message) to the bot that serves it and the tenant settings needed to talk to
// both sides. The relay only reads routes; they are written by the
// `routes import` command.
type BotRoute struct {
	RoutingKey    string    `json:"routing_key"    yaml:"routing_key"     gorm:"type:varchar(64);primaryKey"       validate:"required,max=64"`
	BotID         string    `json:"bot_id"         yaml:"bot_id"          gorm:"type:varchar(128);not null;index" validate:"required,max=128"`
	UserDomain    string    `json:"user_domain"    yaml:"user_domain"     gorm:"type:varchar(255);not null"       validate:"required,hostname_rfc1123"`
	WSURI         string    `json:"ws_uri"         yaml:"ws_uri"          gorm:"type:varchar(255)"                validate:"omitempty,url"`
	MetaAuthToken string    `json:"-"              yaml:"meta_auth_token" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"     yaml:"-"`
	UpdatedAt     time.Time `json:"updated_at"     yaml:"-"`
}

// TableName returns the database table name for BotRoute.
func (BotRoute) TableName() string { return "bot_routes" }
