package models

import "time"

// APIConfig holds the MetaSync credentials configured through the admin
// panel. When a row is active it overrides the environment defaults.
type APIConfig struct {
	ID        int       `json:"id" db:"id"`
	APIKey    string    `json:"api_key" db:"api_key"`
	CompanyID int       `json:"company_id" db:"company_id"`
	Channel   string    `json:"channel" db:"channel"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UpdateAPIConfigRequest is the admin request to replace the credentials.
type UpdateAPIConfigRequest struct {
	APIKey    string `json:"api_key" validate:"required"`
	CompanyID int    `json:"company_id" validate:"required,gt=0"`
	Channel   string `json:"channel" validate:"required"`
}
