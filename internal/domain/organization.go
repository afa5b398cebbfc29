package domain

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the optional company aggregate a lead belongs to.
type Organization struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Domain         string    `json:"domain" db:"domain"`
	Industry       string    `json:"industry" db:"industry"`
	CompanySize    string    `json:"company_size" db:"company_size"`
	CountryCode    string    `json:"country_code" db:"country_code"`
	MocoCustomerID *string   `json:"moco_customer_id" db:"moco_customer_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
