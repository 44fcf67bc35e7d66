package models

import "time"

// Customer is an attendee holding a prepaid balance.
type Customer struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organizationId" db:"organization_id"`
	EventID        string     `json:"eventId,omitempty" db:"event_id"`
	FullName       string     `json:"fullName" db:"full_name"`
	ScanToken      string     `json:"scanToken" db:"scan_token"`
	Balance        Money      `json:"currentBalance" db:"current_balance"`
	TotalSpent     Money      `json:"totalSpent" db:"total_spent"`
	IsActive       bool       `json:"isActive" db:"is_active"`
	RegisteredAt   time.Time  `json:"registeredAt" db:"registered_at"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty" db:"last_activity_at"`
}

// Product is a stocked catalog item.
type Product struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organizationId" db:"organization_id"`
	Name           string `json:"name" db:"name"`
	Category       string `json:"category,omitempty" db:"category"`
	Price          Money  `json:"price" db:"price"`
	StockQuantity  int    `json:"stockQuantity" db:"stock_quantity"`
	IsAvailable    bool   `json:"isAvailable" db:"is_available"`
}
