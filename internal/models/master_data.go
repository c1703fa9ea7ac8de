package models

import "github.com/shopspring/decimal"

// Sector, Product and User are read models over master data owned by other services.

type Sector struct {
	ID        int    `json:"id"`
	CompanyID int    `json:"company_id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
}

type Product struct {
	ID          int             `json:"id"`
	CompanyID   int             `json:"company_id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	SystemStock decimal.Decimal `json:"system_stock"` // book stock
}
