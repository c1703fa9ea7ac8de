package models

const (
	RoleCounter  = "counter"
	RoleOperator = "operator"
)

type User struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`      // counter or operator
	IsActive bool   `json:"is_active"` // false = suspended
}
