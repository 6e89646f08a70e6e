package roster

import (
	"time"

	"github.com/classbank/classbank/internal/tenancy"
)

// Tenant is one class-period economy, addressed by its join code.
type Tenant struct {
	ID        tenancy.TenantID
	JoinCode  string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// Student is a global identity; it may join several tenants.
type Student struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}
