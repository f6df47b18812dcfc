package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Resource names one cached backend collection.
type Resource string

const (
	Warehouses     Resource = "warehouses"
	Suppliers      Resource = "suppliers"
	PurchaseOrders Resource = "purchase-orders"
	Products       Resource = "products"
	Investments    Resource = "investments"
	Patients       Resource = "patients"
	Appointments   Resource = "appointments"
)

var resources = []Resource{Warehouses, Suppliers, PurchaseOrders, Products, Investments, Patients, Appointments}

// Resources lists every resource in a stable order.
func Resources() []Resource {
	return append([]Resource(nil), resources...)
}

// DefaultTTLs is how long each resource stays fresh. Reference data changes
// rarely; orders and appointments move during the day.
var DefaultTTLs = map[Resource]time.Duration{
	Warehouses:     15 * time.Minute,
	Suppliers:      15 * time.Minute,
	PurchaseOrders: 2 * time.Minute,
	Products:       5 * time.Minute,
	Investments:    5 * time.Minute,
	Patients:       5 * time.Minute,
	Appointments:   2 * time.Minute,
}

// ParseResource accepts the canonical name, case-insensitively, with
// underscores allowed in place of dashes.
func ParseResource(s string) (Resource, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for _, r := range resources {
		if string(r) == norm {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownResource, s)
}
