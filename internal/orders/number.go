package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderNumber renders the customer-facing reference ORD-YYYYMMDD-XXXXXXXX
// from the placement date and the first eight hex digits of the id.
func OrderNumber(id uuid.UUID, at time.Time) string {
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return "ORD-" + at.UTC().Format("20060102") + "-" + hex[:8]
}
