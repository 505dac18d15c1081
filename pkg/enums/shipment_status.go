package enums

import "fmt"

// ShipmentStatus tracks a per-seller fulfillment unit.
type ShipmentStatus string

const (
	ShipmentStatusCreated     ShipmentStatus = "created"
	ShipmentStatusAWBAssigned ShipmentStatus = "awb_assigned"
	ShipmentStatusManual      ShipmentStatus = "manual"
	ShipmentStatusDelivered   ShipmentStatus = "delivered"
)

var validShipmentStatuses = []ShipmentStatus{
	ShipmentStatusCreated,
	ShipmentStatusAWBAssigned,
	ShipmentStatusManual,
	ShipmentStatusDelivered,
}

func (s ShipmentStatus) String() string {
	return string(s)
}

func (s ShipmentStatus) IsValid() bool {
	for _, candidate := range validShipmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseShipmentStatus(value string) (ShipmentStatus, error) {
	for _, candidate := range validShipmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipment status %q", value)
}
