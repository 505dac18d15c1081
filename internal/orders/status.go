package orders

import "github.com/angelmondragon/marketplace-checkout/pkg/enums"

var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:   {enums.OrderStatusPaid, enums.OrderStatusFailed, enums.OrderStatusCancelled},
	enums.OrderStatusPaid:      {enums.OrderStatusShipped, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusShipped:   {enums.OrderStatusDelivered, enums.OrderStatusReturned},
	enums.OrderStatusDelivered: {enums.OrderStatusReturned, enums.OrderStatusRefunded},
	enums.OrderStatusReturned:  {enums.OrderStatusRefunded},
}

// CanTransition reports whether an order may move from one status to another.
// Failed, cancelled and refunded are terminal.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
