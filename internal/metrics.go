package internal

import "expvar"

var (
	deliveriesTotal = expvar.NewMap("hookpulse_deliveries_total")
	broadcastErrors = expvar.NewInt("hookpulse_broadcast_errors_total")
	publishErrors   = expvar.NewMap("hookpulse_publish_errors_total")
)

// IncDelivery counts one webhook delivery by its terminal state:
// accepted, duplicate, unauthorized, malformed or store_error.
func IncDelivery(outcome string) {
	deliveriesTotal.Add(outcome, 1)
}

func IncBroadcastError() {
	broadcastErrors.Add(1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}
