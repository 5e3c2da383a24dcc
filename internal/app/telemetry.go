package app

import (
	"kiosk/internal/events"
)

// CustomEventRecorder is satisfied by *newrelic.Application.
type CustomEventRecorder interface {
	RecordCustomEvent(eventType string, params map[string]any)
}

// RecordSessionEvents mirrors authorization and donation outcomes into New
// Relic custom events. The returned func detaches the recorder from the bus.
func RecordSessionEvents(bus *events.Bus, recorder CustomEventRecorder) (unsubscribe func()) {
	unsubAuth := events.On(bus, func(e events.AuthorizationChanged) {
		params := map[string]any{
			"status":         string(e.Status),
			"organizationId": e.OrganizationID,
		}
		if e.Error != "" {
			params["error"] = e.Error
		}
		recorder.RecordCustomEvent("KioskAuthorizationChanged", params)
	})

	unsubPayment := events.On(bus, func(e events.PaymentCompleted) {
		params := map[string]any{
			"attemptId":   e.Outcome.AttemptID,
			"state":       string(e.Outcome.State),
			"amountCents": e.AmountCents,
			"currency":    e.Currency,
			"provisional": e.Outcome.Provisional,
		}
		if e.Outcome.TransactionID != "" {
			params["transactionId"] = e.Outcome.TransactionID
		}
		if e.Outcome.Err != nil {
			params["error"] = e.Outcome.Err.Error()
		}
		recorder.RecordCustomEvent("DonationCompleted", params)
	})

	unsubReader := events.On(bus, func(e events.ReaderStatusChanged) {
		recorder.RecordCustomEvent("KioskReaderStatus", map[string]any{
			"kind":    string(e.Status.Kind),
			"reader":  e.Status.SelectedReader,
			"devices": len(e.Devices),
		})
	})

	return func() {
		unsubAuth()
		unsubPayment()
		unsubReader()
	}
}
