package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

// ParseWebhook verifies the Stripe-Signature header and converts the event
// into an internal Event. Unverifiable payloads yield ErrUnverifiedEvent.
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (*Event, error) {
	if g.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrUnverifiedEvent)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnverifiedEvent, err)
	}
	return normalizeStripeEvent(evt, payload)
}

// DecodeEvent normalizes a stored event payload without checking a signature.
func (g *StripeGateway) DecodeEvent(payload []byte) (*Event, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, &ValidationError{Field: "payload", Message: "invalid event", Err: err}
	}
	if evt.ID == "" {
		return nil, &ValidationError{Field: "payload", Message: "event without id"}
	}
	return normalizeStripeEvent(evt, payload)
}

func normalizeStripeEvent(evt stripe.Event, payload []byte) (*Event, error) {
	out := &Event{
		ID:         evt.ID,
		Type:       string(evt.Type),
		Kind:       EventIgnored,
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
		Payload:    payload,
	}
	if evt.Data == nil {
		return out, nil
	}

	switch out.Type {
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, &ValidationError{Field: "payload", Message: "invalid invoice object", Err: err}
		}
		if inv.Subscription == nil {
			return out, nil
		}
		out.Kind = EventPaymentSucceeded
		if out.Type == "invoice.payment_failed" {
			out.Kind = EventPaymentFailed
		}
		out.ExternalSubscriptionID = inv.Subscription.ID
		out.ExternalInvoiceID = inv.ID
		if inv.PaymentIntent != nil {
			out.ExternalPaymentIntentID = inv.PaymentIntent.ID
		}
		out.Amount = inv.AmountPaid
		if out.Kind == EventPaymentFailed {
			out.Amount = inv.AmountDue
		}
		out.Currency = string(inv.Currency)
		out.PeriodStart, out.PeriodEnd = invoicePeriod(&inv)

	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, &ValidationError{Field: "payload", Message: "invalid payment intent object", Err: err}
		}
		// Invoice-backed intents are reported through the invoice events.
		if pi.Invoice != nil {
			return out, nil
		}
		out.Kind = EventPaymentSucceeded
		if out.Type == "payment_intent.payment_failed" {
			out.Kind = EventPaymentFailed
		}
		out.ExternalPaymentIntentID = pi.ID
		out.Amount = pi.Amount
		out.Currency = string(pi.Currency)

	case "customer.subscription.deleted", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, &ValidationError{Field: "payload", Message: "invalid subscription object", Err: err}
		}
		out.ExternalSubscriptionID = sub.ID
		out.PeriodStart = unixTime(sub.CurrentPeriodStart)
		out.PeriodEnd = unixTime(sub.CurrentPeriodEnd)
		out.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		if out.Type == "customer.subscription.deleted" {
			out.Kind = EventSubscriptionCancelled
			break
		}
		switch sub.Status {
		case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
			out.Kind = EventSubscriptionRenewed
		case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
			out.Kind = EventPaymentFailed
		case stripe.SubscriptionStatusCanceled:
			out.Kind = EventSubscriptionCancelled
		}
	}
	return out, nil
}

// invoicePeriod prefers the service period of the first line item; the
// invoice-level period describes when usage was collected.
func invoicePeriod(inv *stripe.Invoice) (*time.Time, *time.Time) {
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line != nil && line.Period != nil && line.Period.End > 0 {
				return unixTime(line.Period.Start), unixTime(line.Period.End)
			}
		}
	}
	return unixTime(inv.PeriodStart), unixTime(inv.PeriodEnd)
}
