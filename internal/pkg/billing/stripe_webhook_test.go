package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"
)

const testWebhookSecret = "whsec_test"

func signPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", at.Unix(), payload)))
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(id, typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":1767225600,"api_version":%q,"data":{"object":%s}}`,
		id, typ, stripe.APIVersion, object))
}

func webhookGateway() *StripeGateway {
	return NewStripeGateway(StripeConfig{SecretKey: "sk_test", WebhookSecret: testWebhookSecret})
}

func TestParseWebhook_InvoicePaid(t *testing.T) {
	payload := eventPayload("evt_1", "invoice.paid", `{
		"id":"in_1","object":"invoice","subscription":"sub_1","payment_intent":"pi_1",
		"amount_paid":499,"currency":"eur","period_start":1,"period_end":2,
		"lines":{"object":"list","data":[{"id":"il_1","object":"line_item","period":{"start":1767225600,"end":1769904000}}]}
	}`)

	evt, err := webhookGateway().ParseWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, EventPaymentSucceeded, evt.Kind)
	assert.Equal(t, "sub_1", evt.ExternalSubscriptionID)
	assert.Equal(t, "pi_1", evt.ExternalPaymentIntentID)
	assert.Equal(t, "in_1", evt.InvoiceRef())
	assert.Equal(t, int64(499), evt.Amount)
	assert.Equal(t, "eur", evt.Currency)
	require.NotNil(t, evt.PeriodEnd)
	assert.Equal(t, int64(1769904000), evt.PeriodEnd.Unix())
}

func TestParseWebhook_InvoicePaymentFailed(t *testing.T) {
	payload := eventPayload("evt_2", "invoice.payment_failed", `{
		"id":"in_2","object":"invoice","subscription":"sub_1","amount_due":499,"currency":"eur"
	}`)

	evt, err := webhookGateway().ParseWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailed, evt.Kind)
	assert.Equal(t, int64(499), evt.Amount)
}

func TestParseWebhook_SubscriptionEvents(t *testing.T) {
	tests := []struct {
		typ    string
		status string
		want   EventKind
	}{
		{"customer.subscription.deleted", "canceled", EventSubscriptionCancelled},
		{"customer.subscription.updated", "active", EventSubscriptionRenewed},
		{"customer.subscription.updated", "past_due", EventPaymentFailed},
		{"customer.subscription.updated", "canceled", EventSubscriptionCancelled},
		{"customer.subscription.updated", "incomplete", EventIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.typ+"/"+tt.status, func(t *testing.T) {
			payload := eventPayload("evt_s", tt.typ, fmt.Sprintf(
				`{"id":"sub_1","object":"subscription","status":%q,"current_period_start":1767225600,"current_period_end":1769904000,"cancel_at_period_end":true}`,
				tt.status))
			evt, err := webhookGateway().ParseWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
			require.NoError(t, err)
			assert.Equal(t, tt.want, evt.Kind)
			assert.Equal(t, "sub_1", evt.ExternalSubscriptionID)
			assert.True(t, evt.CancelAtPeriodEnd)
		})
	}
}

func TestParseWebhook_StandalonePaymentIntent(t *testing.T) {
	payload := eventPayload("evt_3", "payment_intent.succeeded", `{"id":"pi_9","object":"payment_intent","amount":1299,"currency":"eur"}`)

	evt, err := webhookGateway().ParseWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentSucceeded, evt.Kind)
	assert.Equal(t, "pi_9", evt.ExternalPaymentIntentID)
	assert.Empty(t, evt.ExternalSubscriptionID)
}

func TestParseWebhook_InvoiceBackedPaymentIntentIsIgnored(t *testing.T) {
	payload := eventPayload("evt_4", "payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent","invoice":"in_1"}`)

	evt, err := webhookGateway().ParseWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, evt.Kind)
}

func TestParseWebhook_UnrelatedTypeIsIgnored(t *testing.T) {
	payload := eventPayload("evt_5", "customer.created", `{"id":"cus_1","object":"customer"}`)

	evt, err := webhookGateway().ParseWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, evt.Kind)
	assert.Equal(t, "evt_5", evt.ID)
}

func TestParseWebhook_RejectsBadSignatures(t *testing.T) {
	payload := eventPayload("evt_6", "invoice.paid", `{"id":"in_1","object":"invoice","subscription":"sub_1"}`)

	cases := map[string]string{
		"wrong secret": signPayload(payload, "whsec_other", time.Now()),
		"stale":        signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour)),
		"missing":      "",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := webhookGateway().ParseWebhook(payload, header)
			assert.ErrorIs(t, err, ErrUnverifiedEvent)
		})
	}

	tampered := append([]byte(nil), payload...)
	header := signPayload(payload, testWebhookSecret, time.Now())
	tampered[len(tampered)-2] = ' '
	_, err := webhookGateway().ParseWebhook(tampered, header)
	assert.ErrorIs(t, err, ErrUnverifiedEvent)
}

func TestParseWebhook_NoSecretConfigured(t *testing.T) {
	gw := NewStripeGateway(StripeConfig{SecretKey: "sk_test"})
	payload := eventPayload("evt_7", "invoice.paid", `{}`)

	_, err := gw.ParseWebhook(payload, signPayload(payload, "", time.Now()))
	assert.ErrorIs(t, err, ErrUnverifiedEvent)
}

func TestDecodeEvent_MatchesVerifiedParse(t *testing.T) {
	payload := eventPayload("evt_8", "invoice.payment_failed", `{"id":"in_8","object":"invoice","subscription":"sub_8","amount_due":1299,"currency":"eur"}`)
	gw := webhookGateway()

	verified, err := gw.ParseWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	decoded, err := gw.DecodeEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, verified, decoded)

	_, err = gw.DecodeEvent([]byte(`{"object":"event"}`))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = gw.DecodeEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrValidation)
}
