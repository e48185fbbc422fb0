package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"novelpay/internal/config"

	stripe "github.com/stripe/stripe-go/v76"
)

const testWebhookSecret = "whsec_test_0123456789abcdef"

func newTestStripe(t *testing.T) *StripeGateway {
	t.Helper()
	gw, err := NewStripeGateway(&config.StripeConfig{
		SecretKey:     "sk_test_xxx",
		WebhookSecret: testWebhookSecret,
		SuccessURL:    "http://localhost:3000/topup/success",
		CancelURL:     "http://localhost:3000/topup/cancel",
	})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}
	return gw
}

// signWebhookPayload 按 Stripe 签名规范构造 Stripe-Signature 头
// v1 = HMAC-SHA256(secret, "<timestamp>.<payload>")
func signWebhookPayload(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEventPayload(eventType, paymentStatus, sessionStatus string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"object": "event",
		"api_version": %q,
		"type": %q,
		"data": {
			"object": {
				"id": "cs_test_1",
				"object": "checkout.session",
				"payment_status": %q,
				"status": %q,
				"amount_total": 20000,
				"currency": "vnd",
				"metadata": {"txn_no": "TOP2024011512345678"}
			}
		}
	}`, stripe.APIVersion, eventType, paymentStatus, sessionStatus))
}

func TestNewStripeGateway_ConfigMissing(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StripeConfig
	}{
		{"empty_all", config.StripeConfig{}},
		{"no_secret_key", config.StripeConfig{SuccessURL: "s", CancelURL: "c"}},
		{"no_success_url", config.StripeConfig{SecretKey: "k", CancelURL: "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStripeGateway(&tt.cfg)
			if !errors.Is(err, ErrConfigMissing) {
				t.Fatalf("want ErrConfigMissing, got %v", err)
			}
		})
	}
}

func TestVerifyWebhook_Completed(t *testing.T) {
	gw := newTestStripe(t)
	payload := checkoutEventPayload("checkout.session.completed", "paid", "complete")
	sig := signWebhookPayload(testWebhookSecret, payload, time.Now())

	result, err := gw.VerifyWebhook(payload, sig)
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if result.Status != ResultSuccess {
		t.Errorf("Status = %s, want SUCCESS", result.Status)
	}
	if result.TxnRef != "TOP2024011512345678" {
		t.Errorf("TxnRef = %s", result.TxnRef)
	}
	if result.AmountVnd != 20000 {
		t.Errorf("AmountVnd = %d, want 20000", result.AmountVnd)
	}
}

func TestVerifyWebhook_Expired(t *testing.T) {
	gw := newTestStripe(t)
	payload := checkoutEventPayload("checkout.session.expired", "unpaid", "expired")
	sig := signWebhookPayload(testWebhookSecret, payload, time.Now())

	result, err := gw.VerifyWebhook(payload, sig)
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if result.Status != ResultCanceled {
		t.Errorf("Status = %s, want CANCELED", result.Status)
	}
}

func TestVerifyWebhook_IgnoredEventType(t *testing.T) {
	gw := newTestStripe(t)
	payload := []byte(fmt.Sprintf(`{"id":"evt_2","object":"event","api_version":%q,"type":"payment_intent.created","data":{"object":{}}}`, stripe.APIVersion))
	sig := signWebhookPayload(testWebhookSecret, payload, time.Now())

	result, err := gw.VerifyWebhook(payload, sig)
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if result != nil {
		t.Errorf("非结算事件应返回 nil，got %+v", result)
	}
}

func TestVerifyWebhook_InvalidSignature(t *testing.T) {
	gw := newTestStripe(t)
	payload := checkoutEventPayload("checkout.session.completed", "paid", "complete")

	// 用错误密钥签名
	sig := signWebhookPayload("whsec_wrong", payload, time.Now())
	if _, err := gw.VerifyWebhook(payload, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("wrong secret: want ErrInvalidSignature, got %v", err)
	}

	// 签名后篡改报文
	sig = signWebhookPayload(testWebhookSecret, payload, time.Now())
	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = ' '
	if _, err := gw.VerifyWebhook(tampered, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered payload: want ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyWebhook_MissingInput(t *testing.T) {
	gw := newTestStripe(t)
	payload := checkoutEventPayload("checkout.session.completed", "paid", "complete")
	sig := signWebhookPayload(testWebhookSecret, payload, time.Now())

	if _, err := gw.VerifyWebhook(nil, sig); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("empty payload: want ErrInvalidParam, got %v", err)
	}
	if _, err := gw.VerifyWebhook(payload, ""); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("empty signature: want ErrInvalidParam, got %v", err)
	}

	noSecret, err := NewStripeGateway(&config.StripeConfig{
		SecretKey:  "sk_test_xxx",
		SuccessURL: "s",
		CancelURL:  "c",
	})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}
	if _, err := noSecret.VerifyWebhook(payload, sig); !errors.Is(err, ErrConfigMissing) {
		t.Errorf("no webhook secret: want ErrConfigMissing, got %v", err)
	}
}

func TestNormalizeSession(t *testing.T) {
	tests := []struct {
		name          string
		paymentStatus stripe.CheckoutSessionPaymentStatus
		sessionStatus stripe.CheckoutSessionStatus
		want          string
	}{
		{"paid", stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionStatusComplete, ResultSuccess},
		{"expired", stripe.CheckoutSessionPaymentStatusUnpaid, stripe.CheckoutSessionStatusExpired, ResultCanceled},
		{"unpaid_open", stripe.CheckoutSessionPaymentStatusUnpaid, stripe.CheckoutSessionStatusOpen, ResultFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizeSession(&stripe.CheckoutSession{
				PaymentStatus: tt.paymentStatus,
				Status:        tt.sessionStatus,
				AmountTotal:   20000,
				Metadata:      map[string]string{"txn_no": "TOP1"},
			})
			if result.Status != tt.want {
				t.Errorf("Status = %s, want %s", result.Status, tt.want)
			}
			if result.TxnRef != "TOP1" {
				t.Errorf("TxnRef = %s", result.TxnRef)
			}
		})
	}
}
