package payment_test

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"testing"

	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/internal/payment"
)

func TestPaymentURL(t *testing.T) {
	r := payment.NewRobokassa(config.PaymentConfig{MerchantLogin: "shop", Password1: "secret", Test: true})

	raw := r.PaymentURL(17, 249000, "Copywriter")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	q := u.Query()

	sum := md5.Sum([]byte("shop:2490.00:17:secret"))
	want := hex.EncodeToString(sum[:])

	tests := map[string]string{
		"MerchantLogin":  "shop",
		"OutSum":         "2490.00",
		"InvId":          "17",
		"Description":    "Copywriter",
		"SignatureValue": want,
		"IsTest":         "1",
	}
	for key, val := range tests {
		if got := q.Get(key); got != val {
			t.Errorf("%s = %q, want %q", key, got, val)
		}
	}
}

func TestPaymentURL_Live(t *testing.T) {
	r := payment.NewRobokassa(config.PaymentConfig{MerchantLogin: "shop", Password1: "secret"})
	u, _ := url.Parse(r.PaymentURL(1, 100, "x"))
	if u.Query().Has("IsTest") {
		t.Error("live link carries IsTest")
	}
	if !r.Configured() {
		t.Error("Configured() = false with credentials set")
	}
}
