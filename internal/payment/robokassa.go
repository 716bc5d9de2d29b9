// Package payment builds payment-gateway redirect links. Payment results
// are not pushed back; an admin confirms each order by hand.
package payment

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"

	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/pkg/models"
)

// DefaultEndpoint is the Robokassa merchant index page.
const DefaultEndpoint = "https://auth.robokassa.ru/Merchant/Index.aspx"

// Robokassa signs payment links with the merchant's first password.
type Robokassa struct {
	login     string
	password1 string
	test      bool
	endpoint  string
}

// NewRobokassa creates a link builder from payment configuration.
func NewRobokassa(cfg config.PaymentConfig) *Robokassa {
	return &Robokassa{
		login:     cfg.MerchantLogin,
		password1: cfg.Password1,
		test:      cfg.Test,
		endpoint:  DefaultEndpoint,
	}
}

// Configured reports whether merchant credentials are present.
func (r *Robokassa) Configured() bool {
	return r.login != "" && r.password1 != ""
}

// Signature is md5("login:amount:orderID:password1") in lower-case hex.
func (r *Robokassa) Signature(orderID int64, amount models.Money) string {
	raw := fmt.Sprintf("%s:%s:%d:%s", r.login, amount.String(), orderID, r.password1)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// PaymentURL returns the redirect URL for paying order orderID.
func (r *Robokassa) PaymentURL(orderID int64, amount models.Money, description string) string {
	v := url.Values{}
	v.Set("MerchantLogin", r.login)
	v.Set("OutSum", amount.String())
	v.Set("InvId", strconv.FormatInt(orderID, 10))
	v.Set("Description", description)
	v.Set("SignatureValue", r.Signature(orderID, amount))
	if r.test {
		v.Set("IsTest", "1")
	}
	return r.endpoint + "?" + v.Encode()
}
