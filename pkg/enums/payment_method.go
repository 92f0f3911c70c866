package enums

import "fmt"

// PaymentMethod selects the provider adapter used to settle a payment.
type PaymentMethod string

const (
	PaymentMethodCash             PaymentMethod = "cash"
	PaymentMethodCardRedirect     PaymentMethod = "card_redirect"
	PaymentMethodHostedCheckout   PaymentMethod = "hosted_checkout"
	PaymentMethodWebhookProcessor PaymentMethod = "webhook_processor"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCash,
	PaymentMethodCardRedirect,
	PaymentMethodHostedCheckout,
	PaymentMethodWebhookProcessor,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
