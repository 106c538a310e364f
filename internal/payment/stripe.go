package payment

import (
	"errors"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/customer"
)

// Client is an interface for Stripe operations to enable testing with mocks.
type Client interface {
	// DeleteCustomer removes the customer and all attached payment
	// methods at the provider.
	DeleteCustomer(customerID string) (*stripe.Customer, error)
	// GetCustomer fetches the customer record.
	GetCustomer(customerID string) (*stripe.Customer, error)
}

// StripeClient implements the Client interface using the real Stripe SDK.
type StripeClient struct{}

// NewStripeClient creates a new Stripe client with the given API key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

func (c *StripeClient) DeleteCustomer(customerID string) (*stripe.Customer, error) {
	return customer.Del(customerID, nil)
}

func (c *StripeClient) GetCustomer(customerID string) (*stripe.Customer, error) {
	return customer.Get(customerID, nil)
}

// IsNotFound reports whether err is Stripe's missing-resource error.
func IsNotFound(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == 404 || stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
