package payments

import (
	"context"
	"errors"
	"math"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// ErrPaymentFailed is surfaced when the charge is declined or otherwise
// does not reach "succeeded". The ride stays completed, not paid, and
// the charge may be retried.
var ErrPaymentFailed = errors.New("payment failed")

// Charger is the narrow payment collaborator contract invoked only for
// the completed -> paid transition.
type Charger interface {
	Charge(ctx context.Context, amount float64, currency, paymentMethodRef string) error
}

// StripeCharger charges through stripe PaymentIntents, converting the
// core's currency-unit amounts into integer minor units at the boundary.
type StripeCharger struct{}

// NewStripeCharger initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeCharger() *StripeCharger {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeCharger{}
}

func (s *StripeCharger) Charge(ctx context.Context, amount float64, currency, paymentMethodRef string) error {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(toMinorUnits(amount)),
		Currency:      stripe.String(currency),
		PaymentMethod: stripe.String(paymentMethodRef),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return errors.Join(ErrPaymentFailed, err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return ErrPaymentFailed
	}
	return nil
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
