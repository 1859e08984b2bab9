// Package mail sends order confirmations.
package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"flowershop/internal/domain"
	"flowershop/internal/logging"
)

// OrderConfirmation renders the subject and plain-text body for o.
func OrderConfirmation(u domain.User, o domain.Order) (string, string) {
	subject := "Your flower order " + shortID(o.ID)
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", firstNonEmpty(u.Name, "there"))
	fmt.Fprintf(&b, "We received your order %s.\n", o.ID)
	fmt.Fprintf(&b, "Delivery: %s, %s (%s)\n", o.DeliveryAddress, o.DeliveryDate, o.DeliverySlot)
	fmt.Fprintf(&b, "Subtotal: %s\n", o.Subtotal.StringFixed(2))
	fmt.Fprintf(&b, "Delivery fee: %s\n", o.DeliveryFee.StringFixed(2))
	if o.Discount.IsPositive() {
		fmt.Fprintf(&b, "Discounts: -%s\n", o.Discount.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: %s\n", o.TotalAmount.StringFixed(2))
	if o.BonusPointsEarned > 0 {
		fmt.Fprintf(&b, "\nYou earned %d bonus points.\n", o.BonusPointsEarned)
	}
	return subject, b.String()
}

type SendGridNotifier struct {
	apiKey string
	from   string
	logger *zap.Logger
}

func NewSendGridNotifier(apiKey, from string, logger *zap.Logger) *SendGridNotifier {
	return &SendGridNotifier{apiKey: apiKey, from: from, logger: logging.OrNop(logger).Named("mail")}
}

func (n *SendGridNotifier) OrderCreated(ctx context.Context, u domain.User, o domain.Order) error {
	if n.apiKey == "" {
		return fmt.Errorf("sendgrid api key is empty")
	}
	if u.Email == "" {
		n.logger.Debug("no email on file, confirmation skipped", zap.String("user_id", u.ID))
		return nil
	}
	subject, body := OrderConfirmation(u, o)
	msg := sgmail.NewSingleEmail(
		sgmail.NewEmail("Flowershop", n.from),
		subject,
		sgmail.NewEmail(u.Name, u.Email),
		body,
		"<pre>"+body+"</pre>",
	)
	resp, err := sendgrid.NewSendClient(n.apiKey).SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", resp.StatusCode, resp.Body)
	}
	n.logger.Info("order confirmation sent", zap.String("order_id", o.ID), zap.Int("status", resp.StatusCode))
	return nil
}

// LogNotifier writes the confirmation to the log instead of sending it.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) OrderCreated(_ context.Context, u domain.User, o domain.Order) error {
	subject, body := OrderConfirmation(u, o)
	logging.OrNop(n.Logger).Info("order confirmation",
		zap.String("to", u.Email),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
