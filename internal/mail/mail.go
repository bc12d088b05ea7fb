// Package mail turns notification events into emails. Rendering is plain
// text; the storefront owns anything prettier.
package mail

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"fablink/internal/deliverycode"
	"fablink/internal/notify"
)

type Sender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSender(host string, port int, user, pass, from string) *Sender {
	return &Sender{
		dialer: gomail.NewDialer(host, port, user, pass),
		from:   from,
	}
}

// Dispatch renders and sends one event. Implements kafka.Dispatcher.
func (s *Sender) Dispatch(ev notify.Event) error {
	subject, body := render(ev)
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", ev.Recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", ev.Recipient, err)
	}
	return nil
}

func render(ev notify.Event) (subject, body string) {
	switch ev.Type {
	case notify.EventOrderCreated:
		subject = fmt.Sprintf("Order %s received", ev.OrderID)
		body = fmt.Sprintf(
			"Thank you for your order %s.\nTotal: %s\nWe will confirm your bank transfer shortly.",
			ev.OrderID, money(ev.Total))
	case notify.EventOrderCreatedAdmin:
		subject = fmt.Sprintf("New order %s", ev.OrderID)
		body = fmt.Sprintf("Order %s was placed. Total: %s.", ev.OrderID, money(ev.Total))
	case notify.EventStatusUpdated:
		subject = fmt.Sprintf("Order %s update", ev.OrderID)
		body = fmt.Sprintf("Your order %s is now %s.", ev.OrderID, ev.Status)
	case notify.EventMakerAssignment:
		subject = fmt.Sprintf("Production assignment for order %s", ev.OrderID)
		body = fmt.Sprintf(
			"Order %s is paid and ready for production.\n\nYour items:\n%sExpected payout: %s\nDelivery code: %s\n",
			ev.OrderID, itemLines(ev), money(ev.Payout), deliverycode.Format(ev.DeliveryCode))
	case notify.EventOrderDelivered:
		subject = fmt.Sprintf("Order %s delivered", ev.OrderID)
		body = fmt.Sprintf("Your order %s has been confirmed as delivered. Enjoy!", ev.OrderID)
	case notify.EventPaymentSettled:
		subject = fmt.Sprintf("Payout for order %s", ev.OrderID)
		body = fmt.Sprintf("Your payout of %s for order %s has been paid out.", money(ev.Amount), ev.OrderID)
	default:
		subject = fmt.Sprintf("FabLink notification for order %s", ev.OrderID)
		body = subject
	}
	return subject, body
}

func itemLines(ev notify.Event) string {
	var out string
	for _, it := range ev.Items {
		out += fmt.Sprintf("  %dx %s (%s, %s)\n", it.Quantity, it.Name, it.Material, it.Color)
	}
	return out
}

func money(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
