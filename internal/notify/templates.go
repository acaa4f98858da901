package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/tundeakins/ajopool/internal/db"
	"github.com/tundeakins/ajopool/internal/scheduler"
)

const instantFormat = "Mon, Jan 2 2006 at 3:04 PM MST"

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%s %.2f", currency, float64(cents)/100)
}

// Render produces the channel-appropriate message for a pending reminder.
// The switch over event types is exhaustive; adding a type without a
// template is a compile-time-visible omission here, not a runtime surprise.
func Render(p scheduler.PendingReminder) RenderedMessage {
	amount := formatAmount(p.AmountCents, p.Currency)
	due := p.DueAt.UTC().Format(instantFormat)

	var subject, text string
	switch p.EventType {
	case db.EventPaymentDue:
		subject = fmt.Sprintf("Payment reminder: %s", p.PoolName)
		text = fmt.Sprintf(
			"Hi %s,\n\nYour %s contribution of %s for round %d of %q is due by %s.\n\nPlease make your payment to keep the pool on schedule.",
			p.RecipientName, p.Frequency, amount, p.Round, p.PoolName, due,
		)
	case db.EventPaymentOverdue:
		subject = fmt.Sprintf("Payment overdue: %s", p.PoolName)
		text = fmt.Sprintf(
			"Hi %s,\n\nYour contribution of %s for round %d of %q was due on %s and has not been received.\n\nPlease pay as soon as possible so the round can close.",
			p.RecipientName, amount, p.Round, p.PoolName, due,
		)
	case db.EventPayoutComing:
		subject = fmt.Sprintf("Your payout is coming: %s", p.PoolName)
		text = fmt.Sprintf(
			"Hi %s,\n\nIt's your turn! The round %d payout of %q is scheduled for %s.\n\nFunds will be sent to your registered payout method.",
			p.RecipientName, p.Round, p.PoolName, due,
		)
	case db.EventRoundStart:
		subject = fmt.Sprintf("Round %d has started: %s", p.Round, p.PoolName)
		text = fmt.Sprintf(
			"Hi %s,\n\nRound %d of %q is underway. Contributions of %s are collected %s. You hold position %d in the rotation.",
			p.RecipientName, p.Round, p.PoolName, amount, p.Frequency, p.Position,
		)
	case db.EventAnnouncement:
		subject = fmt.Sprintf("Announcement from %s", p.PoolName)
		text = fmt.Sprintf("Hi %s,\n\nThere is a new announcement in %q.", p.RecipientName, p.PoolName)
	}

	if p.CustomSubject != nil && *p.CustomSubject != "" {
		subject = *p.CustomSubject
	}
	if p.CustomBody != nil && *p.CustomBody != "" {
		text = *p.CustomBody
	}

	return RenderedMessage{
		Channel:   p.Channel,
		To:        addressFor(p),
		UserID:    p.RecipientID,
		PoolID:    p.PoolID,
		EventType: p.EventType,
		Subject:   subject,
		TextBody:  text,
		HTMLBody:  htmlBody(p.Channel, subject, text),
	}
}

func addressFor(p scheduler.PendingReminder) string {
	switch p.Channel {
	case db.ChannelEmail:
		return p.RecipientEmail
	case db.ChannelSMS:
		return p.RecipientPhone
	default:
		return p.RecipientID.String()
	}
}

// htmlBody wraps the plain text for channels with a rich body. Only email
// renders HTML today. Subject and text can carry admin-authored overrides and
// announcement bodies, so both are escaped before interpolation.
func htmlBody(ch db.Channel, subject, text string) string {
	if ch != db.ChannelEmail {
		return ""
	}
	body := strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
	return fmt.Sprintf(
		"<html><body><h2>%s</h2><p>%s</p><p style=\"color:#888;font-size:12px\">Sent by ajopool on %s</p></body></html>",
		html.EscapeString(subject),
		body,
		time.Now().UTC().Format("Jan 2, 2006"),
	)
}
