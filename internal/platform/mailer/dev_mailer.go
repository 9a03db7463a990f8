package mailer

import (
	"github.com/atlalli/redemption/pkg/logger"
)

// DevMailer logs instead of sending. Default when EMAIL_DEV_MODE is on.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	logger.Info("[DEV MAIL]",
		"to", toEmail,
		"name", toName,
		"subject", subject,
		"text", text,
	)
	return "dev", nil
}

func (d *DevMailer) SendGuestInvite(email, venueID string) error {
	logger.Info("[DEV MAIL] Guest membership invite",
		"to", email,
		"venue_id", venueID,
	)
	return nil
}

var _ Service = (*DevMailer)(nil)
