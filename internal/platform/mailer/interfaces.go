package mailer

type Service interface {
	Send(toEmail, toName, subject, text, html string) (string, error)
	SendGuestInvite(email, venueID string) error
}
