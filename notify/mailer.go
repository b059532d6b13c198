package notify

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"rfq-sync/domain"
)

var errMissingRecipient = errors.New("verification e-mail without recipient")

// Verification is the e-mail sent to confirm a new user's address.
type Verification struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
	Code      string
}

// Mailer sends transactional e-mail.
type Mailer interface {
	SendVerification(ctx context.Context, v Verification) error
}

// LogMailer writes verification e-mails to the log instead of sending them.
type LogMailer struct {
	Logger log.FieldLogger
}

func (m LogMailer) SendVerification(_ context.Context, v Verification) error {
	logger := m.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithFields(log.Fields{"user_id": v.UserID, "email": v.Email}).Info("verification e-mail queued")
	return nil
}

// SendVerification handles UserCreated.
func SendVerification(ctx context.Context, mailer Mailer, m domain.UserCreated) error {
	if m.Email == "" {
		return errMissingRecipient
	}
	return mailer.SendVerification(ctx, Verification{
		UserID:    m.UID,
		Email:     m.Email,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Code:      m.EmailVerificationCode,
	})
}
