package document

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/rx-api/internal/config"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
)

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends rendered documents over SMTP.
type Mailer struct {
	sender Sender
	from   string
}

func NewMailer(cfg config.MailConfig) *Mailer {
	return &Mailer{
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func NewMailerWithSender(sender Sender, from string) *Mailer {
	return &Mailer{sender: sender, from: from}
}

// Message composes the mail: the document is both the HTML body and an
// attachment under its own filename.
func (m *Mailer) Message(to, subject string, doc *Document) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", string(doc.Body))
	msg.Attach(doc.Filename,
		gomail.SetHeader(map[string][]string{"Content-Type": {doc.ContentType}}),
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(doc.Body)
			return err
		}),
	)
	return msg
}

func (m *Mailer) Send(ctx context.Context, to string, doc *Document) error {
	if to == "" {
		return apperrors.NewValidation("recipient email is required")
	}
	if doc == nil {
		return apperrors.NewValidation("document is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("Your prescription (%s)", doc.Filename)
	if err := m.sender.DialAndSend(m.Message(to, subject, doc)); err != nil {
		return apperrors.NewInternal(fmt.Errorf("error sending email: %w", err))
	}
	return nil
}
