package mail

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/keygrove/keyserver/internal/config"
	"github.com/keygrove/keyserver/internal/logging"
)

// Transport submits messages over SMTP. It dials per send; the SMTP
// session is short-lived and the server connection is not pooled.
type Transport struct {
	cfg config.Email
	log zerolog.Logger
}

// NewTransport creates an SMTP transport from the email configuration.
func NewTransport(cfg config.Email) *Transport {
	return &Transport{
		cfg: cfg,
		log: logging.WithComponent("smtp"),
	}
}

// Submit connects, authenticates, and hands the message to the server.
// Reply codes beginning with 2 are success; other codes are logged as a
// warning but not treated as an error.
func (t *Transport) Submit(from string, to []string, msg io.Reader) error {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))

	var (
		client *smtp.Client
		err    error
	)
	switch {
	case t.cfg.TLS:
		client, err = smtp.DialTLS(addr, &tls.Config{ServerName: t.cfg.Host})
	case t.cfg.StartTLS:
		client, err = smtp.DialStartTLS(addr, &tls.Config{ServerName: t.cfg.Host})
	default:
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if t.cfg.Auth {
		if err := client.Auth(sasl.NewPlainClient("", t.cfg.User, t.cfg.Pass)); err != nil {
			return fmt.Errorf("failed to authenticate with SMTP server: %w", err)
		}
	}

	if err := client.SendMail(from, to, msg); err != nil {
		if code, ok := smtpReplyCode(err); ok {
			if code >= 200 && code < 300 {
				return nil
			}
			t.log.Warn().Int("code", code).Err(err).Msg("SMTP server replied with non-2xx code")
			return nil
		}
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return client.Quit()
}

// smtpReplyCode extracts the server reply code when the error carries one.
func smtpReplyCode(err error) (int, bool) {
	if serr, ok := err.(*smtp.SMTPError); ok {
		return serr.Code, true
	}
	return 0, false
}

// tomorrow returns the instant 24 hours after now, used to postdate encrypted
// mail for keys created in the near future.
func tomorrow(now time.Time) time.Time {
	return now.Add(24 * time.Hour)
}
