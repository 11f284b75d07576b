package mail

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keygrove/keyserver/internal/config"
	"github.com/keygrove/keyserver/internal/httperr"
	"github.com/keygrove/keyserver/internal/logging"
	"github.com/keygrove/keyserver/internal/pgpkey"
)

// Mailer renders verification templates, optionally encrypts the body to
// the recipient's key, and submits the result over SMTP.
type Mailer struct {
	cfg       config.Email
	transport *Transport
	log       zerolog.Logger
	now       func() time.Time
}

// NewMailer creates a Mailer using the given transport.
func NewMailer(cfg config.Email, transport *Transport) *Mailer {
	return &Mailer{
		cfg:       cfg,
		transport: transport,
		log:       logging.WithComponent("mail"),
		now:       time.Now,
	}
}

// Send renders the template for the user ID and submits the mail. When
// PGP encryption is enabled and armored key material for the recipient is
// available, the body is encrypted to that key.
func (m *Mailer) Send(id TemplateID, userID *pgpkey.UserID, keyID string, origin Origin, armoredKey, locale string) error {
	subject, body, err := Render(id, userID, keyID, origin, locale)
	if err != nil {
		return httperr.Internal("failed to render mail", err)
	}

	if m.cfg.PGP && armoredKey != "" {
		encrypted, encErr := m.encrypt(body, armoredKey)
		if encErr != nil {
			return httperr.Internal("failed to encrypt mail", encErr)
		}
		body = encrypted
	}

	msg, err := m.compose(subject, body, userID)
	if err != nil {
		return httperr.Internal("failed to compose mail", err)
	}

	sender, err := netmail.ParseAddress(m.cfg.Sender)
	if err != nil {
		return httperr.Internal("invalid sender address", err)
	}
	if err := m.transport.Submit(sender.Address, []string{userID.Email}, bytes.NewReader(msg)); err != nil {
		return httperr.Internal("failed to submit mail", err)
	}

	m.log.Info().
		Str("template", string(id)).
		Str("keyId", keyID).
		Msg("Verification mail sent")
	return nil
}

// encrypt armors the body for the recipient key. The encryption time is
// the key creation time or tomorrow, whichever is later, so the message
// stays valid for keys created in the near future.
func (m *Mailer) encrypt(body, armoredKey string) (string, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return "", fmt.Errorf("failed to parse recipient key: %w", err)
	}
	if len(entities) == 0 {
		return "", fmt.Errorf("no recipient key found")
	}

	date := tomorrow(m.now())
	if created := entities[0].PrimaryKey.CreationTime; created.After(date) {
		date = created
	}
	pconf := &packet.Config{Time: func() time.Time { return date }}

	var buf bytes.Buffer
	armorWriter, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create armor writer: %w", err)
	}
	w, err := openpgp.Encrypt(armorWriter, entities, nil, nil, pconf)
	if err != nil {
		return "", fmt.Errorf("failed to create encryption writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return "", fmt.Errorf("failed to write encrypted body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close encryption writer: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return "", fmt.Errorf("failed to close armor writer: %w", err)
	}
	return buf.String(), nil
}

// compose builds the RFC 5322 message.
func (m *Mailer) compose(subject, body string, userID *pgpkey.UserID) ([]byte, error) {
	sender, err := netmail.ParseAddress(m.cfg.Sender)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", m.cfg.Sender, err)
	}

	var h gomail.Header
	h.SetDate(m.now())
	h.SetAddressList("From", []*gomail.Address{{Name: sender.Name, Address: sender.Address}})
	h.SetAddressList("To", []*gomail.Address{{Name: userID.Name, Address: userID.Email}})
	h.SetSubject(subject)
	h.Set("Message-Id", fmt.Sprintf("<%s@keyserver>", uuid.New().String()))

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("failed to write mail body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}
