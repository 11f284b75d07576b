// Package mail renders and sends verification mails for the key server.
package mail

import (
	"bytes"
	"fmt"
	"text/template"

	"golang.org/x/text/language"

	"github.com/keygrove/keyserver/internal/pgpkey"
)

// TemplateID selects one of the mail templates.
type TemplateID string

const (
	TemplateVerifyKey    TemplateID = "verifyKey"
	TemplateVerifyRemove TemplateID = "verifyRemove"
)

// Origin is the protocol and host of the inbound request, used to compose
// verification and sharing links.
type Origin struct {
	Protocol string
	Host     string
}

// BaseURL returns the origin as a URL prefix without trailing slash.
func (o Origin) BaseURL() string {
	return fmt.Sprintf("%s://%s", o.Protocol, o.Host)
}

type catalog struct {
	verifyKeySubject    string
	verifyKeyText       string
	verifyRemoveSubject string
	verifyRemoveText    string
}

var catalogs = map[language.Tag]catalog{
	language.English: {
		verifyKeySubject: "Verify your email address",
		verifyKeyText: `Hello{{if .Name}} {{.Name}}{{end}},

please click here to verify your email address:

{{.BaseURL}}/api/v1/key?op=verify&keyId={{.KeyID}}&nonce={{.Nonce}}

If you did not upload a key for {{.Email}}, you can ignore this message;
the upload expires on its own.
`,
		verifyRemoveSubject: "Verify the removal of your key",
		verifyRemoveText: `Hello{{if .Name}} {{.Name}}{{end}},

please click here to verify the removal of your key for {{.Email}}:

{{.BaseURL}}/api/v1/key?op=verifyRemove&keyId={{.KeyID}}&nonce={{.Nonce}}

If you did not request removal, you can ignore this message.
`,
	},
	language.German: {
		verifyKeySubject: "Bestätigen Sie Ihre E-Mail-Adresse",
		verifyKeyText: `Hallo{{if .Name}} {{.Name}}{{end}},

bitte klicken Sie hier, um Ihre E-Mail-Adresse zu bestätigen:

{{.BaseURL}}/api/v1/key?op=verify&keyId={{.KeyID}}&nonce={{.Nonce}}

Falls Sie keinen Schlüssel für {{.Email}} hochgeladen haben, können Sie
diese Nachricht ignorieren; der Eintrag verfällt von selbst.
`,
		verifyRemoveSubject: "Bestätigen Sie die Löschung Ihres Schlüssels",
		verifyRemoveText: `Hallo{{if .Name}} {{.Name}}{{end}},

bitte klicken Sie hier, um die Löschung Ihres Schlüssels für {{.Email}}
zu bestätigen:

{{.BaseURL}}/api/v1/key?op=verifyRemove&keyId={{.KeyID}}&nonce={{.Nonce}}

Falls Sie keine Löschung beantragt haben, können Sie diese Nachricht
ignorieren.
`,
	},
}

var supported = []language.Tag{language.English, language.German}

var matcher = language.NewMatcher(supported)

// templateData are the fields available to mail templates.
type templateData struct {
	Name    string
	Email   string
	KeyID   string
	Nonce   string
	BaseURL string
}

// Render produces subject and body for a template in the best matching
// locale.
func Render(id TemplateID, userID *pgpkey.UserID, keyID string, origin Origin, locale string) (subject, body string, err error) {
	_, index := language.MatchStrings(matcher, locale)
	cat := catalogs[supported[index]]

	var text string
	switch id {
	case TemplateVerifyKey:
		subject, text = cat.verifyKeySubject, cat.verifyKeyText
	case TemplateVerifyRemove:
		subject, text = cat.verifyRemoveSubject, cat.verifyRemoveText
	default:
		return "", "", fmt.Errorf("unknown mail template %q", id)
	}

	tpl, err := template.New(string(id)).Parse(text)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse mail template: %w", err)
	}
	var buf bytes.Buffer
	err = tpl.Execute(&buf, templateData{
		Name:    userID.Name,
		Email:   userID.Email,
		KeyID:   keyID,
		Nonce:   userID.Nonce,
		BaseURL: origin.BaseURL(),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to render mail template: %w", err)
	}
	return subject, buf.String(), nil
}
