package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygrove/keyserver/internal/pgpkey"
)

func testUserID() *pgpkey.UserID {
	return &pgpkey.UserID{
		Name:  "Alice Example",
		Email: "alice@example.com",
		Nonce: "0123456789abcdef0123456789abcdef",
	}
}

func TestRenderVerifyKey(t *testing.T) {
	origin := Origin{Protocol: "https", Host: "keys.example.com"}

	subject, body, err := Render(TemplateVerifyKey, testUserID(), "4cbd826c39074e38", origin, "en")
	require.NoError(t, err)

	assert.Equal(t, "Verify your email address", subject)
	assert.Contains(t, body, "Alice Example")
	assert.Contains(t, body,
		"https://keys.example.com/api/v1/key?op=verify&keyId=4cbd826c39074e38&nonce=0123456789abcdef0123456789abcdef")
}

func TestRenderVerifyRemove(t *testing.T) {
	origin := Origin{Protocol: "http", Host: "localhost:8888"}

	subject, body, err := Render(TemplateVerifyRemove, testUserID(), "4cbd826c39074e38", origin, "en")
	require.NoError(t, err)

	assert.Equal(t, "Verify the removal of your key", subject)
	assert.Contains(t, body, "op=verifyRemove")
	assert.Contains(t, body, "alice@example.com")
}

func TestRenderGermanLocale(t *testing.T) {
	origin := Origin{Protocol: "https", Host: "keys.example.com"}

	subject, _, err := Render(TemplateVerifyKey, testUserID(), "4cbd826c39074e38", origin, "de-DE,de;q=0.9")
	require.NoError(t, err)
	assert.Equal(t, "Bestätigen Sie Ihre E-Mail-Adresse", subject)
}

func TestRenderUnknownLocaleFallsBackToEnglish(t *testing.T) {
	origin := Origin{Protocol: "https", Host: "keys.example.com"}

	subject, _, err := Render(TemplateVerifyKey, testUserID(), "4cbd826c39074e38", origin, "fr-FR")
	require.NoError(t, err)
	assert.Equal(t, "Verify your email address", subject)
}

func TestOriginBaseURL(t *testing.T) {
	assert.Equal(t, "https://keys.example.com", Origin{Protocol: "https", Host: "keys.example.com"}.BaseURL())
	assert.Equal(t, "http://localhost:8888", Origin{Protocol: "http", Host: "localhost:8888"}.BaseURL())
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, _, err := Render(TemplateID("bogus"), testUserID(), "x", Origin{}, "en")
	require.Error(t, err)
}
