package pubkey

import (
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygrove/keyserver/internal/httperr"
	"github.com/keygrove/keyserver/internal/mail"
	"github.com/keygrove/keyserver/internal/pgpkey"
)

const (
	testKeyID       = "4cbd826c39074e38"
	testFingerprint = "3f95169f3ffa7d3f2b476f0c4cbd826c39074e38"
	testEmail       = "no-reply@golang.com"
)

var testOrigin = mail.Origin{Protocol: "https", Host: "keys.example.com"}

func newTestService(t *testing.T, opts Options) (*Service, *fakeStore, *fakeMailer) {
	t.Helper()
	store := &fakeStore{}
	mailer := &fakeMailer{}
	codec := pgpkey.NewCodec(pgpkey.NewPurifier(pgpkey.Bounds{
		MaxNumUserEmail: 20,
		MaxNumSubkey:    20,
		MaxNumCert:      10,
		MaxSizeUserID:   1024,
		MaxSizePacket:   8192,
		MaxSizeKey:      32768,
	}))
	return NewService(store, codec, mailer, opts), store, mailer
}

func defaultOpts() Options {
	return Options{PurgeTimeInDays: 14, UploadRateLimit: 10}
}

var nonceRegex = regexp.MustCompile(`^[a-f0-9]{32}$`)

func TestPutNewKey(t *testing.T) {
	svc, store, mailer := newTestService(t, defaultOpts())

	err := svc.Put(nil, testKeyArmored, testOrigin, "en")
	require.NoError(t, err)

	require.Len(t, store.keys, 1)
	key := store.keys[0]
	assert.Equal(t, testKeyID, key.KeyID)
	assert.Equal(t, testFingerprint, key.Fingerprint)
	assert.Empty(t, key.PublicKeyArmored, "armored key must stay unpublished until a user ID is verified")
	require.NotNil(t, key.VerifyUntil)
	assert.WithinDuration(t, key.Uploaded.AddDate(0, 0, 14), *key.VerifyUntil, time.Minute)

	require.Len(t, key.UserIDs, 1)
	uid := key.UserIDs[0]
	assert.Equal(t, testEmail, uid.Email)
	assert.False(t, uid.Verified)
	assert.Regexp(t, nonceRegex, uid.Nonce)
	assert.NotEmpty(t, uid.PublicKeyArmored, "per-UID armored copy is needed for the encrypted challenge")
	assert.Empty(t, uid.Status, "transient status must not survive ingestion")
	assert.False(t, uid.Notify)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, mail.TemplateVerifyKey, mailer.sent[0].template)
	assert.Equal(t, testEmail, mailer.sent[0].email)
	assert.Equal(t, uid.Nonce, mailer.sent[0].nonce)
}

func TestPutEmailRestrictionMismatch(t *testing.T) {
	svc, store, _ := newTestService(t, defaultOpts())

	err := svc.Put([]string{"somebody-else@example.com"}, testKeyArmored, testOrigin, "en")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperr.StatusOf(err))
	assert.Empty(t, store.keys)
}

func TestPutRateLimit(t *testing.T) {
	svc, store, _ := newTestService(t, Options{PurgeTimeInDays: 14, UploadRateLimit: 2})

	for i := 0; i < 3; i++ {
		store.keys = append(store.keys, &pgpkey.Key{
			KeyID:       testKeyID,
			Fingerprint: testFingerprint,
			UserIDs:     []*pgpkey.UserID{{Email: testEmail}},
		})
	}

	err := svc.Put(nil, testKeyArmored, testOrigin, "en")
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, httperr.StatusOf(err))
}

func TestPutRateLimitDisabled(t *testing.T) {
	svc, store, _ := newTestService(t, Options{PurgeTimeInDays: 14, UploadRateLimit: 0})

	for i := 0; i < 3; i++ {
		store.keys = append(store.keys, &pgpkey.Key{
			KeyID:       testKeyID,
			Fingerprint: testFingerprint,
			UserIDs:     []*pgpkey.UserID{{Email: testEmail}},
		})
	}

	err := svc.Put(nil, testKeyArmored, testOrigin, "en")
	require.NoError(t, err)
}

func TestPutKeyIDCollision(t *testing.T) {
	svc, store, _ := newTestService(t, defaultOpts())

	store.keys = append(store.keys, &pgpkey.Key{
		KeyID:       testKeyID,
		Fingerprint: "0000000000000000000000000000000000000000",
		UserIDs:     []*pgpkey.UserID{{Email: "other@example.com"}},
	})

	err := svc.Put(nil, testKeyArmored, testOrigin, "en")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperr.StatusOf(err))
	assert.Contains(t, err.Error(), "collision")
}

func TestPutTwiceKeepsOneRecordAndRotatesNonce(t *testing.T) {
	svc, store, mailer := newTestService(t, defaultOpts())

	require.NoError(t, svc.Put(nil, testKeyArmored, testOrigin, "en"))
	first := store.keys[0].UserIDs[0].Nonce

	require.NoError(t, svc.Put(nil, testKeyArmored, testOrigin, "en"))
	require.Len(t, store.keys, 1)
	second := store.keys[0].UserIDs[0].Nonce

	assert.NotEqual(t, first, second)
	assert.Len(t, mailer.sent, 2)
}

func TestVerify(t *testing.T) {
	svc, store, _ := newTestService(t, defaultOpts())
	require.NoError(t, svc.Put(nil, testKeyArmored, testOrigin, "en"))
	nonce := store.keys[0].UserIDs[0].Nonce

	email, err := svc.Verify(testKeyID, nonce)
	require.NoError(t, err)
	assert.Equal(t, testEmail, email)

	key := store.keys[0]
	uid := key.UserIDs[0]
	assert.True(t, uid.Verified)
	assert.Empty(t, uid.Nonce)
	assert.Empty(t, uid.PublicKeyArmored)
	assert.NotEmpty(t, key.PublicKeyArmored)
	assert.Nil(t, key.VerifyUntil)
}

func TestVerifyUnknownNonce(t *testing.T) {
	svc, _, _ := newTestService(t, defaultOpts())

	_, err := svc.Verify(testKeyID, "00000000000000000000000000000000")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperr.StatusOf(err))
}

func TestVerifyEvictsPreviousOwner(t *testing.T) {
	svc, store, _ := newTestService(t, defaultOpts())

	// A stale record from a previous owner of the same address.
	store.keys = append(store.keys, &pgpkey.Key{
		KeyID:       "1111111111111111",
		Fingerprint: "1111111111111111111111111111111111111111",
		UserIDs:     []*pgpkey.UserID{{Email: testEmail, Verified: true}},
	})

	require.NoError(t, svc.Put(nil, testKeyArmored, testOrigin, "en"))
	var nonce string
	for _, key := range store.keys {
		if key.KeyID == testKeyID {
			nonce = key.UserIDs[0].Nonce
		}
	}

	_, err := svc.Verify(testKeyID, nonce)
	require.NoError(t, err)

	require.Len(t, store.keys, 1)
	assert.Equal(t, testKeyID, store.keys[0].KeyID)
}

func TestGetReturnsSanitizedRecord(t *testing.T) {
	svc, store, _ := newTestService(t, defaultOpts())
	require.NoError(t, svc.Put(nil, testKeyArmored, testOrigin, "en"))
	nonce := store.keys[0].UserIDs[0].Nonce
	_, err := svc.Verify(testKeyID, nonce)
	require.NoError(t, err)

	key, err := svc.Get("", "", testEmail)
	require.NoError(t, err)
	assert.Equal(t, testKeyID, key.KeyID)
	assert.NotEmpty(t, key.PublicKeyArmored)
	require.Len(t, key.UserIDs, 1)
	assert.Empty(t, key.UserIDs[0].Nonce)
	assert.Empty(t, key.UserIDs[0].PublicKeyArmored)
}

func TestGetUnverifiedKeyNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, defaultOpts())
	require.NoError(t, svc.Put(nil, testKeyArmored, testOrigin, "en"))

	_, err := svc.Get("", "", testEmail)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperr.StatusOf(err))
}

func TestRequestRemoveByEmail(t *testing.T) {
	svc, store, mailer := newTestService(t, defaultOpts())
	require.NoError(t, svc.Put(nil, testKeyArmored, testOrigin, "en"))
	mailer.sent = nil

	err := svc.RequestRemove("", testEmail, testOrigin, "en")
	require.NoError(t, err)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, mail.TemplateVerifyRemove, mailer.sent[0].template)
	assert.Regexp(t, nonceRegex, mailer.sent[0].nonce)
	assert.Empty(t, mailer.sent[0].armored, "removal challenges are not encrypted")
	assert.Equal(t, mailer.sent[0].nonce, store.keys[0].UserIDs[0].Nonce)
}

func TestRequestRemoveUnknown(t *testing.T) {
	svc, _, _ := newTestService(t, defaultOpts())

	err := svc.RequestRemove("", "nobody@example.com", testOrigin, "en")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperr.StatusOf(err))
}

func TestVerifyRemoveLastUserIDDeletesRecord(t *testing.T) {
	svc, store, _ := newTestService(t, defaultOpts())
	require.NoError(t, svc.Put(nil, testKeyArmored, testOrigin, "en"))
	require.NoError(t, svc.RequestRemove("", testEmail, testOrigin, "en"))
	nonce := store.keys[0].UserIDs[0].Nonce

	uid, err := svc.VerifyRemove(testKeyID, nonce)
	require.NoError(t, err)
	assert.Equal(t, testEmail, uid.Email)
	assert.Empty(t, store.keys)
}

func TestVerifyRemoveLastVerifiedGoesPending(t *testing.T) {
	svc, store, _ := newTestService(t, defaultOpts())

	uploaded := time.Now().UTC()
	store.keys = append(store.keys, &pgpkey.Key{
		KeyID:            testKeyID,
		Fingerprint:      testFingerprint,
		Uploaded:         uploaded,
		PublicKeyArmored: testKeyArmored,
		UserIDs: []*pgpkey.UserID{
			{Email: testEmail, Verified: true, Nonce: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
			{Email: "pending@example.com", Verified: false},
		},
	})

	uid, err := svc.VerifyRemove(testKeyID, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, testEmail, uid.Email)

	require.Len(t, store.keys, 1)
	key := store.keys[0]
	assert.Empty(t, key.PublicKeyArmored)
	require.NotNil(t, key.VerifyUntil)
	assert.WithinDuration(t, uploaded.AddDate(0, 0, 14), *key.VerifyUntil, time.Minute)
	require.Len(t, key.UserIDs, 1)
	assert.Equal(t, "pending@example.com", key.UserIDs[0].Email)
}

func TestVerifyRemoveUnknownNonce(t *testing.T) {
	svc, _, _ := newTestService(t, defaultOpts())

	_, err := svc.VerifyRemove(testKeyID, "00000000000000000000000000000000")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperr.StatusOf(err))
}
