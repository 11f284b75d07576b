// Package pubkey orchestrates key ingestion, verification, and removal.
// It owns the user-ID state machine: a user ID moves from pending (nonce
// set, per-UID armored cache held for encrypted challenges) to verified
// (nonce and cache wiped, armored key published) and can leave through
// authenticated removal.
package pubkey

import (
	"github.com/rs/zerolog"
	"gopkg.in/mgo.v2/bson"

	"github.com/keygrove/keyserver/internal/httperr"
	"github.com/keygrove/keyserver/internal/logging"
	"github.com/keygrove/keyserver/internal/mail"
	"github.com/keygrove/keyserver/internal/pgpkey"
)

// Store is the persistence surface the service needs. Filters use the
// MongoDB query language; "userIds.$" positional assignments address the
// array element selected by the filter.
type Store interface {
	Insert(key *pgpkey.Key) error
	FindOne(filter bson.M) (*pgpkey.Key, error)
	Find(filter bson.M) ([]*pgpkey.Key, error)
	Count(filter bson.M) (int, error)
	UpdateOne(filter, set bson.M) error
	ReplaceOne(filter bson.M, key *pgpkey.Key) error
	DeleteMany(filter bson.M) error
}

// Mailer dispatches a verification challenge for one user ID.
type Mailer interface {
	Send(id mail.TemplateID, userID *pgpkey.UserID, keyID string, origin mail.Origin, armoredKey, locale string) error
}

// Options tune the service behavior.
type Options struct {
	// PurgeTimeInDays is how long an entirely unverified record survives.
	PurgeTimeInDays int
	// UploadRateLimit caps the number of existing records whose user ID
	// emails overlap with an incoming key. 0 disables the check.
	UploadRateLimit int
	// PGPEncryption requires per-UID filtered keys to remain
	// encryption-capable, so challenges can be encrypted to them.
	PGPEncryption bool
}

// Service is a stateless façade over the store, codec, and mailer
// singletons. All key record mutation goes through it.
type Service struct {
	store  Store
	codec  *pgpkey.Codec
	mailer Mailer
	opts   Options
	log    zerolog.Logger
}

// NewService wires the service.
func NewService(store Store, codec *pgpkey.Codec, mailer Mailer, opts Options) *Service {
	return &Service{
		store:  store,
		codec:  codec,
		mailer: mailer,
		opts:   opts,
		log:    logging.WithComponent("pubkey"),
	}
}

// Get returns the sanitized record for a fingerprint, key ID, or email.
// Only records with at least one verified user ID resolve; the projection
// never exposes nonces or per-UID armored caches.
func (s *Service) Get(keyID, fingerprint, email string) (*pgpkey.Key, error) {
	key, err := s.getVerified(keyID, fingerprint, emailList(email))
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, httperr.NotFound("key not found")
	}
	return sanitize(key), nil
}

// getVerified locates a record with at least one verified user ID by any
// of the given identifiers. When several identifiers match different
// records, any matching record is acceptable.
func (s *Service) getVerified(keyID, fingerprint string, emails []string) (*pgpkey.Key, error) {
	var or []bson.M
	if fingerprint != "" {
		or = append(or, bson.M{"fingerprint": fingerprint, "userIds.verified": true})
	}
	if keyID != "" {
		or = append(or, bson.M{"keyId": keyID, "userIds.verified": true})
	}
	for _, email := range emails {
		or = append(or, bson.M{"userIds": bson.M{"$elemMatch": bson.M{
			"email":    pgpkey.NormalizeEmail(email),
			"verified": true,
		}}})
	}
	if len(or) == 0 {
		return nil, httperr.BadRequest("no search parameter given")
	}
	return s.store.FindOne(bson.M{"$or": or})
}

// sanitize strips everything a lookup must not expose.
func sanitize(key *pgpkey.Key) *pgpkey.Key {
	out := &pgpkey.Key{
		KeyID:            key.KeyID,
		Fingerprint:      key.Fingerprint,
		Created:          key.Created,
		Uploaded:         key.Uploaded,
		Algorithm:        key.Algorithm,
		KeySize:          key.KeySize,
		PublicKeyArmored: key.PublicKeyArmored,
	}
	for _, uid := range key.UserIDs {
		out.UserIDs = append(out.UserIDs, &pgpkey.UserID{
			Name:     uid.Name,
			Email:    uid.Email,
			Verified: uid.Verified,
		})
	}
	return out
}

func emailList(email string) []string {
	if email == "" {
		return nil
	}
	return []string{email}
}

func emailsOf(userIDs []*pgpkey.UserID) []string {
	emails := make([]string, 0, len(userIDs))
	for _, uid := range userIDs {
		emails = append(emails, uid.Email)
	}
	return emails
}
