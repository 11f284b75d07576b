package storage

import (
	"time"

	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/keygrove/keyserver/internal/httperr"
	"github.com/keygrove/keyserver/internal/pgpkey"
)

// PublicKeyCollection is the collection holding one document per
// fingerprint.
const PublicKeyCollection = "publickey"

// PublicKeys is the key record store backed by the publickey collection.
type PublicKeys struct {
	col *Collection
}

// NewPublicKeys returns the key record store for the given database.
func NewPublicKeys(db *DB) *PublicKeys {
	return &PublicKeys{col: db.C(PublicKeyCollection)}
}

// EnsureIndexes creates the unique indexes on keyId and fingerprint and
// the TTL index that reaps records once verifyUntil has passed.
func (s *PublicKeys) EnsureIndexes() error {
	return s.col.EnsureIndexes([]mgo.Index{
		{Key: []string{"keyId"}, Unique: true},
		{Key: []string{"fingerprint"}, Unique: true},
		{Key: []string{"verifyUntil"}, ExpireAfter: time.Second},
	})
}

// Insert stores a key record. The insert must be acknowledged; mgo runs
// in safe mode, so an unacknowledged write surfaces as an error here.
func (s *PublicKeys) Insert(key *pgpkey.Key) error {
	if key.ID == "" {
		key.ID = bson.NewObjectId()
	}
	if err := s.col.Insert(key); err != nil {
		return httperr.Internal("failed to persist key", err)
	}
	return nil
}

// FindOne returns the first key record matching the filter, or nil when
// nothing matches.
func (s *PublicKeys) FindOne(filter bson.M) (*pgpkey.Key, error) {
	var key pgpkey.Key
	err := s.col.FindOne(filter, &key)
	if err == mgo.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, httperr.Internal("failed to query key", err)
	}
	return &key, nil
}

// Find returns all key records matching the filter.
func (s *PublicKeys) Find(filter bson.M) ([]*pgpkey.Key, error) {
	var keys []*pgpkey.Key
	if err := s.col.Find(filter, &keys); err != nil {
		return nil, httperr.Internal("failed to query keys", err)
	}
	return keys, nil
}

// Count returns the number of key records matching the filter.
func (s *PublicKeys) Count(filter bson.M) (int, error) {
	n, err := s.col.Count(filter)
	if err != nil {
		return 0, httperr.Internal("failed to count keys", err)
	}
	return n, nil
}

// UpdateOne applies a $set document to the first record matching the
// filter, with positional array semantics for "userIds.$...." fields.
func (s *PublicKeys) UpdateOne(filter, set bson.M) error {
	if err := s.col.Update(filter, set); err != nil {
		return httperr.Internal("failed to update key", err)
	}
	return nil
}

// ReplaceOne overwrites the record matching the filter.
func (s *PublicKeys) ReplaceOne(filter bson.M, key *pgpkey.Key) error {
	if err := s.col.ReplaceOne(filter, key); err != nil {
		return httperr.Internal("failed to replace key", err)
	}
	return nil
}

// DeleteMany removes every record matching the filter.
func (s *PublicKeys) DeleteMany(filter bson.M) error {
	if err := s.col.DeleteMany(filter); err != nil {
		return httperr.Internal("failed to delete keys", err)
	}
	return nil
}
