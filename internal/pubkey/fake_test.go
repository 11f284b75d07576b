package pubkey

import (
	"gopkg.in/mgo.v2/bson"

	"github.com/keygrove/keyserver/internal/mail"
	"github.com/keygrove/keyserver/internal/pgpkey"
)

// fakeStore is an in-memory Store that interprets the filter shapes the
// service issues.
type fakeStore struct {
	keys []*pgpkey.Key
}

func (f *fakeStore) Insert(key *pgpkey.Key) error {
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeStore) FindOne(filter bson.M) (*pgpkey.Key, error) {
	for _, key := range f.keys {
		if matches(key, filter) {
			return key, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Find(filter bson.M) ([]*pgpkey.Key, error) {
	var out []*pgpkey.Key
	for _, key := range f.keys {
		if matches(key, filter) {
			out = append(out, key)
		}
	}
	return out, nil
}

func (f *fakeStore) Count(filter bson.M) (int, error) {
	keys, _ := f.Find(filter)
	return len(keys), nil
}

func (f *fakeStore) UpdateOne(filter, set bson.M) error {
	for _, key := range f.keys {
		if !matches(key, filter) {
			continue
		}
		applySet(key, filter, set)
		return nil
	}
	return nil
}

func (f *fakeStore) ReplaceOne(filter bson.M, key *pgpkey.Key) error {
	for i, existing := range f.keys {
		if matches(existing, filter) {
			f.keys[i] = key
			return nil
		}
	}
	return nil
}

func (f *fakeStore) DeleteMany(filter bson.M) error {
	var remaining []*pgpkey.Key
	for _, key := range f.keys {
		if !matches(key, filter) {
			remaining = append(remaining, key)
		}
	}
	f.keys = remaining
	return nil
}

// matches interprets the query sublanguage the service uses: equality,
// $or, $ne, $in, $elemMatch, and dotted userIds paths.
func matches(key *pgpkey.Key, filter bson.M) bool {
	for field, cond := range filter {
		switch field {
		case "$or":
			any := false
			for _, sub := range cond.([]bson.M) {
				if matches(key, sub) {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		case "keyId":
			if !matchString(key.KeyID, cond) {
				return false
			}
		case "fingerprint":
			if !matchString(key.Fingerprint, cond) {
				return false
			}
		case "userIds.email":
			if !matchAnyUID(key, func(uid *pgpkey.UserID) bool { return matchString(uid.Email, cond) }) {
				return false
			}
		case "userIds.nonce":
			if !matchAnyUID(key, func(uid *pgpkey.UserID) bool { return matchString(uid.Nonce, cond) }) {
				return false
			}
		case "userIds.verified":
			want := cond.(bool)
			if !matchAnyUID(key, func(uid *pgpkey.UserID) bool { return uid.Verified == want }) {
				return false
			}
		case "userIds":
			em := cond.(bson.M)["$elemMatch"].(bson.M)
			ok := matchAnyUID(key, func(uid *pgpkey.UserID) bool {
				if email, present := em["email"]; present && uid.Email != email.(string) {
					return false
				}
				if verified, present := em["verified"]; present && uid.Verified != verified.(bool) {
					return false
				}
				return true
			})
			if !ok {
				return false
			}
		default:
			panic("fakeStore: unsupported filter field " + field)
		}
	}
	return true
}

func matchString(value string, cond interface{}) bool {
	switch c := cond.(type) {
	case string:
		return value == c
	case bson.M:
		if ne, ok := c["$ne"]; ok {
			return value != ne.(string)
		}
		if in, ok := c["$in"]; ok {
			for _, v := range in.([]string) {
				if value == v {
					return true
				}
			}
			return false
		}
	}
	panic("fakeStore: unsupported string condition")
}

func matchAnyUID(key *pgpkey.Key, pred func(*pgpkey.UserID) bool) bool {
	for _, uid := range key.UserIDs {
		if pred(uid) {
			return true
		}
	}
	return false
}

// applySet applies a $set document with positional userIds.$ semantics:
// the addressed element is the one selected by the filter.
func applySet(key *pgpkey.Key, filter, set bson.M) {
	var target *pgpkey.UserID
	if nonce, ok := filter["userIds.nonce"].(string); ok {
		for _, uid := range key.UserIDs {
			if uid.Nonce == nonce {
				target = uid
				break
			}
		}
	}
	if email, ok := filter["userIds.email"].(string); ok {
		for _, uid := range key.UserIDs {
			if uid.Email == email {
				target = uid
				break
			}
		}
	}

	for field, value := range set {
		switch field {
		case "publicKeyArmored":
			key.PublicKeyArmored = stringOrEmpty(value)
		case "verifyUntil":
			key.VerifyUntil = nil
		case "userIds.$.verified":
			target.Verified = value.(bool)
		case "userIds.$.nonce":
			target.Nonce = stringOrEmpty(value)
		case "userIds.$.publicKeyArmored":
			target.PublicKeyArmored = stringOrEmpty(value)
		default:
			panic("fakeStore: unsupported set field " + field)
		}
	}
}

func stringOrEmpty(value interface{}) string {
	if value == nil {
		return ""
	}
	return value.(string)
}

// fakeMailer records dispatched mails.
type sentMail struct {
	template mail.TemplateID
	email    string
	nonce    string
	keyID    string
	armored  string
}

type fakeMailer struct {
	sent []sentMail
}

func (f *fakeMailer) Send(id mail.TemplateID, userID *pgpkey.UserID, keyID string, origin mail.Origin, armoredKey, locale string) error {
	f.sent = append(f.sent, sentMail{
		template: id,
		email:    userID.Email,
		nonce:    userID.Nonce,
		keyID:    keyID,
		armored:  armoredKey,
	})
	return nil
}
