package pubkey

import (
	"gopkg.in/mgo.v2/bson"

	"github.com/keygrove/keyserver/internal/httperr"
	"github.com/keygrove/keyserver/internal/mail"
	"github.com/keygrove/keyserver/internal/pgpkey"
)

// RequestRemove flags a record for removal and mails a removal challenge.
// With an email, only that user ID is challenged; with a key ID, every
// user ID of the record gets its own challenge.
func (s *Service) RequestRemove(keyID, email string, origin mail.Origin, locale string) error {
	key, err := s.flagForRemove(keyID, email)
	if err != nil {
		return err
	}
	if key == nil {
		return httperr.NotFound("key not found")
	}

	var firstErr error
	for _, uid := range key.UserIDs {
		err := s.mailer.Send(mail.TemplateVerifyRemove, uid, key.KeyID, origin, "", locale)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// flagForRemove stamps removal nonces. Returns nil when nothing matches.
func (s *Service) flagForRemove(keyID, email string) (*pgpkey.Key, error) {
	if email != "" {
		email = pgpkey.NormalizeEmail(email)
		key, err := s.store.FindOne(bson.M{"userIds.email": email})
		if err != nil || key == nil {
			return nil, err
		}
		nonce := newNonce()
		err = s.store.UpdateOne(
			bson.M{"keyId": key.KeyID, "userIds.email": email},
			bson.M{"userIds.$.nonce": nonce},
		)
		if err != nil {
			return nil, err
		}
		for _, uid := range key.UserIDs {
			if uid.Email == email {
				uid.Nonce = nonce
				return &pgpkey.Key{KeyID: key.KeyID, UserIDs: []*pgpkey.UserID{uid}}, nil
			}
		}
		return nil, nil
	}

	if keyID != "" {
		key, err := s.store.FindOne(bson.M{"keyId": keyID})
		if err != nil || key == nil {
			return nil, err
		}
		for _, uid := range key.UserIDs {
			uid.Nonce = newNonce()
		}
		if err := s.store.ReplaceOne(bson.M{"keyId": key.KeyID}, key); err != nil {
			return nil, err
		}
		return key, nil
	}

	return nil, nil
}

// VerifyRemove consumes a removal nonce. The matched user ID leaves the
// record; removing the last user ID deletes the record entirely. Removing
// a verified user ID re-armors the published key without it, or drops the
// record back to pending when it was the only verified one.
func (s *Service) VerifyRemove(keyID, nonce string) (*pgpkey.UserID, error) {
	key, err := s.store.FindOne(bson.M{"keyId": keyID, "userIds.nonce": nonce})
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, httperr.NotFound("removal verification failed: unknown key ID or nonce")
	}

	var rm *pgpkey.UserID
	for _, uid := range key.UserIDs {
		if uid.Nonce == nonce {
			rm = uid
			break
		}
	}
	if rm == nil {
		return nil, httperr.NotFound("removal verification failed: unknown key ID or nonce")
	}

	if len(key.UserIDs) == 1 {
		if err := s.store.DeleteMany(bson.M{"keyId": key.KeyID}); err != nil {
			return nil, err
		}
		s.log.Info().Str("keyId", key.KeyID).Msg("Key record removed")
		return rm, nil
	}

	if rm.Verified {
		verifiedCount := 0
		for _, uid := range key.UserIDs {
			if uid.Verified {
				verifiedCount++
			}
		}
		if verifiedCount >= 2 {
			armored, err := s.codec.RemoveUserID(rm.Email, key.PublicKeyArmored)
			if err != nil {
				return nil, err
			}
			key.PublicKeyArmored = armored
		} else {
			// Last verified user ID gone: the record goes back to
			// pending and expires unless somebody verifies again.
			key.PublicKeyArmored = ""
			verifyUntil := key.Uploaded.AddDate(0, 0, s.opts.PurgeTimeInDays)
			key.VerifyUntil = &verifyUntil
		}
	}

	var remaining []*pgpkey.UserID
	for _, uid := range key.UserIDs {
		if uid != rm {
			remaining = append(remaining, uid)
		}
	}
	key.UserIDs = remaining

	if err := s.store.ReplaceOne(bson.M{"keyId": key.KeyID}, key); err != nil {
		return nil, err
	}
	s.log.Info().Str("keyId", key.KeyID).Msg("User ID removed")
	return rm, nil
}
