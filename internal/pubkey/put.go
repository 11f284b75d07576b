package pubkey

import (
	"gopkg.in/mgo.v2/bson"

	"github.com/keygrove/keyserver/internal/httperr"
	"github.com/keygrove/keyserver/internal/mail"
	"github.com/keygrove/keyserver/internal/pgpkey"
)

// Put ingests an armored key. The key is parsed and purified, checked
// against the rate limit and key ID collisions, merged with any existing
// verified record for the same key ID, and persisted. A verification mail
// goes out for every user ID that needs one.
func (s *Service) Put(emails []string, armored string, origin mail.Origin, locale string) error {
	for i, email := range emails {
		emails[i] = pgpkey.NormalizeEmail(email)
	}

	key, err := s.codec.Parse(armored)
	if err != nil {
		return err
	}

	if len(emails) > 0 {
		var restricted []*pgpkey.UserID
		for _, uid := range key.UserIDs {
			if containsString(emails, uid.Email) {
				restricted = append(restricted, uid)
			}
		}
		if len(restricted) != len(emails) {
			return httperr.BadRequest("provided email address does not match a valid user ID of the key")
		}
		key.UserIDs = restricted
	}

	if err := s.checkRateLimit(key); err != nil {
		return err
	}
	if err := s.checkCollision(key); err != nil {
		return err
	}

	existing, err := s.getVerified(key.KeyID, "", nil)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := s.mergeIntoVerified(key, existing); err != nil {
			return err
		}
	} else {
		if err := s.prepareUnverified(key); err != nil {
			return err
		}
	}

	// Mails go out before the insert; a partial mail failure is still
	// surfaced after the record is persisted so the client can re-POST
	// the key to regenerate nonces.
	mailErr := s.dispatchVerifyMails(key, origin, locale)

	for _, uid := range key.UserIDs {
		uid.Status = ""
		uid.Notify = false
	}
	if err := s.store.DeleteMany(bson.M{"keyId": key.KeyID}); err != nil {
		return err
	}
	if err := s.store.Insert(key); err != nil {
		return err
	}

	s.log.Info().
		Str("keyId", key.KeyID).
		Str("fingerprint", key.Fingerprint).
		Int("userIds", len(key.UserIDs)).
		Msg("Key record stored")
	return mailErr
}

// checkRateLimit rejects the upload when too many existing records
// already carry any of the incoming key's emails. The historical
// semantics count existing documents, not attempts per time window.
func (s *Service) checkRateLimit(key *pgpkey.Key) error {
	if s.opts.UploadRateLimit == 0 {
		return nil
	}
	n, err := s.store.Count(bson.M{"userIds.email": bson.M{"$in": emailsOf(key.UserIDs)}})
	if err != nil {
		return err
	}
	if n > s.opts.UploadRateLimit {
		return httperr.TooManyRequests("too many key uploads for this email address")
	}
	return nil
}

// checkCollision rejects keys whose key ID or any subkey identifier
// clashes with a different stored key.
func (s *Service) checkCollision(key *pgpkey.Key) error {
	or := []bson.M{
		{"keyId": key.KeyID, "fingerprint": bson.M{"$ne": key.Fingerprint}},
	}
	for _, fp := range key.SubkeyFingerprints {
		or = append(or, bson.M{"fingerprint": fp})
	}
	for _, id := range key.SubkeyIDs {
		or = append(or, bson.M{"keyId": id})
	}
	n, err := s.store.Count(bson.M{"$or": or})
	if err != nil {
		return err
	}
	if n > 0 {
		return httperr.BadRequest("key ID collision")
	}
	return nil
}

// mergeIntoVerified folds the incoming key into an existing record that
// already has verified user IDs. The published armored key is refreshed
// from the verified subset of the merged user IDs; verifyUntil stays
// unset because at least one verified user ID remains.
func (s *Service) mergeIntoVerified(key, existing *pgpkey.Key) error {
	merged, err := s.mergeUsers(existing.UserIDs, key.UserIDs, key.PublicKeyArmored)
	if err != nil {
		return err
	}
	key.UserIDs = merged

	var verifiedEmails []string
	for _, uid := range key.UserIDs {
		if uid.Verified {
			verifiedEmails = append(verifiedEmails, uid.Email)
		}
	}

	// The incoming key may share no user IDs with the verified record. A
	// transferable key cannot be restricted to zero user IDs, so the
	// published material stays as it is in that case; only the pending
	// user IDs change.
	filtered, err := s.codec.FilterByEmails(verifiedEmails, key.PublicKeyArmored, false)
	if err != nil {
		key.PublicKeyArmored = existing.PublicKeyArmored
		key.VerifyUntil = nil
		return nil
	}
	updated, err := s.codec.Merge(existing.PublicKeyArmored, filtered)
	if err != nil {
		return err
	}
	key.PublicKeyArmored = updated
	key.VerifyUntil = nil
	return nil
}

// prepareUnverified sets up a fresh record: only valid user IDs survive,
// each gets the per-UID armored copy its encrypted challenge needs, the
// record-level armored key stays unpublished, and the record expires
// unless somebody verifies.
func (s *Service) prepareUnverified(key *pgpkey.Key) error {
	var valid []*pgpkey.UserID
	for _, uid := range key.UserIDs {
		if uid.Status == pgpkey.StatusValid {
			valid = append(valid, uid)
		}
	}
	if len(valid) == 0 {
		return httperr.BadRequest("invalid key: no valid user ID found")
	}
	for _, uid := range valid {
		armored, err := s.codec.FilterByEmails([]string{uid.Email}, key.PublicKeyArmored, s.opts.PGPEncryption)
		if err != nil {
			return err
		}
		uid.PublicKeyArmored = armored
		uid.Notify = true
	}
	key.UserIDs = valid
	key.PublicKeyArmored = ""
	verifyUntil := key.Uploaded.AddDate(0, 0, s.opts.PurgeTimeInDays)
	key.VerifyUntil = &verifyUntil
	return nil
}

// mergeUsers applies the user-ID merge policy: verified users are always
// retained unchanged, valid incoming users not shadowing a verified email
// become new pending users to challenge, and existing pending users not
// replaced by an incoming one are carried over.
func (s *Service) mergeUsers(existingUsers, newUsers []*pgpkey.UserID, armored string) ([]*pgpkey.UserID, error) {
	var verified []*pgpkey.UserID
	verifiedEmails := map[string]bool{}
	for _, uid := range existingUsers {
		if uid.Verified {
			verified = append(verified, uid)
			verifiedEmails[uid.Email] = true
		}
	}

	var valid []*pgpkey.UserID
	validEmails := map[string]bool{}
	for _, uid := range newUsers {
		if uid.Status == pgpkey.StatusValid && !verifiedEmails[uid.Email] {
			valid = append(valid, uid)
			validEmails[uid.Email] = true
		}
	}

	var pending []*pgpkey.UserID
	for _, uid := range existingUsers {
		if !uid.Verified && !validEmails[uid.Email] {
			pending = append(pending, uid)
		}
	}

	for _, uid := range valid {
		filtered, err := s.codec.FilterByEmails([]string{uid.Email}, armored, s.opts.PGPEncryption)
		if err != nil {
			return nil, err
		}
		uid.PublicKeyArmored = filtered
		uid.Notify = true
	}

	result := make([]*pgpkey.UserID, 0, len(valid)+len(pending)+len(verified))
	result = append(result, valid...)
	result = append(result, pending...)
	result = append(result, verified...)
	return result, nil
}

// dispatchVerifyMails sends a challenge for every user ID flagged for
// notification, assigning a fresh nonce first.
func (s *Service) dispatchVerifyMails(key *pgpkey.Key, origin mail.Origin, locale string) error {
	var firstErr error
	for _, uid := range key.UserIDs {
		if !uid.Notify {
			continue
		}
		uid.Nonce = newNonce()
		err := s.mailer.Send(mail.TemplateVerifyKey, uid, key.KeyID, origin, uid.PublicKeyArmored, locale)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
