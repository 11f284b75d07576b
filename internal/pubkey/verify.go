package pubkey

import (
	"gopkg.in/mgo.v2/bson"

	"github.com/keygrove/keyserver/internal/httperr"
	"github.com/keygrove/keyserver/internal/pgpkey"
)

// Verify consumes a verification nonce. The matching user ID becomes
// verified, its nonce and armored cache are wiped, the merged armored key
// is published on the record, and any other record claiming the same
// email is evicted so each address has at most one verified owner.
func (s *Service) Verify(keyID, nonce string) (string, error) {
	filter := bson.M{"keyId": keyID, "userIds.nonce": nonce}
	key, err := s.store.FindOne(filter)
	if err != nil {
		return "", err
	}
	if key == nil {
		return "", httperr.NotFound("verification failed: unknown key ID or nonce")
	}

	var target *pgpkey.UserID
	for _, uid := range key.UserIDs {
		if uid.Nonce == nonce {
			target = uid
			break
		}
	}
	if target == nil {
		return "", httperr.NotFound("verification failed: unknown key ID or nonce")
	}

	// A freshly proven binding supersedes any stale record holding the
	// same address.
	err = s.store.DeleteMany(bson.M{
		"keyId":         bson.M{"$ne": key.KeyID},
		"userIds.email": target.Email,
	})
	if err != nil {
		return "", err
	}

	armored := target.PublicKeyArmored
	if key.PublicKeyArmored != "" {
		merged, err := s.codec.Merge(key.PublicKeyArmored, target.PublicKeyArmored)
		if err != nil {
			return "", err
		}
		armored = merged
	}

	err = s.store.UpdateOne(filter, bson.M{
		"publicKeyArmored":           armored,
		"userIds.$.verified":         true,
		"userIds.$.nonce":            nil,
		"userIds.$.publicKeyArmored": nil,
		"verifyUntil":                nil,
	})
	if err != nil {
		return "", err
	}

	s.log.Info().
		Str("keyId", key.KeyID).
		Msg("User ID verified")
	return target.Email, nil
}
