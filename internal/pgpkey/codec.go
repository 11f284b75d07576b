package pgpkey

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/rs/zerolog"

	"github.com/keygrove/keyserver/internal/httperr"
	"github.com/keygrove/keyserver/internal/logging"
)

// verifyGrace tolerates keys whose self-signatures are slightly in the
// future relative to the server clock.
const verifyGrace = 24 * time.Hour

// Codec parses untrusted armored key material into Key records and
// transforms armored keys (filter, remove, merge).
type Codec struct {
	purifier *Purifier
	now      func() time.Time
	log      zerolog.Logger
}

// NewCodec creates a Codec. purifier may be nil to disable purification.
func NewCodec(purifier *Purifier) *Codec {
	return &Codec{
		purifier: purifier,
		now:      time.Now,
		log:      logging.WithComponent("pgpkey"),
	}
}

// Parse reads a single armored public key and returns the Key record for
// it. The key is purified, verified at now+24h, and its user IDs are
// enumerated with per-UID status. Fails with a BadRequest error on private
// key material, non-v4 primary keys, and keys without a usable user ID.
func (c *Codec) Parse(armored string) (*Key, error) {
	entity, err := c.readArmored(armored)
	if err != nil {
		return nil, err
	}

	if c.purifier != nil {
		if err := c.purifier.Purify(entity); err != nil {
			return nil, err
		}
	} else if entity.PrimaryKey.Version != 4 {
		return nil, httperr.BadRequest("only v4 keys are accepted")
	}

	now := c.now()
	if status := c.VerifyKey(entity, now.Add(verifyGrace)); status == KeyStatusInvalid {
		return nil, httperr.BadRequest("invalid key: no valid signing or encryption key found")
	}

	userIDs := c.ParseUserIDs(entity, now.Add(verifyGrace))
	if len(userIDs) == 0 {
		return nil, httperr.BadRequest("invalid key: no user ID with an email address found")
	}

	rearmored, err := Armor(entity)
	if err != nil {
		return nil, httperr.Internal("failed to re-armor key", err)
	}

	pk := entity.PrimaryKey
	key := &Key{
		KeyID:            fmt.Sprintf("%016x", pk.KeyId),
		Fingerprint:      fmt.Sprintf("%x", pk.Fingerprint),
		Created:          pk.CreationTime.UTC(),
		Uploaded:         now.UTC(),
		Algorithm:        AlgorithmName(pk.PubKeyAlgo),
		KeySize:          bitLength(pk),
		PublicKeyArmored: rearmored,
		UserIDs:          userIDs,
	}
	for _, sub := range entity.Subkeys {
		key.SubkeyFingerprints = append(key.SubkeyFingerprints, fmt.Sprintf("%x", sub.PublicKey.Fingerprint))
		key.SubkeyIDs = append(key.SubkeyIDs, fmt.Sprintf("%016x", sub.PublicKey.KeyId))
	}

	c.log.Debug().
		Str("keyId", key.KeyID).
		Str("algorithm", key.Algorithm).
		Int("userIds", len(key.UserIDs)).
		Msg("Parsed key")
	return key, nil
}

// VerifyKey classifies the primary key at the given time. A key is
// revoked if any revocation signature verifies, expired if all
// self-signatures are expired, valid if it still carries a usable signing
// or encryption key, and invalid otherwise.
func (c *Codec) VerifyKey(entity *openpgp.Entity, at time.Time) KeyStatus {
	pk := entity.PrimaryKey
	for _, rev := range entity.Revocations {
		if pk.VerifyRevocationSignature(rev) == nil {
			return KeyStatusRevoked
		}
	}

	expired := false
	for _, ident := range entity.Identities {
		sig := ident.SelfSignature
		if sig == nil {
			continue
		}
		if !sig.SigExpired(at) && !pk.KeyExpired(sig, at) {
			expired = false
			break
		}
		expired = true
	}
	if expired {
		return KeyStatusExpired
	}

	if _, ok := entity.SigningKey(at); ok {
		return KeyStatusValid
	}
	if _, ok := entity.EncryptionKey(at); ok {
		return KeyStatusValid
	}
	return KeyStatusInvalid
}

// ParseUserIDs enumerates the entity's user IDs, verifying each
// self-certification at the given time. Entries without an email address
// and entries whose status is invalid are dropped. Emails are lowercased.
func (c *Codec) ParseUserIDs(entity *openpgp.Entity, at time.Time) []*UserID {
	var out []*UserID
	for _, name := range sortedIdentityNames(entity) {
		ident := entity.Identities[name]

		var userName, email string
		if ident.UserId != nil {
			userName = ident.UserId.Name
			email = ident.UserId.Email
		}
		if email == "" {
			// Some keys carry the whole "Name <email>" string in one field.
			userName, email = ParseUserIDString(ident.Name)
		}
		email = NormalizeEmail(email)
		if !IsEmail(email) {
			continue
		}

		status := c.verifyUser(entity, ident, at)
		if status == StatusInvalid {
			continue
		}
		out = append(out, &UserID{
			Name:     strings.TrimSpace(userName),
			Email:    email,
			Verified: false,
			Status:   status,
		})
	}
	return out
}

func (c *Codec) verifyUser(entity *openpgp.Entity, ident *openpgp.Identity, at time.Time) UserIDStatus {
	pk := entity.PrimaryKey
	for _, rev := range ident.Revocations {
		if pk.VerifyUserIdSignature(ident.Name, pk, rev) == nil {
			return StatusRevoked
		}
	}
	sig := ident.SelfSignature
	if sig == nil {
		return StatusNoSelfCert
	}
	if err := pk.VerifyUserIdSignature(ident.Name, pk, sig); err != nil {
		return StatusInvalid
	}
	if sig.SigExpired(at) {
		return StatusExpired
	}
	return StatusValid
}

// FilterByEmails returns the armored form of the key restricted to the
// user IDs whose email is in the given set. With requireEncryption the
// result must still carry an encryption-capable key at the current time.
func (c *Codec) FilterByEmails(emails []string, armored string, requireEncryption bool) (string, error) {
	entity, err := c.readArmored(armored)
	if err != nil {
		return "", err
	}

	keep := make(map[string]bool, len(emails))
	for _, e := range emails {
		keep[NormalizeEmail(e)] = true
	}

	// A transferable key needs at least one user ID; the library cannot
	// read back an identity-less key.
	filtered := make(map[string]*openpgp.Identity)
	for name, ident := range entity.Identities {
		if keep[identityEmail(ident)] {
			filtered[name] = ident
		}
	}
	if len(filtered) == 0 {
		return "", httperr.BadRequest("no matching user ID found in key")
	}
	entity.Identities = filtered

	if requireEncryption {
		if _, ok := entity.EncryptionKey(c.now()); !ok {
			return "", httperr.BadRequest("key does not include an encryption-capable key")
		}
	}
	out, err := Armor(entity)
	if err != nil {
		return "", httperr.Internal("failed to re-armor filtered key", err)
	}
	return out, nil
}

// RemoveUserID returns the armored form of the key without the user ID
// matching the given email.
func (c *Codec) RemoveUserID(email, armored string) (string, error) {
	entity, err := c.readArmored(armored)
	if err != nil {
		return "", err
	}
	email = NormalizeEmail(email)

	removed := false
	for name, ident := range entity.Identities {
		if identityEmail(ident) == email {
			delete(entity.Identities, name)
			removed = true
		}
	}
	if !removed {
		return "", httperr.BadRequest("no matching user ID found in key")
	}
	if len(entity.Identities) == 0 {
		return "", httperr.BadRequest("cannot remove the last user ID")
	}
	out, err := Armor(entity)
	if err != nil {
		return "", httperr.Internal("failed to re-armor key", err)
	}
	return out, nil
}

// Merge merges srcArmored into dstArmored using standard key-update
// semantics: new signatures, subkeys, and user certifications are
// absorbed; conflicting material loses to the destination. Both keys must
// share the same primary fingerprint.
func (c *Codec) Merge(dstArmored, srcArmored string) (string, error) {
	dst, err := c.readArmored(dstArmored)
	if err != nil {
		return "", err
	}
	src, err := c.readArmored(srcArmored)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(dst.PrimaryKey.Fingerprint, src.PrimaryKey.Fingerprint) {
		return "", httperr.BadRequest("cannot merge keys with different fingerprints")
	}

	dst.Revocations = mergeSignatures(dst.Revocations, src.Revocations)
	dst.Signatures = mergeSignatures(dst.Signatures, src.Signatures)

	for name, srcIdent := range src.Identities {
		dstIdent, ok := dst.Identities[name]
		if !ok {
			dst.Identities[name] = srcIdent
			continue
		}
		dstIdent.Signatures = mergeSignatures(dstIdent.Signatures, srcIdent.Signatures)
		dstIdent.Revocations = mergeSignatures(dstIdent.Revocations, srcIdent.Revocations)
		if dstIdent.SelfSignature == nil {
			dstIdent.SelfSignature = srcIdent.SelfSignature
		}
	}

	have := make(map[string]int, len(dst.Subkeys))
	for i, sub := range dst.Subkeys {
		have[string(sub.PublicKey.Fingerprint)] = i
	}
	for _, sub := range src.Subkeys {
		if i, ok := have[string(sub.PublicKey.Fingerprint)]; ok {
			dst.Subkeys[i].Revocations = mergeSignatures(dst.Subkeys[i].Revocations, sub.Revocations)
			continue
		}
		dst.Subkeys = append(dst.Subkeys, sub)
	}

	out, err := Armor(dst)
	if err != nil {
		return "", httperr.Internal("failed to re-armor merged key", err)
	}
	return out, nil
}

// readArmored parses exactly one public key from armored input and
// rejects private key material.
func (c *Codec) readArmored(armoredKey string) (*openpgp.Entity, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return nil, httperr.BadRequest("failed to parse armored key")
	}
	if len(entities) == 0 {
		return nil, httperr.BadRequest("no key found in armored data")
	}
	if len(entities) > 1 {
		return nil, httperr.BadRequest("armored data must contain exactly one key")
	}
	entity := entities[0]
	if entity.PrivateKey != nil {
		return nil, httperr.BadRequest("private key material is not accepted")
	}
	return entity, nil
}

// Armor exports an entity's public part as an ASCII-armored block.
func Armor(entity *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, "PGP PUBLIC KEY BLOCK", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create armor writer: %w", err)
	}
	if err := entity.Serialize(w); err != nil {
		return "", fmt.Errorf("failed to serialize public key: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close armor writer: %w", err)
	}
	return buf.String(), nil
}

// identityEmail resolves the normalized email of an identity, falling
// back to re-parsing the combined user ID string.
func identityEmail(ident *openpgp.Identity) string {
	if ident.UserId != nil && ident.UserId.Email != "" {
		return NormalizeEmail(ident.UserId.Email)
	}
	_, email := ParseUserIDString(ident.Name)
	return NormalizeEmail(email)
}

// sortedIdentityNames gives a stable enumeration order over the
// identity map.
func sortedIdentityNames(entity *openpgp.Entity) []string {
	names := make([]string, 0, len(entity.Identities))
	for name := range entity.Identities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// bitLength returns the bit length of a public key, or 0 when the
// library cannot determine it.
func bitLength(pk *packet.PublicKey) int {
	n, err := pk.BitLength()
	if err != nil {
		return 0
	}
	return int(n)
}

// mergeSignatures appends signatures from src that dst does not already
// carry, comparing serialized forms.
func mergeSignatures(dst, src []*packet.Signature) []*packet.Signature {
	seen := make(map[string]bool, len(dst))
	for _, sig := range dst {
		seen[signatureDigest(sig)] = true
	}
	for _, sig := range src {
		if d := signatureDigest(sig); d != "" && !seen[d] {
			dst = append(dst, sig)
			seen[d] = true
		}
	}
	return dst
}

func signatureDigest(sig *packet.Signature) string {
	var buf bytes.Buffer
	if err := sig.Serialize(&buf); err != nil {
		return ""
	}
	return buf.String()
}
