package pgpkey

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/keygrove/keyserver/internal/httperr"
)

// Bounds holds the purification limits.
type Bounds struct {
	MaxNumUserEmail int
	MaxNumSubkey    int
	MaxNumCert      int
	MaxSizeUserID   int
	MaxSizePacket   int
	MaxSizeKey      int
}

// Purifier enforces the abuse-resistance policy on a parsed key before it
// is allowed anywhere near storage: size caps, signature verification,
// certificate culling, and per-class certificate count limits.
type Purifier struct {
	bounds Bounds
}

// NewPurifier creates a Purifier with the given bounds.
func NewPurifier(bounds Bounds) *Purifier {
	return &Purifier{bounds: bounds}
}

// Purify applies the full policy to the entity in place. The entity is
// mutated; callers must re-serialize it to obtain the cleaned key.
func (p *Purifier) Purify(entity *openpgp.Entity) error {
	if err := p.checkKeyPacket(entity); err != nil {
		return err
	}
	p.checkKeySignatures(entity)
	if err := p.checkUsers(entity); err != nil {
		return err
	}
	if err := p.checkSubkeys(entity); err != nil {
		return err
	}
	p.limitCertificates(entity)
	return p.checkMaxKeySize(entity)
}

func (p *Purifier) checkKeyPacket(entity *openpgp.Entity) error {
	pk := entity.PrimaryKey
	if pk.Version != 4 {
		return httperr.BadRequest("only v4 keys are accepted")
	}
	if packetSize(pk) > p.bounds.MaxSizePacket {
		return httperr.BadRequest("primary key packet exceeds size limit")
	}
	return nil
}

// checkKeySignatures verifies every revocation and direct signature on
// the primary key and drops the ones that fail verification or exceed the
// packet size cap.
func (p *Purifier) checkKeySignatures(entity *openpgp.Entity) {
	pk := entity.PrimaryKey

	var revocations []*packet.Signature
	for _, sig := range entity.Revocations {
		if sigSize(sig) > p.bounds.MaxSizePacket {
			continue
		}
		if pk.VerifyRevocationSignature(sig) == nil {
			revocations = append(revocations, sig)
		}
	}
	entity.Revocations = revocations

	var directs []*packet.Signature
	for _, sig := range entity.Signatures {
		if sigSize(sig) > p.bounds.MaxSizePacket {
			continue
		}
		if pk.VerifyDirectKeySignature(sig) == nil {
			directs = append(directs, sig)
		}
	}
	entity.Signatures = directs
}

// checkUsers drops user IDs without an email address, oversized user ID
// packets, certificates that fail verification, and all third-party
// certifications. Users left with neither a valid self-certification nor
// a revocation are removed entirely.
func (p *Purifier) checkUsers(entity *openpgp.Entity) error {
	pk := entity.PrimaryKey

	for name, ident := range entity.Identities {
		if identityEmail(ident) == "" {
			delete(entity.Identities, name)
			continue
		}
		if ident.UserId != nil && uidSize(ident.UserId) > p.bounds.MaxSizeUserID {
			delete(entity.Identities, name)
			continue
		}

		// Third-party certifications do not verify against the primary
		// key and fall out here along with broken self-certifications.
		var selfCerts []*packet.Signature
		for _, sig := range ident.Signatures {
			if sigSize(sig) > p.bounds.MaxSizePacket {
				continue
			}
			if pk.VerifyUserIdSignature(ident.Name, pk, sig) == nil {
				selfCerts = append(selfCerts, sig)
			}
		}
		ident.Signatures = selfCerts

		var revocations []*packet.Signature
		for _, sig := range ident.Revocations {
			if sigSize(sig) > p.bounds.MaxSizePacket {
				continue
			}
			if pk.VerifyUserIdSignature(ident.Name, pk, sig) == nil {
				revocations = append(revocations, sig)
			}
		}
		ident.Revocations = revocations

		// ident.Signatures also carries the user's revocations; only
		// certifications may stand in as the self-signature.
		var certs []*packet.Signature
		for _, sig := range ident.Signatures {
			if sig.SigType != packet.SigTypeCertificationRevocation {
				certs = append(certs, sig)
			}
		}
		if ident.SelfSignature != nil && pk.VerifyUserIdSignature(ident.Name, pk, ident.SelfSignature) != nil {
			ident.SelfSignature = newestSignature(certs)
		}
		if ident.SelfSignature == nil {
			ident.SelfSignature = newestSignature(certs)
		}

		if ident.SelfSignature == nil && len(ident.Revocations) == 0 {
			delete(entity.Identities, name)
		}
	}

	if len(entity.Identities) == 0 {
		return httperr.BadRequest("invalid key: no valid user ID found")
	}
	if len(entity.Identities) > p.bounds.MaxNumUserEmail {
		return httperr.BadRequest(fmt.Sprintf("too many user IDs: at most %d are accepted", p.bounds.MaxNumUserEmail))
	}
	return nil
}

// checkSubkeys drops oversized subkey packets, binding signatures that
// fail verification, and subkeys left with neither a binding nor a
// revocation signature.
func (p *Purifier) checkSubkeys(entity *openpgp.Entity) error {
	pk := entity.PrimaryKey

	var subkeys []openpgp.Subkey
	for _, sub := range entity.Subkeys {
		if packetSize(sub.PublicKey) > p.bounds.MaxSizePacket {
			continue
		}
		if sub.Sig != nil {
			if sigSize(sub.Sig) > p.bounds.MaxSizePacket || pk.VerifyKeySignature(sub.PublicKey, sub.Sig) != nil {
				sub.Sig = nil
			}
		}
		var revocations []*packet.Signature
		for _, sig := range sub.Revocations {
			if sigSize(sig) > p.bounds.MaxSizePacket {
				continue
			}
			if pk.VerifySubkeyRevocationSignature(sig, sub.PublicKey) == nil {
				revocations = append(revocations, sig)
			}
		}
		sub.Revocations = revocations

		if sub.Sig == nil && len(sub.Revocations) == 0 {
			continue
		}
		subkeys = append(subkeys, sub)
	}
	entity.Subkeys = subkeys

	if len(entity.Subkeys) > p.bounds.MaxNumSubkey {
		return httperr.BadRequest(fmt.Sprintf("too many subkeys: at most %d are accepted", p.bounds.MaxNumSubkey))
	}
	return nil
}

// limitCertificates keeps at most MaxNumCert entries per certificate
// class, ordered so the survivors are the meaningful ones.
func (p *Purifier) limitCertificates(entity *openpgp.Entity) {
	max := p.bounds.MaxNumCert

	// Primary key revocations: oldest hard revocations win.
	entity.Revocations = capSignatures(sortRevocations(entity.Revocations), max)

	// Direct signatures: newest wins.
	entity.Signatures = capSignatures(sortNewestFirst(entity.Signatures), max)

	for _, ident := range entity.Identities {
		// Self-certifications: newest wins.
		ident.Signatures = capSignatures(sortNewestFirst(ident.Signatures), max)
		// User revocations: oldest first.
		ident.Revocations = capSignatures(sortOldestFirst(ident.Revocations), max)
	}

	for i := range entity.Subkeys {
		entity.Subkeys[i].Revocations = capSignatures(sortRevocations(entity.Subkeys[i].Revocations), max)
	}
}

func (p *Purifier) checkMaxKeySize(entity *openpgp.Entity) error {
	var buf bytes.Buffer
	if err := entity.Serialize(&buf); err != nil {
		return httperr.BadRequest("failed to serialize key")
	}
	if buf.Len() > p.bounds.MaxSizeKey {
		return httperr.BadRequest("key exceeds maximum size")
	}
	return nil
}

// IsHardRevocation reports whether a revocation is hard. A revocation is
// soft iff its reason is key-superseded or key-retired.
func IsHardRevocation(sig *packet.Signature) bool {
	if sig.RevocationReason == nil {
		return true
	}
	reason := *sig.RevocationReason
	return reason != packet.KeySuperseded && reason != packet.KeyRetired
}

// sortRevocations orders by (hard first, then oldest first), so the
// oldest hard revocations survive the cap.
func sortRevocations(sigs []*packet.Signature) []*packet.Signature {
	sort.SliceStable(sigs, func(i, j int) bool {
		hi, hj := IsHardRevocation(sigs[i]), IsHardRevocation(sigs[j])
		if hi != hj {
			return hi
		}
		return sigs[i].CreationTime.Before(sigs[j].CreationTime)
	})
	return sigs
}

func sortNewestFirst(sigs []*packet.Signature) []*packet.Signature {
	sort.SliceStable(sigs, func(i, j int) bool {
		return sigs[i].CreationTime.After(sigs[j].CreationTime)
	})
	return sigs
}

func sortOldestFirst(sigs []*packet.Signature) []*packet.Signature {
	sort.SliceStable(sigs, func(i, j int) bool {
		return sigs[i].CreationTime.Before(sigs[j].CreationTime)
	})
	return sigs
}

func capSignatures(sigs []*packet.Signature, max int) []*packet.Signature {
	if max > 0 && len(sigs) > max {
		return sigs[:max]
	}
	return sigs
}

func packetSize(pk *packet.PublicKey) int {
	var buf bytes.Buffer
	if err := pk.Serialize(&buf); err != nil {
		return 0
	}
	return buf.Len()
}

func sigSize(sig *packet.Signature) int {
	var buf bytes.Buffer
	if err := sig.Serialize(&buf); err != nil {
		return 0
	}
	return buf.Len()
}

func uidSize(uid *packet.UserId) int {
	var buf bytes.Buffer
	if err := uid.Serialize(&buf); err != nil {
		return 0
	}
	return buf.Len()
}

// newestSignature picks the most recently created signature, or nil.
func newestSignature(sigs []*packet.Signature) *packet.Signature {
	var newest *packet.Signature
	for _, sig := range sigs {
		if newest == nil || sig.CreationTime.After(newest.CreationTime) {
			newest = sig
		}
	}
	return newest
}
