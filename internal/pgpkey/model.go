// Package pgpkey parses, validates, and transforms OpenPGP public key
// material for the key server. It wraps ProtonMail/go-crypto and enforces
// the server's abuse-resistance policy before anything reaches storage.
package pgpkey

import (
	"regexp"
	"strings"
	"time"

	"gopkg.in/mgo.v2/bson"
)

// KeyStatus represents the overall state of a primary key
type KeyStatus string

const (
	KeyStatusValid   KeyStatus = "valid"
	KeyStatusRevoked KeyStatus = "revoked"
	KeyStatusExpired KeyStatus = "expired"
	KeyStatusInvalid KeyStatus = "invalid"
)

// UserIDStatus represents the state of a single user ID at parse time
type UserIDStatus string

const (
	StatusValid      UserIDStatus = "valid"
	StatusRevoked    UserIDStatus = "revoked"
	StatusExpired    UserIDStatus = "expired"
	StatusNoSelfCert UserIDStatus = "no_self_cert"
	StatusInvalid    UserIDStatus = "invalid"
)

// Key is the persistent record for one public key, stored in the
// "publickey" collection. One record per fingerprint.
type Key struct {
	ID               bson.ObjectId `bson:"_id,omitempty" json:"-"`
	KeyID            string        `bson:"keyId" json:"keyId"`
	Fingerprint      string        `bson:"fingerprint" json:"fingerprint"`
	Created          time.Time     `bson:"created" json:"created"`
	Uploaded         time.Time     `bson:"uploaded" json:"uploaded"`
	Algorithm        string        `bson:"algorithm" json:"algorithm"`
	KeySize          int           `bson:"keySize" json:"keySize"`
	PublicKeyArmored string        `bson:"publicKeyArmored,omitempty" json:"publicKeyArmored,omitempty"`
	VerifyUntil      *time.Time    `bson:"verifyUntil,omitempty" json:"-"`
	UserIDs          []*UserID     `bson:"userIds" json:"userIds"`

	// Subkey identifiers, used for key ID collision checks. Parse-time
	// only, never persisted.
	SubkeyFingerprints []string `bson:"-" json:"-"`
	SubkeyIDs          []string `bson:"-" json:"-"`
}

// UserID is one user ID bound to a Key. Status and Notify exist only
// between parsing and persistence.
type UserID struct {
	Name             string `bson:"name" json:"name"`
	Email            string `bson:"email" json:"email"`
	Verified         bool   `bson:"verified" json:"verified"`
	Nonce            string `bson:"nonce,omitempty" json:"-"`
	PublicKeyArmored string `bson:"publicKeyArmored,omitempty" json:"-"`

	Status UserIDStatus `bson:"-" json:"-"`
	Notify bool         `bson:"-" json:"-"`
}

// emailRegex matches local@domain.tld with a TLD of at least two characters.
var emailRegex = regexp.MustCompile(`^[+a-zA-Z0-9_.!#$%&'*/=?^` + "`" + `{|}~-]+@([a-zA-Z0-9-]+\.)+[a-zA-Z]{2,63}$`)

// IsEmail reports whether s is a syntactically acceptable email address.
func IsEmail(s string) bool {
	return emailRegex.MatchString(s)
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// uidRegex recovers "Name <email>" user IDs when the library's structured
// fields are missing.
var uidRegex = regexp.MustCompile(`^\s*([^<>]*?)\s*<([^\s<>]+@[^\s<>]+)>\s*$`)

// ParseUserIDString splits a combined "Name <email>" user ID string.
func ParseUserIDString(uid string) (name, email string) {
	if m := uidRegex.FindStringSubmatch(uid); m != nil {
		return m[1], m[2]
	}
	if IsEmail(strings.TrimSpace(uid)) {
		return "", strings.TrimSpace(uid)
	}
	return strings.TrimSpace(uid), ""
}
