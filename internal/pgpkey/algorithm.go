package pgpkey

import (
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// AlgorithmName returns a human-readable name for a public key algorithm
func AlgorithmName(algo packet.PublicKeyAlgorithm) string {
	switch algo {
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSASignOnly, packet.PubKeyAlgoRSAEncryptOnly:
		return "RSA"
	case packet.PubKeyAlgoDSA:
		return "DSA"
	case packet.PubKeyAlgoElGamal:
		return "ElGamal"
	case packet.PubKeyAlgoECDSA:
		return "ECDSA"
	case packet.PubKeyAlgoEdDSA:
		return "EdDSA"
	case packet.PubKeyAlgoECDH:
		return "ECDH"
	case packet.PubKeyAlgoEd25519:
		return "Ed25519"
	case packet.PubKeyAlgoX25519:
		return "X25519"
	default:
		return fmt.Sprintf("Unknown(%d)", algo)
	}
}

// hkpAlgorithmIDs maps algorithm names to the numeric IDs used in HKP
// machine-readable listings (RFC 4880 §9.1).
var hkpAlgorithmIDs = map[string]int{
	"RSA":     1,
	"ElGamal": 16,
	"DSA":     17,
	"ECDH":    18,
	"ECDSA":   19,
	"EdDSA":   22,
	"Ed25519": 27,
}

// HKPAlgorithmID returns the numeric HKP algorithm ID for an algorithm
// name, falling back to 1 for anything RSA-like and "" otherwise.
func HKPAlgorithmID(name string) string {
	if id, ok := hkpAlgorithmIDs[name]; ok {
		return fmt.Sprintf("%d", id)
	}
	if strings.Contains(strings.ToLower(name), "rsa") {
		return "1"
	}
	return ""
}
