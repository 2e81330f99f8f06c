// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package trust

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	openpgpErrors "github.com/ProtonMail/go-crypto/openpgp/errors"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

const armorPrefix = "-----BEGIN"

// OpenPGPVerifier verifies OpenPGP detached signatures against a keyring of
// known signing keys. A signature from a key in the keyring yields a
// recognized SigningEntity; a structurally valid signature from any other
// key yields an unrecognized one.
type OpenPGPVerifier struct {
	keyring openpgp.EntityList
}

var _ SignatureVerifier = (*OpenPGPVerifier)(nil)

// NewOpenPGPVerifier builds a verifier from ASCII-armored public keys.
func NewOpenPGPVerifier(armoredKeys []string) (*OpenPGPVerifier, error) {
	var keyring openpgp.EntityList
	for _, key := range armoredKeys {
		entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(key))
		if err != nil {
			return nil, fmt.Errorf("error decoding signing key: %w", err)
		}
		keyring = append(keyring, entities...)
	}
	return &OpenPGPVerifier{keyring: keyring}, nil
}

func (v *OpenPGPVerifier) Verify(_ context.Context, content []byte, signature []byte, _ SignatureFormat) (SigningEntity, error) {
	var entity *openpgp.Entity
	var err error
	if bytes.HasPrefix(bytes.TrimSpace(signature), []byte(armorPrefix)) {
		entity, err = openpgp.CheckArmoredDetachedSignature(v.keyring, bytes.NewReader(content), bytes.NewReader(signature), nil)
	} else {
		entity, err = openpgp.CheckDetachedSignature(v.keyring, bytes.NewReader(content), bytes.NewReader(signature), nil)
	}
	if errors.Is(err, openpgpErrors.ErrUnknownIssuer) {
		// The signature parsed but the signer is not in our keyring. That is
		// an unrecognized entity rather than a verification failure; policy
		// decides what happens to it.
		return SigningEntity{
			Recognized: false,
			Name:       issuerDescription(signature),
		}, nil
	}
	if err != nil {
		var sigErr openpgpErrors.SignatureError
		if errors.As(err, &sigErr) {
			return SigningEntity{}, ErrInvalidSignature{Reason: err.Error()}
		}
		if errors.Is(err, openpgpErrors.ErrKeyExpired) || errors.Is(err, openpgpErrors.ErrSignatureExpired) {
			return SigningEntity{}, ErrInvalidSigningCertificate{Reason: err.Error()}
		}
		return SigningEntity{}, ErrFailedToValidateSignature{Wrapped: err}
	}

	log.Printf("[DEBUG] content signed by %s", entityString(entity))
	return signingEntityFromPGPEntity(entity), nil
}

func signingEntityFromPGPEntity(entity *openpgp.Entity) SigningEntity {
	ret := SigningEntity{
		Recognized: true,
		Type:       string(SignatureFormatOpenPGP),
	}
	if entity.PrimaryKey != nil {
		ret.OrganizationalUnit = entity.PrimaryKey.KeyIdString()
	}
	if ident := entity.PrimaryIdentity(); ident != nil && ident.UserId != nil {
		ret.Name = ident.UserId.Name
		ret.Organization = ident.UserId.Comment
	}
	return ret
}

// ExtractEntity recovers the signer's identity from the signature's issuer
// key ID. A signer whose key is in the keyring is recognized; any other
// signer is unrecognized. The signature is not verified against content.
func (v *OpenPGPVerifier) ExtractEntity(_ context.Context, signature []byte, _ SignatureFormat) (SigningEntity, error) {
	keyID, ok := issuerKeyID(signature)
	if !ok {
		return SigningEntity{}, ErrInvalidSignature{Reason: "signature carries no issuer key ID"}
	}
	for _, key := range v.keyring.KeysById(keyID) {
		if key.Entity != nil {
			return signingEntityFromPGPEntity(key.Entity), nil
		}
	}
	return SigningEntity{
		Recognized: false,
		Name:       fmt.Sprintf("key %016X", keyID),
	}, nil
}

// issuerDescription recovers the issuer key ID from a raw detached signature
// so that unrecognized signers can at least be named in diagnostics.
func issuerDescription(signature []byte) string {
	if keyID, ok := issuerKeyID(signature); ok {
		return fmt.Sprintf("key %016X", keyID)
	}
	return "unknown signer"
}

// issuerKeyID parses the first signature packet of a detached signature, in
// either armored or binary form, and returns its issuer key ID.
func issuerKeyID(signature []byte) (uint64, bool) {
	var reader *packet.Reader
	if bytes.HasPrefix(bytes.TrimSpace(signature), []byte(armorPrefix)) {
		block, err := armor.Decode(bytes.NewReader(signature))
		if err != nil {
			return 0, false
		}
		reader = packet.NewReader(block.Body)
	} else {
		reader = packet.NewReader(bytes.NewReader(signature))
	}
	for {
		p, err := reader.Next()
		if err != nil {
			return 0, false
		}
		if sig, ok := p.(*packet.Signature); ok {
			if sig.IssuerKeyId != nil {
				return *sig.IssuerKeyId, true
			}
			return 0, false
		}
	}
}

// entityString extracts the key ID and identity name(s) from an
// openpgp.Entity for logging.
func entityString(entity *openpgp.Entity) string {
	if entity == nil {
		return ""
	}

	keyID := "n/a"
	if entity.PrimaryKey != nil {
		keyID = entity.PrimaryKey.KeyIdString()
	}

	var names []string
	for _, identity := range entity.Identities {
		names = append(names, identity.Name)
	}

	return fmt.Sprintf("%s %s", keyID, strings.Join(names, ", "))
}
