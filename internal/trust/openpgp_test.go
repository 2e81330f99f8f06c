// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

package trust

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

func testSigningKey(t *testing.T, name, comment, email string) (*openpgp.Entity, string) {
	t.Helper()
	entity, err := openpgp.NewEntity(name, comment, email, nil)
	if err != nil {
		t.Fatal(err)
	}

	var armored bytes.Buffer
	w, err := armor.Encode(&armored, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return entity, armored.String()
}

func detachedSignature(t *testing.T, signer *openpgp.Entity, content []byte) []byte {
	t.Helper()
	var sig bytes.Buffer
	if err := openpgp.DetachSign(&sig, signer, bytes.NewReader(content), nil); err != nil {
		t.Fatal(err)
	}
	return sig.Bytes()
}

func TestOpenPGPVerifier_recognized(t *testing.T) {
	signer, armoredKey := testSigningKey(t, "Mona Lisa", "Example Corp", "mona@example.com")
	verifier, err := NewOpenPGPVerifier([]string{armoredKey})
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("the package source archive bytes")
	sig := detachedSignature(t, signer, content)

	entity, err := verifier.Verify(t.Context(), content, sig, SignatureFormatOpenPGP)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !entity.Recognized {
		t.Fatalf("expected recognized entity, got %#v", entity)
	}
	if entity.Name != "Mona Lisa" {
		t.Errorf("wrong name: %q", entity.Name)
	}
	if entity.Organization != "Example Corp" {
		t.Errorf("wrong organization: %q", entity.Organization)
	}
	if entity.Type != string(SignatureFormatOpenPGP) {
		t.Errorf("wrong type: %q", entity.Type)
	}
	if entity.OrganizationalUnit == "" {
		t.Error("expected a key ID in the organizational unit")
	}
}

func TestOpenPGPVerifier_armoredSignature(t *testing.T) {
	signer, armoredKey := testSigningKey(t, "Mona Lisa", "", "mona@example.com")
	verifier, err := NewOpenPGPVerifier([]string{armoredKey})
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("manifest bytes")
	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(content), nil); err != nil {
		t.Fatal(err)
	}

	entity, err := verifier.Verify(t.Context(), content, sig.Bytes(), SignatureFormatOpenPGP)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !entity.Recognized {
		t.Fatalf("expected recognized entity, got %#v", entity)
	}
}

func TestOpenPGPVerifier_unknownIssuer(t *testing.T) {
	_, knownKey := testSigningKey(t, "Mona Lisa", "", "mona@example.com")
	stranger, _ := testSigningKey(t, "Stranger", "", "stranger@example.com")

	verifier, err := NewOpenPGPVerifier([]string{knownKey})
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("content signed by a stranger")
	sig := detachedSignature(t, stranger, content)

	entity, err := verifier.Verify(t.Context(), content, sig, SignatureFormatOpenPGP)
	if err != nil {
		t.Fatalf("an unknown issuer is unrecognized, not an error; got %s", err)
	}
	if entity.Recognized {
		t.Fatalf("expected unrecognized entity, got %#v", entity)
	}
	if !strings.HasPrefix(entity.Name, "key ") {
		t.Errorf("expected the issuer key ID in the name, got %q", entity.Name)
	}
}

func TestOpenPGPVerifier_tamperedContent(t *testing.T) {
	signer, armoredKey := testSigningKey(t, "Mona Lisa", "", "mona@example.com")
	verifier, err := NewOpenPGPVerifier([]string{armoredKey})
	if err != nil {
		t.Fatal(err)
	}

	sig := detachedSignature(t, signer, []byte("original content"))

	_, err = verifier.Verify(t.Context(), []byte("tampered content"), sig, SignatureFormatOpenPGP)
	if err == nil {
		t.Fatal("expected an error for tampered content")
	}
	var invalid ErrInvalidSignature
	var failed ErrFailedToValidateSignature
	if !errors.As(err, &invalid) && !errors.As(err, &failed) {
		t.Fatalf("expected a signature validation error, got %#v", err)
	}
}

func TestOpenPGPVerifier_extractEntity(t *testing.T) {
	signer, armoredKey := testSigningKey(t, "Mona Lisa", "Example Corp", "mona@example.com")
	stranger, _ := testSigningKey(t, "Stranger", "", "stranger@example.com")

	verifier, err := NewOpenPGPVerifier([]string{armoredKey})
	if err != nil {
		t.Fatal(err)
	}

	// Extraction works from the signature alone, without the signed
	// content.
	sig := detachedSignature(t, signer, []byte("some content"))
	entity, err := verifier.ExtractEntity(t.Context(), sig, SignatureFormatOpenPGP)
	if err != nil {
		t.Fatal(err)
	}
	if !entity.Recognized || entity.Name != "Mona Lisa" {
		t.Errorf("wrong entity: %#v", entity)
	}

	strangerSig := detachedSignature(t, stranger, []byte("some content"))
	entity, err = verifier.ExtractEntity(t.Context(), strangerSig, SignatureFormatOpenPGP)
	if err != nil {
		t.Fatal(err)
	}
	if entity.Recognized {
		t.Errorf("stranger should be unrecognized: %#v", entity)
	}

	if _, err := verifier.ExtractEntity(t.Context(), []byte("garbage"), SignatureFormatOpenPGP); err == nil {
		t.Error("expected an error for garbage signature bytes")
	}
}

func TestNewOpenPGPVerifier_badKey(t *testing.T) {
	if _, err := NewOpenPGPVerifier([]string{"not a key"}); err == nil {
		t.Fatal("expected an error for a malformed key")
	}
}
