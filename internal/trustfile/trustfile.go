// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

// Package trustfile persists the trust pipeline's state — pinned checksum
// fingerprints and observed signing entities — in a human-reviewable HCL
// file, so that trust-on-first-use decisions survive across runs.
package trustfile

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/swiftpkg/swiftregistry/internal/addrs"
	"github.com/swiftpkg/swiftregistry/internal/trust"
)

const fileHeader = `# This file tracks the checksums and signing entities observed for package
# registry content. It is maintained automatically; manual edits may cause
# previously downloaded releases to be reported as changed.

`

// Store is a file-backed implementation of both trust.FingerprintStore and
// trust.SigningEntityStore. Every write rewrites the whole file; reads and
// writes are serialized by an internal lock, so a single Store may be shared
// across concurrent operations.
type Store struct {
	path string
	mu   sync.Mutex
}

var (
	_ trust.FingerprintStore   = (*Store)(nil)
	_ trust.SigningEntityStore = (*Store)(nil)
)

// NewStore returns a Store backed by the file at the given path. The file
// need not exist yet; it is created on first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

type fingerprintKey struct {
	pkg         string
	version     string
	kind        trust.FingerprintKind
	registryURL string
}

type entityKey struct {
	pkg     string
	version string
}

type entityRecord struct {
	entity trust.SigningEntity
	origin trust.SigningEntityOrigin
}

type fileData struct {
	fingerprints map[fingerprintKey]string
	entities     map[entityKey]entityRecord
}

func (s *Store) Fingerprint(_ context.Context, pkg addrs.Package, version string, kind trust.FingerprintKind, registryURL string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return "", false, err
	}
	checksum, ok := data.fingerprints[fingerprintKey{pkg.String(), version, kind, registryURL}]
	return checksum, ok, nil
}

func (s *Store) StoreFingerprint(_ context.Context, fp trust.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return err
	}
	data.fingerprints[fingerprintKey{fp.Package.String(), fp.Version, fp.Kind, fp.RegistryURL}] = fp.Checksum
	return s.save(data)
}

func (s *Store) SigningEntity(_ context.Context, pkg addrs.Package, version string) (*trust.SigningEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return nil, err
	}
	if record, ok := data.entities[entityKey{pkg.String(), version}]; ok {
		entity := record.entity
		return &entity, nil
	}
	return nil, nil
}

func (s *Store) PackageSigners(_ context.Context, pkg addrs.Package) (map[string]trust.SigningEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return nil, err
	}
	ret := make(map[string]trust.SigningEntity)
	for key, record := range data.entities {
		if key.pkg == pkg.String() {
			ret[key.version] = record.entity
		}
	}
	return ret, nil
}

func (s *Store) StoreSigningEntity(_ context.Context, pkg addrs.Package, version string, entity trust.SigningEntity, origin trust.SigningEntityOrigin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return err
	}
	data.entities[entityKey{pkg.String(), version}] = entityRecord{entity: entity, origin: origin}
	return s.save(data)
}

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "fingerprint", LabelNames: []string{"package", "version"}},
		{Type: "signing_entity", LabelNames: []string{"package", "version"}},
	},
}

var fingerprintSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "kind", Required: true},
		{Name: "registry", Required: true},
		{Name: "checksum", Required: true},
	},
}

var entitySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "recognized", Required: true},
		{Name: "type"},
		{Name: "name"},
		{Name: "organization"},
		{Name: "organizational_unit"},
		{Name: "email"},
		{Name: "origin", Required: true},
	},
}

func (s *Store) load() (*fileData, error) {
	data := &fileData{
		fingerprints: make(map[fingerprintKey]string),
		entities:     make(map[entityKey]entityRecord),
	}

	src, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trust file %s: %w", s.path, err)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, s.path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse trust file %s: %s", s.path, diags.Error())
	}

	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid trust file %s: %s", s.path, diags.Error())
	}

	for _, block := range content.Blocks {
		pkg, version := block.Labels[0], block.Labels[1]
		switch block.Type {
		case "fingerprint":
			blockContent, diags := block.Body.Content(fingerprintSchema)
			if diags.HasErrors() {
				return nil, fmt.Errorf("invalid fingerprint block in %s: %s", s.path, diags.Error())
			}
			attrs, err := stringAttrs(blockContent.Attributes, "kind", "registry", "checksum")
			if err != nil {
				return nil, fmt.Errorf("invalid fingerprint block in %s: %w", s.path, err)
			}
			key := fingerprintKey{
				pkg:         pkg,
				version:     version,
				kind:        trust.FingerprintKind(attrs["kind"]),
				registryURL: attrs["registry"],
			}
			data.fingerprints[key] = attrs["checksum"]
		case "signing_entity":
			blockContent, diags := block.Body.Content(entitySchema)
			if diags.HasErrors() {
				return nil, fmt.Errorf("invalid signing_entity block in %s: %s", s.path, diags.Error())
			}
			record, err := decodeEntityRecord(blockContent.Attributes)
			if err != nil {
				return nil, fmt.Errorf("invalid signing_entity block in %s: %w", s.path, err)
			}
			data.entities[entityKey{pkg: pkg, version: version}] = record
		}
	}

	return data, nil
}

func stringAttrs(attrs hcl.Attributes, names ...string) (map[string]string, error) {
	ret := make(map[string]string, len(names))
	for _, name := range names {
		attr, ok := attrs[name]
		if !ok {
			continue
		}
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("attribute %q: %s", name, diags.Error())
		}
		if val.Type() != cty.String {
			return nil, fmt.Errorf("attribute %q must be a string", name)
		}
		ret[name] = val.AsString()
	}
	return ret, nil
}

func decodeEntityRecord(attrs hcl.Attributes) (entityRecord, error) {
	var record entityRecord

	recognizedAttr := attrs["recognized"]
	recognizedVal, diags := recognizedAttr.Expr.Value(nil)
	if diags.HasErrors() {
		return record, fmt.Errorf("attribute %q: %s", "recognized", diags.Error())
	}
	if recognizedVal.Type() != cty.Bool {
		return record, fmt.Errorf("attribute %q must be a bool", "recognized")
	}
	record.entity.Recognized = recognizedVal.True()

	strs, err := stringAttrs(attrs, "type", "name", "organization", "organizational_unit", "email", "origin")
	if err != nil {
		return record, err
	}
	record.entity.Type = strs["type"]
	record.entity.Name = strs["name"]
	record.entity.Organization = strs["organization"]
	record.entity.OrganizationalUnit = strs["organizational_unit"]
	record.entity.Email = strs["email"]
	record.origin = trust.SigningEntityOrigin(strs["origin"])

	return record, nil
}

func (s *Store) save(data *fileData) error {
	f := hclwrite.NewEmptyFile()
	root := f.Body()

	fpKeys := make([]fingerprintKey, 0, len(data.fingerprints))
	for key := range data.fingerprints {
		fpKeys = append(fpKeys, key)
	}
	sort.Slice(fpKeys, func(i, j int) bool {
		a, b := fpKeys[i], fpKeys[j]
		if a.pkg != b.pkg {
			return a.pkg < b.pkg
		}
		if a.version != b.version {
			return a.version < b.version
		}
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		return a.registryURL < b.registryURL
	})
	for _, key := range fpKeys {
		block := root.AppendNewBlock("fingerprint", []string{key.pkg, key.version})
		body := block.Body()
		body.SetAttributeValue("kind", cty.StringVal(string(key.kind)))
		body.SetAttributeValue("registry", cty.StringVal(key.registryURL))
		body.SetAttributeValue("checksum", cty.StringVal(data.fingerprints[key]))
		root.AppendNewline()
	}

	entKeys := make([]entityKey, 0, len(data.entities))
	for key := range data.entities {
		entKeys = append(entKeys, key)
	}
	sort.Slice(entKeys, func(i, j int) bool {
		a, b := entKeys[i], entKeys[j]
		if a.pkg != b.pkg {
			return a.pkg < b.pkg
		}
		return a.version < b.version
	})
	for _, key := range entKeys {
		record := data.entities[key]
		block := root.AppendNewBlock("signing_entity", []string{key.pkg, key.version})
		body := block.Body()
		body.SetAttributeValue("recognized", cty.BoolVal(record.entity.Recognized))
		setStringAttrIfSet(body, "type", record.entity.Type)
		setStringAttrIfSet(body, "name", record.entity.Name)
		setStringAttrIfSet(body, "organization", record.entity.Organization)
		setStringAttrIfSet(body, "organizational_unit", record.entity.OrganizationalUnit)
		setStringAttrIfSet(body, "email", record.entity.Email)
		body.SetAttributeValue("origin", cty.StringVal(string(record.origin)))
		root.AppendNewline()
	}

	content := append([]byte(fileHeader), f.Bytes()...)
	if err := os.WriteFile(s.path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write trust file %s: %w", s.path, err)
	}
	return nil
}

func setStringAttrIfSet(body *hclwrite.Body, name, value string) {
	if value != "" {
		body.SetAttributeValue(name, cty.StringVal(value))
	}
}
