// Copyright 2024 The TUF-IPFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License
//
// SPDX-License-Identifier: Apache-2.0
//

package metadata

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"github.com/secure-systems-lab/go-securesystemslib/cjson"
	"github.com/sigstore/sigstore/pkg/signature"
)

// Root returns a new metadata instance of type Root
func Root(expires ...time.Time) *Metadata[RootType] {
	// expire now if there's nothing set
	if len(expires) == 0 {
		expires = []time.Time{time.Now().UTC()}
	}
	// populate Roles
	roles := map[string]*Role{}
	for _, r := range TOP_LEVEL_ROLE_NAMES {
		roles[r] = &Role{
			KeyIDs:    []string{},
			Threshold: 1,
		}
	}
	log.Info("Created metadata", "type", ROOT, "expires", expires[0])
	return &Metadata[RootType]{
		Signed: RootType{
			Type:               ROOT,
			SpecVersion:        SPECIFICATION_VERSION,
			Version:            1,
			Expires:            expires[0],
			Keys:               map[string]*Key{},
			Roles:              roles,
			ConsistentSnapshot: true,
		},
		Signatures: []Signature{},
	}
}

// Snapshot returns a new metadata instance of type Snapshot
func Snapshot(expires ...time.Time) *Metadata[SnapshotType] {
	// expire now if there's nothing set
	if len(expires) == 0 {
		expires = []time.Time{time.Now().UTC()}
	}
	log.Info("Created metadata", "type", SNAPSHOT, "expires", expires[0])
	return &Metadata[SnapshotType]{
		Signed: SnapshotType{
			Type:        SNAPSHOT,
			SpecVersion: SPECIFICATION_VERSION,
			Version:     1,
			Expires:     expires[0],
			Meta: map[string]*MetaFiles{
				fmt.Sprintf("%s.json", TARGETS): {
					Version: 1,
				},
			},
		},
		Signatures: []Signature{},
	}
}

// Timestamp returns a new metadata instance of type Timestamp
func Timestamp(expires ...time.Time) *Metadata[TimestampType] {
	// expire now if there's nothing set
	if len(expires) == 0 {
		expires = []time.Time{time.Now().UTC()}
	}
	log.Info("Created metadata", "type", TIMESTAMP, "expires", expires[0])
	return &Metadata[TimestampType]{
		Signed: TimestampType{
			Type:        TIMESTAMP,
			SpecVersion: SPECIFICATION_VERSION,
			Version:     1,
			Expires:     expires[0],
			Meta: map[string]*MetaFiles{
				fmt.Sprintf("%s.json", SNAPSHOT): {
					Version: 1,
				},
			},
		},
		Signatures: []Signature{},
	}
}

// Targets returns a new metadata instance of type Targets
func Targets(expires ...time.Time) *Metadata[TargetsType] {
	// expire now if there's nothing set
	if len(expires) == 0 {
		expires = []time.Time{time.Now().UTC()}
	}
	log.Info("Created metadata", "type", TARGETS, "expires", expires[0])
	return &Metadata[TargetsType]{
		Signed: TargetsType{
			Type:        TARGETS,
			SpecVersion: SPECIFICATION_VERSION,
			Version:     1,
			Expires:     expires[0],
			Targets:     map[string]*TargetFiles{},
		},
		Signatures: []Signature{},
	}
}

// MetaFile returns a new MetaFiles instance pointing at version
func MetaFile(version int64) *MetaFiles {
	if version < 1 {
		log.Info("Attempting to set incorrect version for MetaFile", "version", version)
		version = 1
	}
	return &MetaFiles{
		Version: version,
	}
}

// ContentAddressedTargetFile returns a TargetFiles record for a target
// whose bytes are retrieved by content address. A zero length means the
// record declares no length.
func ContentAddressedTargetFile(targetPath, contentAddress string, length int64) *TargetFiles {
	return &TargetFiles{
		Length: length,
		Hashes: Hashes{IPFS: contentAddress},
		Path:   targetPath,
	}
}

// TargetFile returns a new TargetFiles instance
func TargetFile() *TargetFiles {
	return &TargetFiles{
		Hashes: Hashes{},
	}
}

// FromBytes generates a TargetFiles record with legacy digests from data
func (t *TargetFiles) FromBytes(localPath string, data []byte, hashes ...string) (*TargetFiles, error) {
	log.Info("Generating target file from bytes", "path", localPath)
	var hasher hash.Hash
	targetFile := &TargetFiles{
		Hashes: Hashes{},
	}
	// use default hash algorithm if not set
	if len(hashes) == 0 {
		hashes = []string{"sha256"}
	}
	targetFile.Length = int64(len(data))
	for _, v := range hashes {
		switch v {
		case "sha256":
			hasher = sha256.New()
		case "sha512":
			hasher = sha512.New()
		default:
			return nil, ErrValue{Msg: fmt.Sprintf("failed generating TargetFile - unsupported hashing algorithm - %s", v)}
		}
		_, err := hasher.Write(data)
		if err != nil {
			return nil, err
		}
		targetFile.Hashes[v] = hex.EncodeToString(hasher.Sum(nil))
	}
	targetFile.Path = localPath
	return targetFile, nil
}

// FromFile loads metadata from file
func (meta *Metadata[T]) FromFile(name string) (*Metadata[T], error) {
	in, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	m, err := fromBytes[T](data)
	if err != nil {
		return nil, err
	}
	*meta = *m
	log.Info("Loaded metadata from file", "name", name)
	return meta, nil
}

// FromBytes deserializes metadata from bytes
func (meta *Metadata[T]) FromBytes(data []byte) (*Metadata[T], error) {
	m, err := fromBytes[T](data)
	if err != nil {
		return nil, err
	}
	*meta = *m
	log.Info("Loaded metadata from bytes")
	return meta, nil
}

// ToBytes serializes metadata to bytes
func (meta *Metadata[T]) ToBytes(pretty bool) ([]byte, error) {
	log.Info("Writing metadata to bytes")
	if pretty {
		return json.MarshalIndent(*meta, "", "\t")
	}
	return json.Marshal(*meta)
}

// ToFile saves metadata to file
func (meta *Metadata[T]) ToFile(name string, pretty bool) error {
	log.Info("Writing metadata to file", "name", name)
	data, err := meta.ToBytes(pretty)
	if err != nil {
		return err
	}
	return os.WriteFile(name, data, 0644)
}

// Sign creates a signature over the canonical bytes of Signed and
// appends it to Signatures
func (meta *Metadata[T]) Sign(signer signature.Signer) (*Signature, error) {
	// encode the Signed part to canonical JSON so signatures are consistent
	payload, err := cjson.EncodeCanonical(meta.Signed)
	if err != nil {
		return nil, err
	}
	sb, err := signer.SignMessage(bytes.NewReader(payload))
	if err != nil {
		return nil, ErrUnsignedMetadata{Msg: "problem signing metadata"}
	}
	publ, err := signer.PublicKey()
	if err != nil {
		return nil, err
	}
	key, err := KeyFromPublicKey(publ)
	if err != nil {
		return nil, err
	}
	sig := &Signature{
		KeyID:     key.ID(),
		Signature: sb,
	}
	meta.Signatures = append(meta.Signatures, *sig)
	log.Info("Signed metadata", "keyID", key.ID())
	return sig, nil
}

// ClearSignatures clears Signatures
func (meta *Metadata[T]) ClearSignatures() {
	log.Info("Cleared signatures")
	meta.Signatures = []Signature{}
}

// VerifyDelegate verifies that delegatedMetadata is signed with the
// required threshold of keys for delegatedRole. Root is the only
// delegator in this client, calling this on any other metadata type
// is an error. Distinct key IDs count once toward the threshold.
func (meta *Metadata[T]) VerifyDelegate(delegatedRole string, delegatedMetadata any) error {
	i := any(meta)
	root, ok := i.(*Metadata[RootType])
	if !ok {
		return ErrType{Msg: "call is valid only on root metadata"}
	}
	log.Info("Verifying", "role", delegatedRole)
	role, ok := root.Signed.Roles[delegatedRole]
	if !ok {
		return ErrValue{Msg: fmt.Sprintf("no delegation found for %s", delegatedRole)}
	}
	if len(role.KeyIDs) == 0 {
		return ErrValue{Msg: fmt.Sprintf("no delegation found for %s", delegatedRole)}
	}
	// collect the signatures and the canonical payload of the delegated metadata
	var signatures []Signature
	var payload []byte
	var err error
	switch d := delegatedMetadata.(type) {
	case *Metadata[RootType]:
		signatures = d.Signatures
		payload, err = cjson.EncodeCanonical(d.Signed)
	case *Metadata[SnapshotType]:
		signatures = d.Signatures
		payload, err = cjson.EncodeCanonical(d.Signed)
	case *Metadata[TimestampType]:
		signatures = d.Signatures
		payload, err = cjson.EncodeCanonical(d.Signed)
	case *Metadata[TargetsType]:
		signatures = d.Signatures
		payload, err = cjson.EncodeCanonical(d.Signed)
	default:
		return ErrType{Msg: "unknown delegated metadata type"}
	}
	if err != nil {
		return err
	}
	// count distinct authorized key IDs with a valid signature over payload
	signingKeys := map[string]bool{}
	for _, keyID := range role.KeyIDs {
		key, ok := root.Signed.Keys[keyID]
		if !ok {
			log.Info("Role lists a key ID root does not carry", "role", delegatedRole, "keyID", keyID)
			continue
		}
		publicKey, err := key.ToPublicKey()
		if err != nil {
			return err
		}
		// use the corresponding hash function for the key type
		hash := crypto.Hash(0)
		if key.Type != KeyTypeEd25519 {
			hash = crypto.SHA256
		}
		verifier, err := signature.LoadVerifier(publicKey, hash)
		if err != nil {
			return err
		}
		sign := Signature{}
		for _, s := range signatures {
			if s.KeyID == keyID {
				sign = s
			}
		}
		if err := verifier.VerifySignature(bytes.NewReader(sign.Signature), bytes.NewReader(payload)); err != nil {
			log.Info("Failed to verify signature", "role", delegatedRole, "keyID", keyID)
		} else {
			signingKeys[keyID] = true
			log.Info("Verified signature", "role", delegatedRole, "keyID", keyID)
		}
	}
	if len(signingKeys) < role.Threshold {
		log.Info("Not enough signatures", "role", delegatedRole, "got", len(signingKeys), "want", role.Threshold)
		return ErrUnsignedMetadata{Msg: fmt.Sprintf("verifying %s failed, not enough signatures, got %d, want %d", delegatedRole, len(signingKeys), role.Threshold)}
	}
	log.Info("Verified successfully", "role", delegatedRole)
	return nil
}

// IsExpired returns true if metadata is expired.
// It checks if referenceTime is after Signed.Expires
func (signed *RootType) IsExpired(referenceTime time.Time) bool {
	return referenceTime.After(signed.Expires)
}

// IsExpired returns true if metadata is expired.
// It checks if referenceTime is after Signed.Expires
func (signed *SnapshotType) IsExpired(referenceTime time.Time) bool {
	return referenceTime.After(signed.Expires)
}

// IsExpired returns true if metadata is expired.
// It checks if referenceTime is after Signed.Expires
func (signed *TimestampType) IsExpired(referenceTime time.Time) bool {
	return referenceTime.After(signed.Expires)
}

// IsExpired returns true if metadata is expired.
// It checks if referenceTime is after Signed.Expires
func (signed *TargetsType) IsExpired(referenceTime time.Time) bool {
	return referenceTime.After(signed.Expires)
}

// VerifyLengthHashes checks whether the MetaFiles data matches its
// corresponding length and hashes
func (f *MetaFiles) VerifyLengthHashes(data []byte) error {
	// hashes and length are optional for MetaFiles
	if len(f.Hashes) > 0 {
		err := verifyHashes(data, f.Hashes)
		if err != nil {
			return err
		}
	}
	if f.Length != 0 {
		err := verifyLength(data, f.Length)
		if err != nil {
			return err
		}
	}
	return nil
}

// VerifyLengthHashes checks whether the TargetFiles data matches its
// declared length and any declared legacy digests. The content address
// entry itself is not recomputed here, the content-addressed transport
// already binds the bytes to the address.
func (f *TargetFiles) VerifyLengthHashes(data []byte) error {
	err := verifyHashes(data, f.Hashes)
	if err != nil {
		return err
	}
	// length is optional for content-addressed targets
	if f.Length != 0 {
		err = verifyLength(data, f.Length)
		if err != nil {
			return err
		}
	}
	return nil
}
