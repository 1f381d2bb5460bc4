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

package simulator

// Test utility to simulate a repository and an IPFS gateway.

// RepositorySimulator provides methods to modify repository metadata so that
// it's easy to "publish" new repository versions with modified metadata, while
// serving the versions to client test code.

// RepositorySimulator implements the Fetcher interface so Updaters in tests
// can use it as a way to "download" new metadata and artifacts from remote: in
// practice no downloading, network connections or even file access happens as
// RepositorySimulator serves everything from memory.

// Metadata "hosted" by the simulator is made available in URL paths
// "/metadata/..." and content-addressed artifacts under "/ipfs/<address>",
// mirroring an IPFS HTTP gateway.

// Example::

//     // Initialize repository with top-level metadata
//     sim := simulator.NewRepository()

//     // metadata can be modified directly: it is immediately available to clients
//     sim.MDSnapshot.Signed.Version += 1

//     // As an exception, new root versions require explicit publishing
//     sim.MDRoot.Signed.Version += 1
//     sim.PublishRoot()

//     // there are helper functions
//     sim.AddTarget("file1.txt", []byte("content"), cid)
//     sim.MDTargets.Signed.Version += 1
//     sim.UpdateSnapshot()

import (
	"crypto"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	log "github.com/sirupsen/logrus"

	"github.com/tufipfs/go-tuf-ipfs/metadata"
)

type FTMetadata struct {
	Name  string
	Value int64
}

type FTContent struct {
	Address string
}

// FetchTracker records every metadata and artifact request the
// simulator served, so tests can assert on network behavior
type FetchTracker struct {
	Metadata []FTMetadata
	Content  []FTContent
}

// RepositoryTarget contains actual target data
// and the related target metadata
type RepositoryTarget struct {
	Data       []byte
	TargetFile *metadata.TargetFiles
}

// RepositorySimulator simulates a repository and a gateway that can be
// used for testing
type RepositorySimulator struct {
	SignedRoots                    [][]byte
	Signers                        map[string]map[string]*signature.Signer
	TargetFiles                    map[string]RepositoryTarget
	ContentStore                   map[string][]byte
	ComputeMetafileHashesAndLength bool
	FetchTracker                   FetchTracker
	SafeExpiry                     time.Time
	MDTargets                      *metadata.Metadata[metadata.TargetsType]
	MDSnapshot                     *metadata.Metadata[metadata.SnapshotType]
	MDTimestamp                    *metadata.Metadata[metadata.TimestampType]
	MDRoot                         *metadata.Metadata[metadata.RootType]
	LocalDir                       string
}

// NewRepository initializes a RepositorySimulator with a minimal valid
// repository: all four top-level roles at version 1, one key each
func NewRepository() *RepositorySimulator {
	now := time.Now().UTC()

	rs := RepositorySimulator{
		// Other metadata is signed on-demand (when fetched) but roots must be
		// explicitly published with PublishRoot() which maintains this list
		SignedRoots: [][]byte{},

		// Signers are used on-demand at fetch time to sign metadata
		// keys are roles, values are map of {keyid: signer}
		Signers: make(map[string]map[string]*signature.Signer),

		// Target records looked up by logical path
		TargetFiles: make(map[string]RepositoryTarget),

		// Artifact bytes served by content address, like a gateway would
		ContentStore: make(map[string][]byte),

		// Whether to compute hashes and length for meta in snapshot/timestamp
		ComputeMetafileHashesAndLength: false,

		FetchTracker: FetchTracker{
			Metadata: []FTMetadata{},
			Content:  []FTContent{},
		},

		SafeExpiry: now.Truncate(time.Second).AddDate(0, 0, 30),
	}
	rs.setupMinimalValidRepository()

	return &rs
}

func (rs *RepositorySimulator) setupMinimalValidRepository() {
	rs.MDTargets = metadata.Targets(rs.SafeExpiry)
	rs.MDSnapshot = metadata.Snapshot(rs.SafeExpiry)
	rs.MDTimestamp = metadata.Timestamp(rs.SafeExpiry)
	rs.MDRoot = metadata.Root(rs.SafeExpiry)

	for _, role := range metadata.TOP_LEVEL_ROLE_NAMES {
		publicKey, _, signer := CreateKey()

		mtdkey, err := metadata.KeyFromPublicKey(*publicKey)
		if err != nil {
			log.Fatalf("repository simulator: key conversion failed while setting repository: %v", err)
		}

		err = rs.MDRoot.Signed.AddKey(mtdkey, role)
		if err != nil {
			log.Debugf("repository simulator: failed to add key: %v", err)
		}
		rs.AddSigner(role, mtdkey.ID(), *signer)
	}

	rs.PublishRoot()
}

func (rs *RepositorySimulator) Root() metadata.RootType {
	return rs.MDRoot.Signed
}

func (rs *RepositorySimulator) Timestamp() metadata.TimestampType {
	return rs.MDTimestamp.Signed
}

func (rs *RepositorySimulator) Snapshot() metadata.SnapshotType {
	return rs.MDSnapshot.Signed
}

func (rs *RepositorySimulator) Targets() metadata.TargetsType {
	return rs.MDTargets.Signed
}

func CreateKey() (*ed25519.PublicKey, *ed25519.PrivateKey, *signature.Signer) {
	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		log.Printf("failed to generate key: %v", err)
	}

	signer, err := signature.LoadSigner(private, crypto.Hash(0))
	if err != nil {
		log.Printf("failed to load signer: %v", err)
	}
	return &public, &private, &signer
}

func (rs *RepositorySimulator) AddSigner(role string, keyID string, signer signature.Signer) {
	if _, ok := rs.Signers[role]; !ok {
		rs.Signers[role] = make(map[string]*signature.Signer)
	}
	rs.Signers[role][keyID] = &signer
}

// RotateKeys removes all keys for role, then adds threshold of new keys
func (rs *RepositorySimulator) RotateKeys(role string) {
	rs.MDRoot.Signed.Roles[role].KeyIDs = []string{}
	for k := range rs.Signers[role] {
		delete(rs.Signers[role], k)
	}
	for i := 0; i < rs.MDRoot.Signed.Roles[role].Threshold; i++ {
		publicKey, _, signer := CreateKey()
		mtdkey, err := metadata.KeyFromPublicKey(*publicKey)
		if err != nil {
			log.Fatalf("repository simulator: key conversion failed while rotating keys: %v", err)
		}
		err = rs.MDRoot.Signed.AddKey(mtdkey, role)
		if err != nil {
			log.Debugf("repository simulator: failed to add key: %v", err)
		}
		rs.AddSigner(role, mtdkey.ID(), *signer)
	}
}

// PublishRoot signs and stores a new serialized version of root
func (rs *RepositorySimulator) PublishRoot() {
	rs.MDRoot.ClearSignatures()
	for _, signer := range rs.Signers[metadata.ROOT] {
		_, err := rs.MDRoot.Sign(*signer)
		if err != nil {
			log.Debugf("repository simulator: failed to sign root: %v", err)
		}
	}

	mtd, err := rs.MDRoot.ToBytes(false)
	if err != nil {
		log.Debugf("failed to marshal metadata while publishing root: %v", err)
	}
	rs.SignedRoots = append(rs.SignedRoots, mtd)
	log.Debugf("published root v%d", rs.MDRoot.Signed.Version)
}

// DownloadFile implements the Fetcher interface over in-memory state
func (rs *RepositorySimulator) DownloadFile(urlPath string, maxLength int64, timeout time.Duration) ([]byte, error) {
	data, err := rs.fetch(urlPath)
	if err != nil {
		return data, err
	}
	if int64(len(data)) > maxLength {
		err = metadata.ErrDownloadLengthMismatch{
			Msg: fmt.Sprintf("downloaded %d bytes exceeding the maximum allowed length of %d", len(data), maxLength),
		}
	}
	return data, err
}

func (rs *RepositorySimulator) fetch(urlPath string) ([]byte, error) {
	parsedURL, err := url.Parse(urlPath)
	if err != nil {
		return nil, err
	}
	path := parsedURL.Path
	if strings.HasPrefix(path, "/metadata/") && strings.HasSuffix(path, ".json") {
		verAndName := strings.TrimSuffix(path[len("/metadata/"):], ".json")
		versionStr, role, versioned := strings.Cut(verAndName, ".")
		version := int64(-1)
		if versioned && (role == metadata.ROOT || (rs.MDRoot.Signed.ConsistentSnapshot && role != metadata.TIMESTAMP)) {
			version, err = strconv.ParseInt(versionStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("repository simulator: bad version in %s: %w", path, err)
			}
		} else {
			role = verAndName
		}
		return rs.FetchMetadata(role, version, urlPath)
	} else if strings.HasPrefix(path, "/ipfs/") {
		address := path[len("/ipfs/"):]
		return rs.FetchContent(address, urlPath)
	}
	return nil, metadata.ErrDownloadHTTP{StatusCode: 404, URL: urlPath}
}

// FetchContent returns the artifact bytes stored under a content
// address, the way a gateway serves "/ipfs/<address>"
func (rs *RepositorySimulator) FetchContent(address string, urlPath string) ([]byte, error) {
	rs.FetchTracker.Content = append(rs.FetchTracker.Content, FTContent{Address: address})
	data, ok := rs.ContentStore[address]
	if !ok {
		log.Printf("no content stored for %s", address)
		return nil, metadata.ErrDownloadHTTP{StatusCode: 404, URL: urlPath}
	}
	log.Printf("served content %s", address)
	return data, nil
}

// FetchMetadata returns signed metadata for role, using version if it is
// not -1. Root is served from the published history, everything else is
// signed on demand.
func (rs *RepositorySimulator) FetchMetadata(role string, version int64, urlPath string) ([]byte, error) {
	rs.FetchTracker.Metadata = append(rs.FetchTracker.Metadata, FTMetadata{Name: role, Value: version})
	if role == metadata.ROOT {
		// Return a version previously serialized in PublishRoot()
		if version <= 0 || version > int64(len(rs.SignedRoots)) {
			log.Printf("unknown root version %d", version)
			return []byte{}, metadata.ErrDownloadHTTP{StatusCode: 404, URL: urlPath}
		}
		log.Printf("fetched root version %d", version)
		return rs.SignedRoots[version-1], nil
	}

	// Sign and serialize the requested metadata
	switch role {
	case metadata.TIMESTAMP:
		return signMetadata(role, rs.MDTimestamp, rs)
	case metadata.SNAPSHOT:
		return signMetadata(role, rs.MDSnapshot, rs)
	case metadata.TARGETS:
		return signMetadata(role, rs.MDTargets, rs)
	default:
		log.Printf("unknown role %s", role)
		return []byte{}, metadata.ErrDownloadHTTP{StatusCode: 404, URL: urlPath}
	}
}

func signMetadata[T metadata.Roles](role string, md *metadata.Metadata[T], rs *RepositorySimulator) ([]byte, error) {
	md.ClearSignatures()
	for _, signer := range rs.Signers[role] {
		_, err := md.Sign(*signer)
		if err != nil {
			log.Debugf("repository simulator: failed to sign metadata: %v", err)
		}
	}
	mtd, err := md.ToBytes(false)
	if err != nil {
		log.Printf("failed to marshal metadata while signing for role %s: %v", role, err)
	}
	return mtd, err
}

func (rs *RepositorySimulator) computeHashesAndLength(role string) (metadata.Hashes, int) {
	data, err := rs.FetchMetadata(role, -1, "")
	if err != nil {
		log.Debugf("failed to fetch metadata: %v", err)
	}
	digest := sha256.Sum256(data)
	hashes := metadata.Hashes{"sha256": hex.EncodeToString(digest[:])}
	return hashes, len(data)
}

// UpdateTimestamp updates timestamp and assigns snapshot version
// to snapshot meta version
func (rs *RepositorySimulator) UpdateTimestamp() {
	hashes := metadata.Hashes{}
	length := 0
	if rs.ComputeMetafileHashesAndLength {
		hashes, length = rs.computeHashesAndLength(metadata.SNAPSHOT)
	}
	rs.MDTimestamp.Signed.Meta[fmt.Sprintf("%s.json", metadata.SNAPSHOT)] = &metadata.MetaFiles{
		Length:  int64(length),
		Hashes:  hashes,
		Version: rs.MDSnapshot.Signed.Version,
	}

	rs.MDTimestamp.Signed.Version += 1
}

// UpdateSnapshot updates snapshot, assigns the targets version
// and updates timestamp
func (rs *RepositorySimulator) UpdateSnapshot() {
	hashes := metadata.Hashes{}
	length := 0
	if rs.ComputeMetafileHashesAndLength {
		hashes, length = rs.computeHashesAndLength(metadata.TARGETS)
	}
	rs.MDSnapshot.Signed.Meta[fmt.Sprintf("%s.json", metadata.TARGETS)] = &metadata.MetaFiles{
		Length:  int64(length),
		Hashes:  hashes,
		Version: rs.MDTargets.Signed.Version,
	}
	rs.MDSnapshot.Signed.Version += 1
	rs.UpdateTimestamp()
}

// AddTarget creates a content-addressed target record and stores the
// bytes so the gateway side of the simulator can serve them
func (rs *RepositorySimulator) AddTarget(path string, data []byte, contentAddress string) {
	target := metadata.ContentAddressedTargetFile(path, contentAddress, int64(len(data)))
	rs.MDTargets.Signed.Targets[path] = target
	rs.TargetFiles[path] = RepositoryTarget{
		Data:       data,
		TargetFile: target,
	}
	rs.ContentStore[contentAddress] = data
}

// AddTargetWithDigests is AddTarget but the record also carries legacy
// sha256/sha512 digests next to the content address
func (rs *RepositorySimulator) AddTargetWithDigests(path string, data []byte, contentAddress string, algorithms ...string) {
	target, err := metadata.TargetFile().FromBytes(path, data, algorithms...)
	if err != nil {
		log.Panicf("failed to add target from %s: %v", path, err)
	}
	target.Hashes[metadata.IPFS] = contentAddress
	rs.MDTargets.Signed.Targets[path] = target
	rs.TargetFiles[path] = RepositoryTarget{
		Data:       data,
		TargetFile: target,
	}
	rs.ContentStore[contentAddress] = data
}

// Write dumps current repository metadata to rs.LocalDir/dump

// This is a debugging tool: dumping repository state before running
// Updater refresh may be useful while debugging a test.
func (rs *RepositorySimulator) Write() {
	destDir := filepath.Join(rs.LocalDir, "dump")
	err := os.MkdirAll(destDir, os.ModePerm)
	if err != nil {
		log.Debugf("repository simulator: failed to create dir: %v", err)
	}
	for ver := 1; ver <= len(rs.SignedRoots); ver++ {
		name := filepath.Join(destDir, fmt.Sprintf("%d.%s.json", ver, metadata.ROOT))
		err = os.WriteFile(name, rs.SignedRoots[ver-1], 0644)
		if err != nil {
			log.Debugf("repository simulator: failed to write root dump: %v", err)
		}
	}
	for _, role := range []string{metadata.TIMESTAMP, metadata.SNAPSHOT, metadata.TARGETS} {
		meta, err := rs.FetchMetadata(role, -1, "")
		if err != nil {
			log.Debugf("failed to fetch metadata: %v", err)
		}
		name := filepath.Join(destDir, fmt.Sprintf("%s.json", role))
		err = os.WriteFile(name, meta, 0644)
		if err != nil {
			log.Debugf("repository simulator: failed to write metadata dump: %v", err)
		}
	}
}
