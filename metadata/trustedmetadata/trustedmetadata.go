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

package trustedmetadata

import (
	"fmt"
	"time"

	"github.com/tufipfs/go-tuf-ipfs/metadata"
)

// TrustedMetadata is the collection of currently trusted metadata. Each
// Update* method verifies a candidate document against the trusted state
// and either adopts it whole or leaves the prior document in force,
// there is no partial adoption.
type TrustedMetadata struct {
	Root      *metadata.Metadata[metadata.RootType]
	Snapshot  *metadata.Metadata[metadata.SnapshotType]
	Timestamp *metadata.Metadata[metadata.TimestampType]
	Targets   *metadata.Metadata[metadata.TargetsType]
	RefTime   time.Time
}

// New creates a new TrustedMetadata instance which ensures that the
// collection of metadata in it is valid and trusted through the whole
// client update workflow. It provides easy ways to update the metadata
// with the caller making decisions on what is updated.
func New(rootData []byte) (*TrustedMetadata, error) {
	res := &TrustedMetadata{
		RefTime: time.Now().UTC(),
	}
	// load and validate the local root metadata.
	// Valid initial trusted root metadata is required
	err := res.loadTrustedRoot(rootData)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// loadTrustedRoot verifies and loads “rootData“ as trusted root metadata.
// Note that an expired initial root is considered valid: expiry is
// only checked for the final root in “UpdateTimestamp()“.
func (trusted *TrustedMetadata) loadTrustedRoot(rootData []byte) error {
	log := metadata.GetLogger()

	newRoot, err := metadata.Root().FromBytes(rootData)
	if err != nil {
		return err
	}
	if newRoot.Signed.Type != metadata.ROOT {
		return metadata.ErrRepository{Msg: fmt.Sprintf("expected %s, got %s", metadata.ROOT, newRoot.Signed.Type)}
	}
	// verify root by itself
	err = newRoot.VerifyDelegate(metadata.ROOT, newRoot)
	if err != nil {
		return err
	}
	// save root if verified
	trusted.Root = newRoot
	log.Info("Loaded trusted root", "version", trusted.Root.Signed.Version)
	return nil
}

// UpdateRoot verifies and loads “rootData“ as new root metadata.
// The new root must be signed by a threshold of the currently trusted
// root's keys AND by a threshold of its own keys, and its version must
// be exactly one above the trusted version: root history is walked
// one version at a time, never skipped.
// Note that an expired intermediate root is considered valid: expiry is
// only checked for the final root in “UpdateTimestamp()“.
func (trusted *TrustedMetadata) UpdateRoot(rootData []byte) (*metadata.Metadata[metadata.RootType], error) {
	log := metadata.GetLogger()

	if trusted.Timestamp != nil {
		return nil, metadata.ErrRuntime{Msg: "cannot update root after timestamp"}
	}
	log.Info("Updating root")
	newRoot, err := metadata.Root().FromBytes(rootData)
	if err != nil {
		return nil, err
	}
	if newRoot.Signed.Type != metadata.ROOT {
		return nil, metadata.ErrRepository{Msg: fmt.Sprintf("expected %s, got %s", metadata.ROOT, newRoot.Signed.Type)}
	}
	// verify that new root is signed by trusted root (rotation proof)
	err = trusted.Root.VerifyDelegate(metadata.ROOT, newRoot)
	if err != nil {
		return nil, err
	}
	// verify version
	if newRoot.Signed.Version != trusted.Root.Signed.Version+1 {
		return nil, metadata.ErrBadVersionNumber{Msg: fmt.Sprintf("bad version number, expected %d, got %d", trusted.Root.Signed.Version+1, newRoot.Signed.Version)}
	}
	// verify that new root is signed by itself (self-consistency)
	err = newRoot.VerifyDelegate(metadata.ROOT, newRoot)
	if err != nil {
		return nil, err
	}
	// save root if verified
	trusted.Root = newRoot
	log.Info("Updated root", "version", trusted.Root.Signed.Version)
	return trusted.Root, nil
}

// UpdateTimestamp verifies and loads “timestampData“ as new timestamp metadata.
// A refetched timestamp with a version equal to the trusted one is loaded
// but reported as “metadata.ErrEqualVersionNumber“: callers treat that as a
// no-op, not a failure. Note that an intermediate timestamp is allowed to be
// expired; “TrustedMetadata“ will error in this case but the intermediate
// timestamp will still be used for rollback protection. An expired timestamp
// will prevent loading snapshot metadata.
func (trusted *TrustedMetadata) UpdateTimestamp(timestampData []byte) (*metadata.Metadata[metadata.TimestampType], error) {
	log := metadata.GetLogger()

	if trusted.Snapshot != nil {
		return nil, metadata.ErrRuntime{Msg: "cannot update timestamp after snapshot"}
	}
	// make sure the final root is not expired; an expired final root
	// blocks all further trust extension
	if trusted.Root.Signed.IsExpired(trusted.RefTime) {
		return nil, metadata.ErrExpiredMetadata{Msg: "final root.json is expired"}
	}
	log.Info("Updating timestamp")
	newTimestamp, err := metadata.Timestamp().FromBytes(timestampData)
	if err != nil {
		return nil, err
	}
	if newTimestamp.Signed.Type != metadata.TIMESTAMP {
		return nil, metadata.ErrRepository{Msg: fmt.Sprintf("expected %s, got %s", metadata.TIMESTAMP, newTimestamp.Signed.Type)}
	}
	// verify that new timestamp is signed by trusted root
	err = trusted.Root.VerifyDelegate(metadata.TIMESTAMP, newTimestamp)
	if err != nil {
		return nil, err
	}
	// the snapshot meta entry is mandatory, a timestamp without it can
	// never extend trust and must not be adopted
	newSnapshotMeta := newTimestamp.Signed.Meta[fmt.Sprintf("%s.json", metadata.SNAPSHOT)]
	if newSnapshotMeta == nil {
		return nil, metadata.ErrRepository{Msg: "timestamp does not contain information for snapshot"}
	}
	// if an existing trusted timestamp is updated,
	// check for rollback attacks
	if trusted.Timestamp != nil {
		// prevent rolling back timestamp version
		if newTimestamp.Signed.Version < trusted.Timestamp.Signed.Version {
			return nil, metadata.ErrRollback{Msg: fmt.Sprintf("new timestamp version %d must be >= %d", newTimestamp.Signed.Version, trusted.Timestamp.Signed.Version)}
		}
		// keep using old timestamp if versions are equal
		if newTimestamp.Signed.Version == trusted.Timestamp.Signed.Version {
			return nil, metadata.ErrEqualVersionNumber{Msg: fmt.Sprintf("new timestamp version %d equals the old one %d", newTimestamp.Signed.Version, trusted.Timestamp.Signed.Version)}
		}
		// prevent rolling back the snapshot version it references; the
		// trusted entry is always present, adoption enforces it above
		snapshotMeta := trusted.Timestamp.Signed.Meta[fmt.Sprintf("%s.json", metadata.SNAPSHOT)]
		if newSnapshotMeta.Version < snapshotMeta.Version {
			return nil, metadata.ErrRollback{Msg: fmt.Sprintf("new snapshot version %d must be >= %d", newSnapshotMeta.Version, snapshotMeta.Version)}
		}
	}
	// expiry not checked to allow old timestamp to be used for rollback
	// protection of new timestamp: expiry is checked in UpdateSnapshot()
	trusted.Timestamp = newTimestamp
	log.Info("Updated timestamp", "version", trusted.Timestamp.Signed.Version)

	// timestamp is loaded: error if it is not a valid _final_ timestamp
	err = trusted.checkFinalTimestamp()
	if err != nil {
		// return the new timestamp but also the error if it's expired
		return trusted.Timestamp, err
	}
	return trusted.Timestamp, nil
}

// checkFinalTimestamp verifies if the trusted timestamp is not expired
func (trusted *TrustedMetadata) checkFinalTimestamp() error {
	if trusted.Timestamp.Signed.IsExpired(trusted.RefTime) {
		return metadata.ErrExpiredMetadata{Msg: "timestamp.json is expired"}
	}
	return nil
}

// UpdateSnapshot verifies and loads “snapshotData“ as new snapshot metadata.
// “isTrusted“ says whether the data comes from the local cache, in which
// case its length/hashes have been verified against the timestamp once
// already. Note that an intermediate snapshot is allowed to be expired and
// its version is allowed to not match the timestamp meta version:
// “TrustedMetadata“ will error in those cases but the intermediate snapshot
// will still be used for rollback protection. Either condition will prevent
// loading targets.
func (trusted *TrustedMetadata) UpdateSnapshot(snapshotData []byte, isTrusted bool) (*metadata.Metadata[metadata.SnapshotType], error) {
	log := metadata.GetLogger()

	if trusted.Timestamp == nil {
		return nil, metadata.ErrRuntime{Msg: "cannot update snapshot before timestamp"}
	}
	if trusted.Targets != nil {
		return nil, metadata.ErrRuntime{Msg: "cannot update snapshot after targets"}
	}
	log.Info("Updating snapshot")

	// snapshot cannot be loaded if final timestamp is expired
	err := trusted.checkFinalTimestamp()
	if err != nil {
		return nil, err
	}
	snapshotMeta := trusted.Timestamp.Signed.Meta[fmt.Sprintf("%s.json", metadata.SNAPSHOT)]
	if snapshotMeta == nil {
		return nil, metadata.ErrRepository{Msg: "timestamp does not contain information for snapshot"}
	}
	// verify non-trusted data against the hashes in timestamp, if any.
	// trusted snapshot data has already been verified once.
	if !isTrusted {
		err = snapshotMeta.VerifyLengthHashes(snapshotData)
		if err != nil {
			return nil, err
		}
	}
	newSnapshot, err := metadata.Snapshot().FromBytes(snapshotData)
	if err != nil {
		return nil, err
	}
	if newSnapshot.Signed.Type != metadata.SNAPSHOT {
		return nil, metadata.ErrRepository{Msg: fmt.Sprintf("expected %s, got %s", metadata.SNAPSHOT, newSnapshot.Signed.Type)}
	}
	// verify that new snapshot is signed by trusted root
	err = trusted.Root.VerifyDelegate(metadata.SNAPSHOT, newSnapshot)
	if err != nil {
		return nil, err
	}

	// version not checked against meta version to allow old snapshot to be
	// used in rollback protection: it is checked when targets is updated

	// if an existing trusted snapshot is updated, check for rollback attacks
	if trusted.Snapshot != nil {
		for name, info := range trusted.Snapshot.Signed.Meta {
			newFileInfo, ok := newSnapshot.Signed.Meta[name]
			// prevent removal of any metadata in meta
			if !ok {
				return nil, metadata.ErrRepository{Msg: fmt.Sprintf("new snapshot is missing info for %s", name)}
			}
			// prevent rollback of any metadata versions
			if newFileInfo.Version < info.Version {
				return nil, metadata.ErrRollback{Msg: fmt.Sprintf("expected %s version %d, got %d", name, info.Version, newFileInfo.Version)}
			}
		}
	}

	// expiry not checked to allow old snapshot to be used for rollback
	// protection of new snapshot: it is checked when targets is updated
	trusted.Snapshot = newSnapshot
	log.Info("Updated snapshot", "version", trusted.Snapshot.Signed.Version)

	// snapshot is loaded, but we error if it's not a valid _final_ snapshot
	err = trusted.checkFinalSnapshot()
	if err != nil {
		// return the new snapshot but also the error
		return trusted.Snapshot, err
	}
	return trusted.Snapshot, nil
}

// checkFinalSnapshot verifies if the trusted snapshot is not expired and
// its version matches the timestamp meta version
func (trusted *TrustedMetadata) checkFinalSnapshot() error {
	if trusted.Snapshot.Signed.IsExpired(trusted.RefTime) {
		return metadata.ErrExpiredMetadata{Msg: "snapshot.json is expired"}
	}
	snapshotMeta := trusted.Timestamp.Signed.Meta[fmt.Sprintf("%s.json", metadata.SNAPSHOT)]
	if trusted.Snapshot.Signed.Version != snapshotMeta.Version {
		return metadata.ErrBadVersionNumber{Msg: fmt.Sprintf("expected snapshot version %d, got %d", snapshotMeta.Version, trusted.Snapshot.Signed.Version)}
	}
	return nil
}

// UpdateTargets verifies and loads “targetsData“ as new top-level targets
// metadata. Targets can only be loaded once the final snapshot is in place,
// the candidate must match the version the snapshot names for it, carry a
// threshold of signatures under the trusted root, and not be expired.
func (trusted *TrustedMetadata) UpdateTargets(targetsData []byte) (*metadata.Metadata[metadata.TargetsType], error) {
	log := metadata.GetLogger()

	if trusted.Snapshot == nil {
		return nil, metadata.ErrRuntime{Msg: "cannot load targets before snapshot"}
	}
	// targets cannot be loaded if final snapshot is expired or its version
	// does not match the meta version in timestamp
	err := trusted.checkFinalSnapshot()
	if err != nil {
		return nil, err
	}
	log.Info("Updating targets")

	meta, ok := trusted.Snapshot.Signed.Meta[fmt.Sprintf("%s.json", metadata.TARGETS)]
	if !ok {
		return nil, metadata.ErrRepository{Msg: fmt.Sprintf("snapshot does not contain information for %s", metadata.TARGETS)}
	}
	// verify against the hashes in snapshot, if any
	err = meta.VerifyLengthHashes(targetsData)
	if err != nil {
		return nil, err
	}
	newTargets, err := metadata.Targets().FromBytes(targetsData)
	if err != nil {
		return nil, err
	}
	if newTargets.Signed.Type != metadata.TARGETS {
		return nil, metadata.ErrRepository{Msg: fmt.Sprintf("expected %s, got %s", metadata.TARGETS, newTargets.Signed.Type)}
	}
	// verify that new targets is signed by trusted root
	err = trusted.Root.VerifyDelegate(metadata.TARGETS, newTargets)
	if err != nil {
		return nil, err
	}
	if newTargets.Signed.Version != meta.Version {
		return nil, metadata.ErrBadVersionNumber{Msg: fmt.Sprintf("expected %s version %d, got %d", metadata.TARGETS, meta.Version, newTargets.Signed.Version)}
	}
	if newTargets.Signed.IsExpired(trusted.RefTime) {
		return nil, metadata.ErrExpiredMetadata{Msg: fmt.Sprintf("new %s is expired", metadata.TARGETS)}
	}
	trusted.Targets = newTargets
	log.Info("Updated targets", "version", trusted.Targets.Signed.Version)
	return trusted.Targets, nil
}
