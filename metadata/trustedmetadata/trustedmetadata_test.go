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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tufipfs/go-tuf-ipfs/metadata"
	"github.com/tufipfs/go-tuf-ipfs/testutils/simulator"
)

// newRepository builds a fresh in-memory repository and returns it with
// the serialized bytes of all four top-level roles
func newRepository(t *testing.T) (*simulator.RepositorySimulator, map[string][]byte) {
	t.Helper()
	sim := simulator.NewRepository()
	allRoles := map[string][]byte{
		metadata.ROOT: sim.SignedRoots[0],
	}
	for _, role := range []string{metadata.TIMESTAMP, metadata.SNAPSHOT, metadata.TARGETS} {
		data, err := sim.FetchMetadata(role, -1, "")
		assert.NoError(t, err)
		allRoles[role] = data
	}
	return sim, allRoles
}

func pastDateTime() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour).Add(-5 * 24 * time.Hour)
}

func TestUpdate(t *testing.T) {
	_, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(allRoles[metadata.TIMESTAMP])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateSnapshot(allRoles[metadata.SNAPSHOT], false)
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTargets(allRoles[metadata.TARGETS])
	assert.NoError(t, err)

	assert.NotNil(t, trustedSet.Root)
	assert.NotNil(t, trustedSet.Timestamp)
	assert.NotNil(t, trustedSet.Snapshot)
	assert.NotNil(t, trustedSet.Targets)
}

func TestOutOfOrderOps(t *testing.T) {
	_, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)

	// update snapshot before timestamp
	_, err = trustedSet.UpdateSnapshot(allRoles[metadata.SNAPSHOT], false)
	assert.ErrorIs(t, err, metadata.ErrRuntime{Msg: "cannot update snapshot before timestamp"})

	_, err = trustedSet.UpdateTimestamp(allRoles[metadata.TIMESTAMP])
	assert.NoError(t, err)

	// update root after timestamp
	_, err = trustedSet.UpdateRoot(allRoles[metadata.ROOT])
	assert.ErrorIs(t, err, metadata.ErrRuntime{Msg: "cannot update root after timestamp"})

	// update targets before snapshot
	_, err = trustedSet.UpdateTargets(allRoles[metadata.TARGETS])
	assert.ErrorIs(t, err, metadata.ErrRuntime{Msg: "cannot load targets before snapshot"})

	_, err = trustedSet.UpdateSnapshot(allRoles[metadata.SNAPSHOT], false)
	assert.NoError(t, err)

	// update timestamp after snapshot
	_, err = trustedSet.UpdateTimestamp(allRoles[metadata.TIMESTAMP])
	assert.ErrorIs(t, err, metadata.ErrRuntime{Msg: "cannot update timestamp after snapshot"})

	_, err = trustedSet.UpdateTargets(allRoles[metadata.TARGETS])
	assert.NoError(t, err)

	// update snapshot after successful targets update
	_, err = trustedSet.UpdateSnapshot(allRoles[metadata.SNAPSHOT], false)
	assert.ErrorIs(t, err, metadata.ErrRuntime{Msg: "cannot update snapshot after targets"})
}

func TestBadInitialRoot(t *testing.T) {
	_, allRoles := newRepository(t)

	// root data that is not signed metadata at all
	_, err := New([]byte("not json"))
	assert.Error(t, err)

	// metadata of the wrong type
	_, err = New(allRoles[metadata.TIMESTAMP])
	assert.Error(t, err)
}

func TestUnsignedInitialRoot(t *testing.T) {
	sim, _ := newRepository(t)

	root, err := metadata.Root().FromBytes(sim.SignedRoots[0])
	assert.NoError(t, err)
	root.ClearSignatures()
	data, err := root.ToBytes(false)
	assert.NoError(t, err)

	_, err = New(data)
	assert.ErrorIs(t, err, metadata.ErrUnsignedMetadata{})
}

func TestExpiredInitialRoot(t *testing.T) {
	sim := simulator.NewRepository()
	sim.MDRoot.Signed.Expires = pastDateTime()
	sim.MDRoot.Signed.Version += 1
	sim.PublishRoot()

	// an expired initial root is accepted, expiry of the final root is
	// only enforced when the timestamp is updated
	trustedSet, err := New(sim.SignedRoots[1])
	assert.NoError(t, err)

	timestampData, err := sim.FetchMetadata(metadata.TIMESTAMP, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(timestampData)
	assert.ErrorIs(t, err, metadata.ErrExpiredMetadata{Msg: "final root.json is expired"})
}

func TestUpdateRootRotation(t *testing.T) {
	sim, allRoles := newRepository(t)

	sim.RotateKeys(metadata.ROOT)
	sim.MDRoot.Signed.Version += 1
	sim.PublishRoot()

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateRoot(sim.SignedRoots[1])
	assert.NoError(t, err)
	assert.Equal(t, int64(2), trustedSet.Root.Signed.Version)
}

func TestUpdateRootVersionSkip(t *testing.T) {
	sim, allRoles := newRepository(t)

	// publish v2 and v3, then try to go straight from v1 to v3
	sim.MDRoot.Signed.Version += 1
	sim.PublishRoot()
	sim.MDRoot.Signed.Version += 1
	sim.PublishRoot()

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateRoot(sim.SignedRoots[2])
	assert.ErrorIs(t, err, metadata.ErrBadVersionNumber{Msg: "bad version number, expected 2, got 3"})
	assert.Equal(t, int64(1), trustedSet.Root.Signed.Version)
}

func TestUpdateRootNotSignedByOldKeys(t *testing.T) {
	sim, allRoles := newRepository(t)

	// new root signed only by the rotated keys is not a valid successor
	sim.RotateKeys(metadata.ROOT)
	sim.MDRoot.Signed.Version += 1
	root, err := metadata.Root().FromBytes(sim.SignedRoots[0])
	assert.NoError(t, err)
	root.Signed = sim.MDRoot.Signed
	root.ClearSignatures()
	for _, signer := range sim.Signers[metadata.ROOT] {
		_, err = root.Sign(*signer)
		assert.NoError(t, err)
	}
	data, err := root.ToBytes(false)
	assert.NoError(t, err)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateRoot(data)
	assert.ErrorIs(t, err, metadata.ErrUnsignedMetadata{})
	assert.Equal(t, int64(1), trustedSet.Root.Signed.Version)
}

func TestUpdateTimestampRollback(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)

	sim.MDTimestamp.Signed.Version = 2
	data, err := sim.FetchMetadata(metadata.TIMESTAMP, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(data)
	assert.NoError(t, err)

	sim.MDTimestamp.Signed.Version = 1
	data, err = sim.FetchMetadata(metadata.TIMESTAMP, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(data)
	assert.ErrorIs(t, err, metadata.ErrRollback{Msg: "new timestamp version 1 must be >= 2"})
	assert.Equal(t, int64(2), trustedSet.Timestamp.Signed.Version)
}

func TestUpdateTimestampEqualVersion(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(allRoles[metadata.TIMESTAMP])
	assert.NoError(t, err)

	// a refetched unchanged timestamp is reported distinctly so callers
	// can treat it as a no-op
	data, err := sim.FetchMetadata(metadata.TIMESTAMP, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(data)
	assert.ErrorIs(t, err, metadata.ErrEqualVersionNumber{})
}

func TestUpdateTimestampMissingSnapshotMeta(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)

	// a threshold-signed timestamp without the mandatory snapshot meta
	// entry can never extend trust and is rejected before adoption
	delete(sim.MDTimestamp.Signed.Meta, fmt.Sprintf("%s.json", metadata.SNAPSHOT))
	data, err := sim.FetchMetadata(metadata.TIMESTAMP, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(data)
	assert.ErrorIs(t, err, metadata.ErrRepository{Msg: "timestamp does not contain information for snapshot"})
	assert.Nil(t, trustedSet.Timestamp)
}

func TestUpdateTimestampSnapshotRollback(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)

	// timestamp v2 referencing snapshot v2
	sim.MDSnapshot.Signed.Version = 2
	sim.UpdateTimestamp()
	data, err := sim.FetchMetadata(metadata.TIMESTAMP, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(data)
	assert.NoError(t, err)

	// timestamp v3 referencing snapshot v1 again
	sim.MDSnapshot.Signed.Version = 1
	sim.UpdateTimestamp()
	data, err = sim.FetchMetadata(metadata.TIMESTAMP, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(data)
	assert.ErrorIs(t, err, metadata.ErrRollback{Msg: "new snapshot version 1 must be >= 2"})
}

func TestUpdateTimestampExpired(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)

	sim.MDTimestamp.Signed.Expires = pastDateTime()
	data, err := sim.FetchMetadata(metadata.TIMESTAMP, -1, "")
	assert.NoError(t, err)

	// the expired timestamp is loaded for rollback protection but
	// reported as expired, and snapshot cannot be loaded after it
	_, err = trustedSet.UpdateTimestamp(data)
	assert.ErrorIs(t, err, metadata.ErrExpiredMetadata{Msg: "timestamp.json is expired"})
	assert.NotNil(t, trustedSet.Timestamp)

	_, err = trustedSet.UpdateSnapshot(allRoles[metadata.SNAPSHOT], false)
	assert.ErrorIs(t, err, metadata.ErrExpiredMetadata{Msg: "timestamp.json is expired"})
}

func TestUpdateSnapshotUnsigned(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(allRoles[metadata.TIMESTAMP])
	assert.NoError(t, err)

	sim.Signers[metadata.SNAPSHOT] = nil
	data, err := sim.FetchMetadata(metadata.SNAPSHOT, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateSnapshot(data, false)
	assert.ErrorIs(t, err, metadata.ErrUnsignedMetadata{})
}

func TestUpdateSnapshotLengthHashMismatch(t *testing.T) {
	_, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(allRoles[metadata.TIMESTAMP])
	assert.NoError(t, err)

	// timestamp declares a length for snapshot that the data misses
	trustedSet.Timestamp.Signed.Meta[fmt.Sprintf("%s.json", metadata.SNAPSHOT)].Length = 1
	_, err = trustedSet.UpdateSnapshot(allRoles[metadata.SNAPSHOT], false)
	assert.ErrorIs(t, err, metadata.ErrLengthOrHashMismatch{})

	// trusted local data skips the recheck
	trustedSet.Timestamp.Signed.Meta[fmt.Sprintf("%s.json", metadata.SNAPSHOT)].Length = 0
	_, err = trustedSet.UpdateSnapshot(allRoles[metadata.SNAPSHOT], false)
	assert.NoError(t, err)
}

func TestUpdateSnapshotVersionMismatch(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)

	// timestamp names snapshot v2, the repository still serves v1
	sim.MDSnapshot.Signed.Version = 2
	sim.UpdateTimestamp()
	data, err := sim.FetchMetadata(metadata.TIMESTAMP, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(data)
	assert.NoError(t, err)

	sim.MDSnapshot.Signed.Version = 1
	data, err = sim.FetchMetadata(metadata.SNAPSHOT, -1, "")
	assert.NoError(t, err)
	// the snapshot is kept for rollback protection but flagged as not
	// final, which in turn blocks targets
	_, err = trustedSet.UpdateSnapshot(data, false)
	assert.ErrorIs(t, err, metadata.ErrBadVersionNumber{Msg: "expected snapshot version 2, got 1"})

	_, err = trustedSet.UpdateTargets(allRoles[metadata.TARGETS])
	assert.ErrorIs(t, err, metadata.ErrBadVersionNumber{})
}

func TestUpdateSnapshotRollback(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)

	// trusted snapshot v2
	sim.MDSnapshot.Signed.Version = 2
	sim.UpdateTimestamp()
	data, err := sim.FetchMetadata(metadata.TIMESTAMP, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(data)
	assert.NoError(t, err)
	data, err = sim.FetchMetadata(metadata.SNAPSHOT, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateSnapshot(data, false)
	assert.NoError(t, err)

	// a snapshot whose targets meta version regressed is rejected
	sim.MDSnapshot.Signed.Meta[fmt.Sprintf("%s.json", metadata.TARGETS)] = metadata.MetaFile(1)
	trustedSet.Snapshot.Signed.Meta[fmt.Sprintf("%s.json", metadata.TARGETS)].Version = 2
	data, err = sim.FetchMetadata(metadata.SNAPSHOT, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateSnapshot(data, false)
	assert.ErrorIs(t, err, metadata.ErrRollback{})
}

func TestUpdateSnapshotMetaRemoval(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(allRoles[metadata.TIMESTAMP])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateSnapshot(allRoles[metadata.SNAPSHOT], false)
	assert.NoError(t, err)

	// a new snapshot may not drop entries the trusted one carries
	delete(sim.MDSnapshot.Signed.Meta, fmt.Sprintf("%s.json", metadata.TARGETS))
	sim.MDSnapshot.Signed.Version = 2
	trustedSet.Timestamp.Signed.Meta[fmt.Sprintf("%s.json", metadata.SNAPSHOT)].Version = 2
	data, err := sim.FetchMetadata(metadata.SNAPSHOT, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateSnapshot(data, false)
	assert.ErrorIs(t, err, metadata.ErrRepository{Msg: "new snapshot is missing info for targets.json"})
}

func TestUpdateSnapshotExpired(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(allRoles[metadata.TIMESTAMP])
	assert.NoError(t, err)

	sim.MDSnapshot.Signed.Expires = pastDateTime()
	data, err := sim.FetchMetadata(metadata.SNAPSHOT, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateSnapshot(data, false)
	assert.ErrorIs(t, err, metadata.ErrExpiredMetadata{Msg: "snapshot.json is expired"})

	_, err = trustedSet.UpdateTargets(allRoles[metadata.TARGETS])
	assert.ErrorIs(t, err, metadata.ErrExpiredMetadata{})
}

func TestUpdateTargetsVersionMismatch(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(allRoles[metadata.TIMESTAMP])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateSnapshot(allRoles[metadata.SNAPSHOT], false)
	assert.NoError(t, err)

	// targets version must be the one the snapshot names
	sim.MDTargets.Signed.Version = 2
	data, err := sim.FetchMetadata(metadata.TARGETS, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTargets(data)
	assert.ErrorIs(t, err, metadata.ErrBadVersionNumber{Msg: "expected targets version 1, got 2"})
	assert.Nil(t, trustedSet.Targets)
}

func TestUpdateTargetsExpired(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(allRoles[metadata.TIMESTAMP])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateSnapshot(allRoles[metadata.SNAPSHOT], false)
	assert.NoError(t, err)

	sim.MDTargets.Signed.Expires = pastDateTime()
	data, err := sim.FetchMetadata(metadata.TARGETS, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTargets(data)
	assert.ErrorIs(t, err, metadata.ErrExpiredMetadata{Msg: "new targets is expired"})
}

func TestUpdateTargetsUnsigned(t *testing.T) {
	sim, allRoles := newRepository(t)

	trustedSet, err := New(allRoles[metadata.ROOT])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(allRoles[metadata.TIMESTAMP])
	assert.NoError(t, err)
	_, err = trustedSet.UpdateSnapshot(allRoles[metadata.SNAPSHOT], false)
	assert.NoError(t, err)

	sim.Signers[metadata.TARGETS] = nil
	data, err := sim.FetchMetadata(metadata.TARGETS, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTargets(data)
	assert.ErrorIs(t, err, metadata.ErrUnsignedMetadata{})
}

func TestContentAddressedTargetSurvivesTrustPipeline(t *testing.T) {
	sim, _ := newRepository(t)

	cid := "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	sim.AddTarget("file1.txt", []byte("file 1 content"), cid)
	sim.MDTargets.Signed.Version += 1
	sim.UpdateSnapshot()

	trustedSet, err := New(sim.SignedRoots[0])
	assert.NoError(t, err)
	data, err := sim.FetchMetadata(metadata.TIMESTAMP, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTimestamp(data)
	assert.NoError(t, err)
	data, err = sim.FetchMetadata(metadata.SNAPSHOT, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateSnapshot(data, false)
	assert.NoError(t, err)
	data, err = sim.FetchMetadata(metadata.TARGETS, -1, "")
	assert.NoError(t, err)
	_, err = trustedSet.UpdateTargets(data)
	assert.NoError(t, err)

	target := trustedSet.Targets.Signed.Targets["file1.txt"]
	assert.NotNil(t, target)
	assert.Equal(t, cid, target.Hashes[metadata.IPFS])
	assert.Equal(t, int64(len("file 1 content")), target.Length)
}
