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

package updater

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tufipfs/go-tuf-ipfs/metadata"
	"github.com/tufipfs/go-tuf-ipfs/testutils/simulator"
)

const (
	fileCID     = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	otherCID    = "QmQPeNsJPyVWPFDVHb77w8G42Fvo15z4bG2X8D2GhfbSXc"
	fileContent = "file 1 content"
)

// publishTarget adds one content-addressed target and makes it visible
// through a new snapshot and timestamp
func publishTarget(path string, data []byte, contentAddress string) {
	simulator.Sim.AddTarget(path, data, contentAddress)
	simulator.Sim.MDTargets.Signed.Version += 1
	simulator.Sim.UpdateSnapshot()
}

func TestGetTargetInfo(t *testing.T) {
	err := loadOrResetTrustedRootMetadata()
	assert.NoError(t, err)

	publishTarget("file1.txt", []byte(fileContent), fileCID)

	// no explicit Refresh(), the lookup refreshes implicitly
	updater := initUpdater(t, loadUpdaterConfig())
	info, err := updater.GetTargetInfo("file1.txt")
	assert.NoError(t, err)
	if assert.NotNil(t, info) {
		assert.Equal(t, "file1.txt", info.Path)
		assert.Equal(t, fileCID, info.Hashes[metadata.IPFS])
		assert.Equal(t, int64(len(fileContent)), info.Length)
	}
	assertFilesExist(t, metadata.TOP_LEVEL_ROLE_NAMES)
}

func TestGetTargetInfoAbsentPath(t *testing.T) {
	err := loadOrResetTrustedRootMetadata()
	assert.NoError(t, err)

	updater, err := runRefresh(loadUpdaterConfig(), time.Time{})
	assert.NoError(t, err)

	// an unknown path is not an error, there is just nothing to return
	info, err := updater.GetTargetInfo("no-such-target.txt")
	assert.NoError(t, err)
	assert.Nil(t, info)
}

func TestDownloadTarget(t *testing.T) {
	err := loadOrResetTrustedRootMetadata()
	assert.NoError(t, err)

	publishTarget("file1.txt", []byte(fileContent), fileCID)

	updater, err := runRefresh(loadUpdaterConfig(), time.Time{})
	assert.NoError(t, err)
	info, err := updater.GetTargetInfo("file1.txt")
	assert.NoError(t, err)

	path, err := updater.DownloadTarget(info, "", "")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(targetsDir, "file1.txt"), path)

	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, []byte(fileContent), data)

	// the artifact was requested by content address
	served := simulator.Sim.FetchTracker.Content
	if assert.NotEmpty(t, served) {
		assert.Equal(t, fileCID, served[len(served)-1].Address)
	}
}

func TestDownloadTargetMissingContentAddress(t *testing.T) {
	err := loadOrResetTrustedRootMetadata()
	assert.NoError(t, err)

	// a record with only legacy digests and no content address
	target, err := metadata.TargetFile().FromBytes("legacy.txt", []byte(fileContent), "sha256")
	assert.NoError(t, err)
	simulator.Sim.MDTargets.Signed.Targets["legacy.txt"] = target
	simulator.Sim.MDTargets.Signed.Version += 1
	simulator.Sim.UpdateSnapshot()

	updater, err := runRefresh(loadUpdaterConfig(), time.Time{})
	assert.NoError(t, err)
	info, err := updater.GetTargetInfo("legacy.txt")
	assert.NoError(t, err)
	assert.NotNil(t, info)

	_, err = updater.DownloadTarget(info, "", "")
	assert.ErrorIs(t, err, metadata.ErrMissingContentAddress{Target: "legacy.txt"})

	// the failure happened before any artifact request went out and no
	// file was written
	assert.Empty(t, simulator.Sim.FetchTracker.Content)
	_, err = os.Stat(filepath.Join(targetsDir, "legacy.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadTargetUnknownAddress(t *testing.T) {
	err := loadOrResetTrustedRootMetadata()
	assert.NoError(t, err)

	publishTarget("file1.txt", []byte(fileContent), fileCID)
	// the gateway has no block for this address
	delete(simulator.Sim.ContentStore, fileCID)

	updater, err := runRefresh(loadUpdaterConfig(), time.Time{})
	assert.NoError(t, err)
	info, err := updater.GetTargetInfo("file1.txt")
	assert.NoError(t, err)

	_, err = updater.DownloadTarget(info, "", "")
	var httpErr metadata.ErrDownloadHTTP
	if assert.ErrorAs(t, err, &httpErr) {
		assert.Equal(t, 404, httpErr.StatusCode)
	}
	_, err = os.Stat(filepath.Join(targetsDir, "file1.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadTargetLegacyDigests(t *testing.T) {
	err := loadOrResetTrustedRootMetadata()
	assert.NoError(t, err)

	// record carries sha256 next to the content address, both must hold
	simulator.Sim.AddTargetWithDigests("file1.txt", []byte(fileContent), fileCID, "sha256")
	simulator.Sim.MDTargets.Signed.Version += 1
	simulator.Sim.UpdateSnapshot()

	updater, err := runRefresh(loadUpdaterConfig(), time.Time{})
	assert.NoError(t, err)
	info, err := updater.GetTargetInfo("file1.txt")
	assert.NoError(t, err)
	assert.Contains(t, info.Hashes, "sha256")

	path, err := updater.DownloadTarget(info, "", "")
	assert.NoError(t, err)
	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, []byte(fileContent), data)
}

func TestDownloadTargetLegacyDigestMismatch(t *testing.T) {
	err := loadOrResetTrustedRootMetadata()
	assert.NoError(t, err)

	// the gateway serves bytes whose declared legacy digest is wrong
	simulator.Sim.AddTargetWithDigests("file1.txt", []byte(fileContent), fileCID, "sha256")
	simulator.Sim.MDTargets.Signed.Targets["file1.txt"].Hashes["sha256"] = strings.Repeat("00", 32)
	simulator.Sim.MDTargets.Signed.Version += 1
	simulator.Sim.UpdateSnapshot()

	updater, err := runRefresh(loadUpdaterConfig(), time.Time{})
	assert.NoError(t, err)
	info, err := updater.GetTargetInfo("file1.txt")
	assert.NoError(t, err)

	_, err = updater.DownloadTarget(info, "", "")
	assert.ErrorIs(t, err, metadata.ErrLengthOrHashMismatch{})
	_, err = os.Stat(filepath.Join(targetsDir, "file1.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadTargetCustomPathAndGateway(t *testing.T) {
	err := loadOrResetTrustedRootMetadata()
	assert.NoError(t, err)

	publishTarget("file1.txt", []byte(fileContent), fileCID)

	updater, err := runRefresh(loadUpdaterConfig(), time.Time{})
	assert.NoError(t, err)
	info, err := updater.GetTargetInfo("file1.txt")
	assert.NoError(t, err)

	explicit := filepath.Join(targetsDir, "explicit.bin")
	path, err := updater.DownloadTarget(info, explicit, simulator.GatewayURL+"/")
	assert.NoError(t, err)
	assert.Equal(t, explicit, path)

	data, err := os.ReadFile(explicit)
	assert.NoError(t, err)
	assert.Equal(t, []byte(fileContent), data)
}

func TestDownloadTargetEncodedFilename(t *testing.T) {
	err := loadOrResetTrustedRootMetadata()
	assert.NoError(t, err)

	targetPath := "dir/file 1.txt"
	publishTarget(targetPath, []byte(fileContent), otherCID)

	updater, err := runRefresh(loadUpdaterConfig(), time.Time{})
	assert.NoError(t, err)
	info, err := updater.GetTargetInfo(targetPath)
	assert.NoError(t, err)

	// the logical path is URL encoded into a flat local filename
	path, err := updater.DownloadTarget(info, "", "")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(targetsDir, url.QueryEscape(targetPath)), path)
}

func TestFindCachedTarget(t *testing.T) {
	err := loadOrResetTrustedRootMetadata()
	assert.NoError(t, err)

	publishTarget("file1.txt", []byte(fileContent), fileCID)

	updater, err := runRefresh(loadUpdaterConfig(), time.Time{})
	assert.NoError(t, err)
	info, err := updater.GetTargetInfo("file1.txt")
	assert.NoError(t, err)

	// nothing cached before the download
	cached, err := updater.FindCachedTarget(info, "")
	assert.NoError(t, err)
	assert.Empty(t, cached)

	path, err := updater.DownloadTarget(info, "", "")
	assert.NoError(t, err)

	cached, err = updater.FindCachedTarget(info, "")
	assert.NoError(t, err)
	assert.Equal(t, path, cached)

	// a tampered cache entry is treated as not cached
	err = os.WriteFile(path, []byte("corrupted"), 0644)
	assert.NoError(t, err)
	cached, err = updater.FindCachedTarget(info, "")
	assert.NoError(t, err)
	assert.Empty(t, cached)
}
