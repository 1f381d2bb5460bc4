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

// Package updater implements the client update workflow with targets
// retrieved from a content-addressed transport.
//
// The Updater provides an API to query available targets and to download
// them in a secure manner: all metadata is verified by the signed trust
// chain and all artifact bytes are bound to their content address.
// High-level description of Updater functionality:
//   - Initializing an Updater loads and validates the trusted local root
//     metadata: this root metadata is used as the source of trust for all
//     other metadata.
//   - Refresh() updates and loads all top-level metadata in the required
//     order (root -> timestamp -> snapshot -> targets), using both locally
//     cached metadata and metadata downloaded from the remote repository.
//     If refresh is not done explicitly, it happens automatically during
//     the first target info lookup.
//   - GetTargetInfo() looks up a target record by its exact path in the
//     trusted targets metadata.
//   - FindCachedTarget() optionally checks if a target file is already
//     locally cached.
//   - DownloadTarget() downloads a target file from the IPFS gateway and
//     verifies it against its record.
package updater

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tufipfs/go-tuf-ipfs/metadata"
	"github.com/tufipfs/go-tuf-ipfs/metadata/config"
	"github.com/tufipfs/go-tuf-ipfs/metadata/gateway"
	"github.com/tufipfs/go-tuf-ipfs/metadata/trustedmetadata"
)

// Updater runs the refresh state machine and resolves and downloads
// targets. A failed refresh leaves all previously trusted metadata
// fully intact.
type Updater struct {
	cfg     *config.UpdaterConfig
	trusted *trustedmetadata.TrustedMetadata
	gateway *gateway.Client
}

// New creates an Updater instance and loads trusted root metadata from
// cfg.LocalMetadataDir. A missing bootstrap root is a configuration
// error, there is no embedded trust anchor.
func New(cfg *config.UpdaterConfig) (*Updater, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gw, err := gateway.New(cfg.GatewayURL, cfg.Fetcher, cfg.GatewayTimeout, cfg.TargetMaxLength)
	if err != nil {
		return nil, err
	}
	updater := &Updater{
		cfg:     cfg,
		gateway: gw,
	}
	// load the root metadata file used for bootstrapping trust
	rootBytes, err := updater.loadLocalMetadata(metadata.ROOT)
	if err != nil {
		return nil, metadata.ErrConfiguration{Msg: fmt.Sprintf("missing trusted root metadata in %s - %s", cfg.LocalMetadataDir, err)}
	}
	trustedSet, err := trustedmetadata.New(rootBytes)
	if err != nil {
		return nil, err
	}
	updater.trusted = trustedSet
	return updater, nil
}

// Trusted exposes the trusted metadata collection, mainly so tests can
// inspect it and move the reference time
func (update *Updater) Trusted() *trustedmetadata.TrustedMetadata {
	return update.trusted
}

// Refresh loads and possibly refreshes top-level metadata.
// Downloads, verifies, and loads metadata for the top-level roles in the
// specified order (root -> timestamp -> snapshot -> targets), implementing
// all the checks required in the client workflow. Any verification failure
// aborts the whole refresh with the prior trusted state left in force.
// A Refresh() can be done only once during the lifetime of an Updater.
func (update *Updater) Refresh() error {
	err := update.loadRoot()
	if err != nil {
		return err
	}
	err = update.loadTimestamp()
	if err != nil {
		return err
	}
	err = update.loadSnapshot()
	if err != nil {
		return err
	}
	err = update.loadTargets()
	if err != nil {
		return err
	}
	return nil
}

// loadRoot sequentially downloads, verifies and persists every newer
// root metadata version available on the remote, one version at a time.
// A repository serving more versions than MaxRootRotations in a single
// refresh is treated as an attack and aborts the refresh.
func (update *Updater) loadRoot() error {
	// calculate boundaries
	lowerBound := update.trusted.Root.Signed.Version + 1
	upperBound := lowerBound + update.cfg.MaxRootRotations - 1

	// loop until we find the latest available version of root
	for nextVersion := lowerBound; ; nextVersion++ {
		data, err := update.downloadMetadata(metadata.ROOT, update.cfg.RootMaxLength, strconv.FormatInt(nextVersion, 10))
		if err != nil {
			// 404/403 means the current root is the newest available
			var downloadErr metadata.ErrDownloadHTTP
			if errors.As(err, &downloadErr) {
				if downloadErr.StatusCode == 404 || downloadErr.StatusCode == 403 {
					break
				}
			}
			return err
		}
		// exactly MaxRootRotations new versions is still a legitimate
		// history, only a repository that keeps serving beyond the bound
		// is rejected
		if nextVersion > upperBound {
			return metadata.ErrRollback{Msg: fmt.Sprintf("root rotation limit of %d exceeded without finding the latest root", update.cfg.MaxRootRotations)}
		}
		// verify and load the root data
		_, err = update.trusted.UpdateRoot(data)
		if err != nil {
			return err
		}
		// write root to disk
		err = update.persistMetadata(metadata.ROOT, data)
		if err != nil {
			return err
		}
	}
	return nil
}

// loadTimestamp loads local and remote timestamp metadata. The timestamp
// file is never version-qualified. A remote timestamp whose version equals
// the trusted one is a no-op, not an error, to tolerate re-polling.
func (update *Updater) loadTimestamp() error {
	log := metadata.GetLogger()

	// try to load the local timestamp first for rollback protection;
	// an invalid or expired local copy is not an error at this point
	data, err := update.loadLocalMetadata(metadata.TIMESTAMP)
	if err == nil {
		_, err = update.trusted.UpdateTimestamp(data)
		if err != nil {
			log.Info("Local timestamp not valid as final", "err", err)
		}
	}
	// load from remote (whether local load succeeded or not)
	data, err = update.downloadMetadata(metadata.TIMESTAMP, update.cfg.TimestampMaxLength, "")
	if err != nil {
		return err
	}
	_, err = update.trusted.UpdateTimestamp(data)
	if err != nil {
		if errors.Is(err, metadata.ErrEqualVersionNumber{}) {
			// the new timestamp version is the same as the current one,
			// discard the new timestamp; this is normal and the trusted
			// copy stays in force
			log.Info("Timestamp version did not advance, keeping trusted copy")
			return nil
		}
		return err
	}
	err = update.persistMetadata(metadata.TIMESTAMP, data)
	if err != nil {
		return err
	}
	return nil
}

// loadSnapshot loads local (and if needed remote) snapshot metadata at
// the version named by the trusted timestamp
func (update *Updater) loadSnapshot() error {
	log := metadata.GetLogger()

	// try to load the local snapshot
	data, err := update.loadLocalMetadata(metadata.SNAPSHOT)
	if err == nil {
		_, err = update.trusted.UpdateSnapshot(data, true)
		if err == nil {
			// the local snapshot is already the one the timestamp names
			log.Info("Local snapshot is valid, not downloading a new one")
			return nil
		}
		log.Info("Local snapshot not valid as final", "err", err)
	}
	// local snapshot does not exist or is invalid, update from remote
	snapshotMeta := update.trusted.Timestamp.Signed.Meta[fmt.Sprintf("%s.json", metadata.SNAPSHOT)]
	length := snapshotMeta.Length
	if length == 0 {
		length = update.cfg.SnapshotMaxLength
	}
	version := ""
	if update.trusted.Root.Signed.ConsistentSnapshot {
		version = strconv.FormatInt(snapshotMeta.Version, 10)
	}
	data, err = update.downloadMetadata(metadata.SNAPSHOT, length, version)
	if err != nil {
		return err
	}
	_, err = update.trusted.UpdateSnapshot(data, false)
	if err != nil {
		return err
	}
	err = update.persistMetadata(metadata.SNAPSHOT, data)
	if err != nil {
		return err
	}
	return nil
}

// loadTargets loads local (and if needed remote) top-level targets
// metadata at the version named by the trusted snapshot
func (update *Updater) loadTargets() error {
	log := metadata.GetLogger()

	// try to load the local targets
	data, err := update.loadLocalMetadata(metadata.TARGETS)
	if err == nil {
		_, err = update.trusted.UpdateTargets(data)
		if err == nil {
			log.Info("Local targets is valid, not downloading a new one")
			return nil
		}
		log.Info("Local targets not valid as final", "err", err)
	}
	// local targets does not exist or is invalid, update from remote
	metaInfo, ok := update.trusted.Snapshot.Signed.Meta[fmt.Sprintf("%s.json", metadata.TARGETS)]
	if !ok {
		return metadata.ErrRepository{Msg: fmt.Sprintf("snapshot does not contain information for %s", metadata.TARGETS)}
	}
	length := metaInfo.Length
	if length == 0 {
		length = update.cfg.TargetsMaxLength
	}
	version := ""
	if update.trusted.Root.Signed.ConsistentSnapshot {
		version = strconv.FormatInt(metaInfo.Version, 10)
	}
	data, err = update.downloadMetadata(metadata.TARGETS, length, version)
	if err != nil {
		return err
	}
	_, err = update.trusted.UpdateTargets(data)
	if err != nil {
		return err
	}
	err = update.persistMetadata(metadata.TARGETS, data)
	if err != nil {
		return err
	}
	return nil
}

// GetTargetInfo returns the metadata.TargetFiles record for targetPath,
// looked up verbatim in the trusted targets metadata, or nil if the path
// is not present. The return value can be used as an argument to
// DownloadTarget() and FindCachedTarget(). If Refresh() has not been
// called before calling GetTargetInfo(), the refresh is done implicitly.
func (update *Updater) GetTargetInfo(targetPath string) (*metadata.TargetFiles, error) {
	// do a Refresh() in case there's no trusted targets.json yet
	if update.trusted.Targets == nil {
		err := update.Refresh()
		if err != nil {
			return nil, err
		}
	}
	targetFile, ok := update.trusted.Targets.Signed.Targets[targetPath]
	if !ok {
		return nil, nil
	}
	// fill in the logical path, it is not part of the serialized record
	result := *targetFile
	result.Path = targetPath
	return &result, nil
}

// DownloadTarget downloads the target file specified by targetFile from
// the IPFS gateway, verifies it, and writes it to filePath (or to the
// default location under LocalTargetsDir when filePath is empty).
// gatewayURL overrides the configured gateway for this one download.
// A failed download leaves no file at the destination path.
func (update *Updater) DownloadTarget(targetFile *metadata.TargetFiles, filePath, gatewayURL string) (string, error) {
	log := metadata.GetLogger()

	if targetFile == nil {
		return "", metadata.ErrValue{Msg: "target file record is not set"}
	}
	var err error
	if filePath == "" {
		filePath, err = update.generateTargetFilePath(targetFile)
		if err != nil {
			return "", err
		}
	}
	gw := update.gateway
	if gatewayURL != "" {
		gw, err = gateway.New(gatewayURL, update.cfg.Fetcher, update.cfg.GatewayTimeout, update.cfg.TargetMaxLength)
		if err != nil {
			return "", err
		}
	}
	data, err := gw.FetchTarget(targetFile)
	if err != nil {
		return "", err
	}
	// write verified bytes via a temporary file so a concurrent reader
	// never observes a half-written artifact
	err = writeFileAtomic(filePath, data)
	if err != nil {
		return "", err
	}
	log.Info("Downloaded target", "path", targetFile.Path)
	return filePath, nil
}

// FindCachedTarget checks whether an up to date copy of targetFile is
// already on disk. Returns the local path if so, an empty string if not.
func (update *Updater) FindCachedTarget(targetFile *metadata.TargetFiles, filePath string) (string, error) {
	if targetFile == nil {
		return "", metadata.ErrValue{Msg: "target file record is not set"}
	}
	var err error
	targetFilePath := filePath
	if targetFilePath == "" {
		targetFilePath, err = update.generateTargetFilePath(targetFile)
		if err != nil {
			return "", err
		}
	}
	data, err := os.ReadFile(targetFilePath)
	if err != nil {
		// file does not exist or is unreadable, no cached target available
		return "", nil
	}
	// verify the cached bytes against the declared length and any legacy
	// digests; stale or tampered copies are treated as not cached
	err = targetFile.VerifyLengthHashes(data)
	if err != nil {
		return "", nil
	}
	return targetFilePath, nil
}

// downloadMetadata downloads a metadata file and returns it as bytes
func (update *Updater) downloadMetadata(roleName string, length int64, version string) ([]byte, error) {
	urlPath := ensureTrailingSlash(update.cfg.RemoteMetadataURL)
	// build urlPath
	if version == "" {
		urlPath = fmt.Sprintf("%s%s.json", urlPath, url.QueryEscape(roleName))
	} else {
		urlPath = fmt.Sprintf("%s%s.%s.json", urlPath, version, url.QueryEscape(roleName))
	}
	return update.cfg.Fetcher.DownloadFile(urlPath, length, update.cfg.MetadataTimeout)
}

// persistMetadata writes metadata to disk atomically to avoid data loss
func (update *Updater) persistMetadata(roleName string, data []byte) error {
	fileName := filepath.Join(update.cfg.LocalMetadataDir, fmt.Sprintf("%s.json", url.QueryEscape(roleName)))
	return writeFileAtomic(fileName, data)
}

// writeFileAtomic writes data to a temporary file in the destination
// directory and renames it into place
func writeFileAtomic(name string, data []byte) error {
	file, err := os.CreateTemp(filepath.Dir(name), "tuf_tmp")
	if err != nil {
		return err
	}
	if _, err = file.Write(data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return err
	}
	if err = file.Close(); err != nil {
		os.Remove(file.Name())
		return err
	}
	if err = os.Rename(file.Name(), name); err != nil {
		os.Remove(file.Name())
		return err
	}
	return nil
}

// loadLocalMetadata reads a local <roleName>.json file and returns its bytes
func (update *Updater) loadLocalMetadata(roleName string) ([]byte, error) {
	fileName := filepath.Join(update.cfg.LocalMetadataDir, fmt.Sprintf("%s.json", url.QueryEscape(roleName)))
	in, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("error opening metadata file - %s", fileName)
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("error reading metadata bytes from file - %s", fileName)
	}
	return data, nil
}

// generateTargetFilePath uses the URL encoded target path as filename
func (update *Updater) generateTargetFilePath(targetFile *metadata.TargetFiles) (string, error) {
	if update.cfg.LocalTargetsDir == "" {
		return "", metadata.ErrConfiguration{Msg: "LocalTargetsDir must be set if filePath is not given"}
	}
	return filepath.Join(update.cfg.LocalTargetsDir, url.QueryEscape(targetFile.Path)), nil
}

// ensureTrailingSlash ensures url ends with a slash
func ensureTrailingSlash(url string) string {
	if strings.HasSuffix(url, "/") {
		return url
	}
	return url + "/"
}
