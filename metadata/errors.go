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
	"fmt"
)

// Define error types used by the client workflow. Error type names
// start with 'Err' and each verification failure has its own kind so
// callers can match with errors.Is.

// Repository errors

// ErrRepository - an error with a repository's state, such as a missing file.
// It covers all errors that come from the repository side when looking from
// the perspective of users of the metadata API or client.
type ErrRepository struct {
	Msg string
}

func (e ErrRepository) Error() string {
	return fmt.Sprintf("repository error: %s", e.Msg)
}

// ErrUnsignedMetadata - metadata object with insufficient threshold of signatures
type ErrUnsignedMetadata struct {
	Msg string
}

func (e ErrUnsignedMetadata) Error() string {
	return fmt.Sprintf("unsigned metadata error: %s", e.Msg)
}

// ErrUnsignedMetadata is a subset of ErrRepository
func (e ErrUnsignedMetadata) Is(target error) bool {
	return target == ErrRepository{} || target == ErrUnsignedMetadata{}
}

// ErrBadVersionNumber - metadata that reports a version other than the
// one that was requested or expected
type ErrBadVersionNumber struct {
	Msg string
}

func (e ErrBadVersionNumber) Error() string {
	return fmt.Sprintf("bad version number error: %s", e.Msg)
}

// ErrBadVersionNumber is a subset of ErrRepository
func (e ErrBadVersionNumber) Is(target error) bool {
	return target == ErrRepository{} || target == ErrBadVersionNumber{}
}

// ErrEqualVersionNumber - metadata containing a previously verified version
// number. This is how a refetch of an unchanged timestamp announces itself:
// callers treat it as a no-op, not a failure.
type ErrEqualVersionNumber struct {
	Msg string
}

func (e ErrEqualVersionNumber) Error() string {
	return fmt.Sprintf("equal version number error: %s", e.Msg)
}

// ErrEqualVersionNumber is a subset of both ErrRepository and ErrBadVersionNumber
func (e ErrEqualVersionNumber) Is(target error) bool {
	return target == ErrRepository{} || target == ErrBadVersionNumber{} || target == ErrEqualVersionNumber{}
}

// ErrRollback - a version or referenced version regressed relative to the
// currently trusted metadata
type ErrRollback struct {
	Msg string
}

func (e ErrRollback) Error() string {
	return fmt.Sprintf("rollback error: %s", e.Msg)
}

// ErrRollback is a subset of ErrRepository
func (e ErrRollback) Is(target error) bool {
	return target == ErrRepository{} || target == ErrRollback{}
}

// ErrExpiredMetadata - a metadata file has expired
type ErrExpiredMetadata struct {
	Msg string
}

func (e ErrExpiredMetadata) Error() string {
	return fmt.Sprintf("expired metadata error: %s", e.Msg)
}

// ErrExpiredMetadata is a subset of ErrRepository
func (e ErrExpiredMetadata) Is(target error) bool {
	return target == ErrRepository{} || target == ErrExpiredMetadata{}
}

// ErrLengthOrHashMismatch - an error while checking the length and hash
// values of an object
type ErrLengthOrHashMismatch struct {
	Msg string
}

func (e ErrLengthOrHashMismatch) Error() string {
	return fmt.Sprintf("length/hash verification error: %s", e.Msg)
}

// ErrLengthOrHashMismatch is a subset of ErrRepository
func (e ErrLengthOrHashMismatch) Is(target error) bool {
	return target == ErrRepository{} || target == ErrLengthOrHashMismatch{}
}

// ErrMissingContentAddress - a target record lacks the mandatory "ipfs"
// entry in its hashes. There is no silent fallback to digest verification,
// the content address is the integrity model.
type ErrMissingContentAddress struct {
	Target string
}

func (e ErrMissingContentAddress) Error() string {
	return fmt.Sprintf("missing content address error: target %s has no %s entry in hashes", e.Target, IPFS)
}

// ErrMissingContentAddress is a subset of ErrRepository
func (e ErrMissingContentAddress) Is(target error) bool {
	return target == ErrRepository{} || target == ErrMissingContentAddress{}
}

// Download errors

// ErrDownload - an error occurred while attempting to download a file
type ErrDownload struct {
	Msg string
}

func (e ErrDownload) Error() string {
	return fmt.Sprintf("download error: %s", e.Msg)
}

// ErrDownloadLengthMismatch - a mismatch of lengths was seen while
// downloading a file
type ErrDownloadLengthMismatch struct {
	Msg string
}

func (e ErrDownloadLengthMismatch) Error() string {
	return fmt.Sprintf("download length mismatch error: %s", e.Msg)
}

// ErrDownloadLengthMismatch is a subset of ErrDownload
func (e ErrDownloadLengthMismatch) Is(target error) bool {
	return target == ErrDownload{} || target == ErrDownloadLengthMismatch{}
}

// ErrDownloadHTTP - returned by Fetcher implementations for HTTP errors,
// carries the attempted URL and the status code
type ErrDownloadHTTP struct {
	StatusCode int
	URL        string
}

func (e ErrDownloadHTTP) Error() string {
	return fmt.Sprintf("failed to download %s, http status code: %d", e.URL, e.StatusCode)
}

// ErrDownloadHTTP is a subset of ErrDownload
func (e ErrDownloadHTTP) Is(target error) bool {
	t, ok := target.(ErrDownloadHTTP)
	if ok {
		return t == ErrDownloadHTTP{} || t == e
	}
	return target == ErrDownload{}
}

// Configuration errors

// ErrConfiguration - missing bootstrap root, missing required directories
// or URLs
type ErrConfiguration struct {
	Msg string
}

func (e ErrConfiguration) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Msg)
}

// ValueError
type ErrValue struct {
	Msg string
}

func (e ErrValue) Error() string {
	return fmt.Sprintf("value error: %s", e.Msg)
}

// TypeError
type ErrType struct {
	Msg string
}

func (e ErrType) Error() string {
	return fmt.Sprintf("type error: %s", e.Msg)
}

// RuntimeError
type ErrRuntime struct {
	Msg string
}

func (e ErrRuntime) Error() string {
	return fmt.Sprintf("runtime error: %s", e.Msg)
}
