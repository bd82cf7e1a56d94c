// SPDX-License-Identifier: MIT
package gitx

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrAuthFailure marks authentication/authorization failures.
	ErrAuthFailure = errors.New("git auth error")
	// ErrNetworkFailure marks network/transport failures.
	ErrNetworkFailure = errors.New("git network error")
	// ErrCorruptRepo marks corrupt or invalid-repository failures.
	ErrCorruptRepo = errors.New("git corrupt repository")
	// ErrMissingRemoteRef marks missing upstream/ref/remote failures.
	ErrMissingRemoteRef = errors.New("git missing remote")
)

// ErrorClass is a broad, actionable category for a git failure.
type ErrorClass string

const (
	ClassNone          ErrorClass = ""
	ClassAuth          ErrorClass = "auth"
	ClassNetwork       ErrorClass = "network"
	ClassTimeout       ErrorClass = "timeout"
	ClassCorrupt       ErrorClass = "corrupt"
	ClassMissingRemote ErrorClass = "missing_remote"
	ClassRejected      ErrorClass = "rejected"
	ClassUnknown       ErrorClass = "unknown"
)

// ClassifyError maps git/process errors into broad actionable categories.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTimeout
	}
	if errors.Is(err, ErrAuthFailure) {
		return ClassAuth
	}
	if errors.Is(err, ErrNetworkFailure) {
		return ClassNetwork
	}
	if errors.Is(err, ErrCorruptRepo) {
		return ClassCorrupt
	}
	if errors.Is(err, ErrMissingRemoteRef) {
		return ClassMissingRemote
	}

	msg := strings.ToLower(err.Error())
	// Heuristics are intentionally broad to keep categories actionable for users.
	switch {
	case containsAny(msg, "permission denied", "authentication failed", "access denied", "publickey", "could not read username", "credential", "could not read from remote"):
		return ClassAuth
	case containsAny(msg, "could not resolve host", "network is unreachable", "connection timed out", "connection refused", "failed to connect", "unable to access", "temporary failure in name resolution", "tls handshake timeout"):
		return ClassNetwork
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ClassTimeout
	case containsAny(msg, "[rejected]", "non-fast-forward", "fetch first"):
		return ClassRejected
	case containsAny(msg, "not a git repository", "bad object", "corrupt", "object file"):
		return ClassCorrupt
	case containsAny(msg, "repository not found", "does not appear to be a git repository", "couldn't find remote ref", "remote ref does not exist", "no such remote"):
		return ClassMissingRemote
	default:
		return ClassUnknown
	}
}

// IsConnectivity reports failures that mean the remote cannot be reached
// right now, as opposed to a problem with the local repository.
func IsConnectivity(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch ClassifyError(err) {
	case ClassAuth, ClassNetwork, ClassTimeout, ClassMissingRemote:
		return true
	default:
		return false
	}
}

func containsAny(msg string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
