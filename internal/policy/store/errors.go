// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package store

import (
	"github.com/samber/oops"
)

// IsNotFound returns true if the error is a POLICY_NOT_FOUND error
// from the policy store.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == "POLICY_NOT_FOUND"
}

// IsUnavailable returns true if the error is a BACKEND_UNAVAILABLE
// error, meaning the backend could not be reached rather than the
// content being bad.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == "BACKEND_UNAVAILABLE"
}

func notFound(name string) error {
	return oops.Code("POLICY_NOT_FOUND").With("name", name).Errorf("policy not found")
}
