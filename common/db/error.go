// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package db

import (
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// Server error codes the tools care about.
const (
	ErrDuplicateKeyCode         = 11000
	ErrFailedDocumentValidation = 121
	ErrNamespaceNotFound        = 26
	ErrNamespaceExists          = 48
)

// error signatures of the transient network fault family, matched when the
// driver cannot classify the failure itself
var transientErrorSignatures = []string{
	"connection closed",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"socket was unexpectedly closed",
	"no reachable servers",
	"server selection error",
	"lost connection to server",
}

// IsTransientNetworkError reports whether an error belongs to the fault
// family worth retrying: timeouts, resets, broken pipes and the wider
// "connection closed" family. Anything else (validation, duplicate keys,
// command errors) is a write fault, not a network fault.
func IsTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}

	// a bulk result carrying write errors is a server verdict, not a
	// transport failure, even if the driver also flags a timeout
	if bwe, ok := err.(mongo.BulkWriteException); ok && len(bwe.WriteErrors) > 0 {
		return false
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range transientErrorSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsDuplicateKeyError reports whether an error is a duplicate-key verdict,
// in any of the driver's shapes.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	if bwe, ok := err.(mongo.BulkWriteException); ok {
		for _, we := range bwe.WriteErrors {
			if we.Code != ErrDuplicateKeyCode {
				return false
			}
		}
		return len(bwe.WriteErrors) > 0
	}
	return false
}

// IsNamespaceNotFound reports whether an error is the server telling us a
// namespace does not exist, which several callers treat as a clean no-op.
func IsNamespaceNotFound(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(mongo.CommandError); ok {
		return ce.Code == ErrNamespaceNotFound || ce.Name == "NamespaceNotFound"
	}
	return strings.Contains(err.Error(), "ns not found")
}

// IsNamespaceExists reports whether an error is the server refusing to
// create a namespace that is already there.
func IsNamespaceExists(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(mongo.CommandError); ok {
		return ce.Code == ErrNamespaceExists || ce.Name == "NamespaceExists"
	}
	return strings.Contains(err.Error(), "already exists")
}
