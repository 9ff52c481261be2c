// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package testtype gates tests on the kind of environment they require.
package testtype

import (
	"os"
	"strings"
	"testing"
)

const (
	// UnitTestType tests require no external services.
	UnitTestType = "unit"
	// IntegrationTestType tests require a live mongod.
	IntegrationTestType = "integration"
)

// HasTestType returns whether the environment enables the given test type.
// Unit tests are always enabled unless explicitly disabled.
func HasTestType(testType string) bool {
	env := "TOOLS_TESTING_" + strings.ToUpper(testType)
	if testType == UnitTestType {
		return os.Getenv(env) != "false"
	}
	return os.Getenv(env) == "true"
}

// SkipUnlessTestType skips the test unless its type is enabled.
func SkipUnlessTestType(t *testing.T, testType string) {
	if !HasTestType(testType) {
		t.Skipf("skipping %v test", testType)
	}
}
