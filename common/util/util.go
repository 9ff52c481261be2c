// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package util provides helpers shared by every tool in the suite.
package util

import (
	"fmt"

	"github.com/pkg/errors"
)

// Process exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// ErrTerminated is returned when a run is cut short by an abort decision.
var ErrTerminated = errors.New("received termination signal")

// Pluralize takes an amount and two strings denoting the singular and plural
// noun and returns the singular or plural noun depending on the amount.
func Pluralize(amount int, singular, plural string) string {
	if amount == 1 {
		return singular
	}
	return plural
}

// ShortUsage returns a one-line hint pointing at the tool's help output.
func ShortUsage(tool string) string {
	return fmt.Sprintf("try '%s --help' for more information", tool)
}

// PercentComplete formats n out of total as a percentage string, guarding
// against a zero total.
func PercentComplete(n, total int64) string {
	if total <= 0 {
		return "100.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(n)/float64(total)*100)
}
