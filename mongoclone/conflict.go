// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongoclone

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/mongoclone/mongoclone/common/log"
	"github.com/mongoclone/mongoclone/common/util"
	"github.com/pkg/errors"
)

// Decision is the per-database answer for a destination conflict.
type Decision int

const (
	// DecisionOverwrite drops the whole destination database before its
	// collections are recreated.
	DecisionOverwrite Decision = iota
	// DecisionSkip leaves the conflicting database untouched.
	DecisionSkip
	// DecisionAbort cancels the entire run before any mutation.
	DecisionAbort
)

func (d Decision) String() string {
	switch d {
	case DecisionOverwrite:
		return "overwrite"
	case DecisionSkip:
		return "skip"
	case DecisionAbort:
		return "abort"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// ParseDecision reads a decision from user input.
func ParseDecision(answer string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "overwrite", "o":
		return DecisionOverwrite, nil
	case "skip", "s":
		return DecisionSkip, nil
	case "abort", "a":
		return DecisionAbort, nil
	}
	return DecisionAbort, fmt.Errorf("unrecognized answer %q (expected overwrite, skip or abort)", answer)
}

// DecisionFunc obtains the decision for one conflicting database name. The
// interactive wizard provides one; tests provide canned answers.
type DecisionFunc func(dbName string) (Decision, error)

// ErrRunAborted reports a user-directed abort during conflict resolution.
// No destination database, conflicting or not, has been touched when it is
// returned. It unwraps to util.ErrTerminated so callers can treat it like
// any other cut-short run.
var ErrRunAborted = errors.Wrap(util.ErrTerminated, "run aborted during conflict resolution")

// ResolveConflicts intersects the selected source databases with what
// already exists at the destination and collects a decision per conflict,
// in selection order, before any write begins. The first abort answer
// terminates resolution immediately.
func ResolveConflicts(selected, existing []string, ask DecisionFunc) (map[string]Decision, error) {
	existingSet := mapset.NewThreadUnsafeSet(existing...)

	decisions := make(map[string]Decision)
	for _, name := range selected {
		if !existingSet.Contains(name) {
			continue
		}

		log.Logvf(log.Info, "database %v already holds data at the destination", name)
		decision, err := ask(name)
		if err != nil {
			return nil, errors.Wrapf(err, "error resolving conflict for database %v", name)
		}
		if decision == DecisionAbort {
			return nil, ErrRunAborted
		}
		decisions[name] = decision
	}

	return decisions, nil
}
