// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongoclone

import (
	"fmt"
	"testing"

	"github.com/mongoclone/mongoclone/common/testtype"
	"github.com/mongoclone/mongoclone/common/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAsk replays canned answers and records which databases it was
// asked about, in order.
func scriptedAsk(answers map[string]Decision) (DecisionFunc, *[]string) {
	asked := []string{}
	ask := func(dbName string) (Decision, error) {
		asked = append(asked, dbName)
		decision, ok := answers[dbName]
		if !ok {
			return 0, fmt.Errorf("unexpected conflict prompt for %v", dbName)
		}
		return decision, nil
	}
	return ask, &asked
}

func TestResolveConflicts(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	t.Run("no overlap asks nothing", func(t *testing.T) {
		ask, asked := scriptedAsk(nil)
		decisions, err := ResolveConflicts(
			[]string{"alpha", "beta"}, []string{"gamma"}, ask)
		require.NoError(t, err)
		assert.Empty(t, decisions)
		assert.Empty(t, *asked)
	})

	t.Run("asks once per conflict in selection order", func(t *testing.T) {
		ask, asked := scriptedAsk(map[string]Decision{
			"beta":  DecisionSkip,
			"alpha": DecisionOverwrite,
		})
		decisions, err := ResolveConflicts(
			[]string{"alpha", "beta", "delta"},
			[]string{"beta", "alpha", "unrelated"},
			ask)
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "beta"}, *asked)
		assert.Equal(t, map[string]Decision{
			"alpha": DecisionOverwrite,
			"beta":  DecisionSkip,
		}, decisions)
	})

	t.Run("abort stops resolution immediately", func(t *testing.T) {
		ask, asked := scriptedAsk(map[string]Decision{
			"alpha": DecisionAbort,
		})
		decisions, err := ResolveConflicts(
			[]string{"alpha", "beta"},
			[]string{"alpha", "beta"},
			ask)
		assert.ErrorIs(t, err, ErrRunAborted)
		assert.ErrorIs(t, err, util.ErrTerminated, "abort reads as a terminated run")
		assert.Nil(t, decisions)
		assert.Equal(t, []string{"alpha"}, *asked, "no prompt after abort")
	})

	t.Run("prompt errors propagate", func(t *testing.T) {
		ask := func(string) (Decision, error) {
			return 0, fmt.Errorf("stdin closed")
		}
		_, err := ResolveConflicts([]string{"alpha"}, []string{"alpha"}, ask)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stdin closed")
	})
}

func TestParseDecision(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	cases := []struct {
		answer string
		want   Decision
		ok     bool
	}{
		{"overwrite", DecisionOverwrite, true},
		{"o", DecisionOverwrite, true},
		{" Skip \n", DecisionSkip, true},
		{"s", DecisionSkip, true},
		{"ABORT", DecisionAbort, true},
		{"a", DecisionAbort, true},
		{"", 0, false},
		{"yes", 0, false},
	}
	for _, c := range cases {
		got, err := ParseDecision(c.answer)
		if !c.ok {
			assert.Error(t, err, "answer %q", c.answer)
			continue
		}
		require.NoError(t, err, "answer %q", c.answer)
		assert.Equal(t, c.want, got, "answer %q", c.answer)
	}
}

func TestDecisionString(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	assert.Equal(t, "overwrite", DecisionOverwrite.String())
	assert.Equal(t, "skip", DecisionSkip.String())
	assert.Equal(t, "abort", DecisionAbort.String())
}
