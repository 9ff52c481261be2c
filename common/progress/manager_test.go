// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package progress

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mongoclone/mongoclone/common/testtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// safeBuffer guards the buffer against the render goroutine writing while
// a test reads.
type safeBuffer struct {
	sync.Mutex
	bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (n int, err error) {
	b.Lock()
	defer b.Unlock()
	return b.Buffer.Write(p)
}

func (b *safeBuffer) String() string {
	b.Lock()
	defer b.Unlock()
	return b.Buffer.String()
}

func (b *safeBuffer) Reset() {
	b.Lock()
	defer b.Unlock()
	b.Buffer.Reset()
}

// newCopyRunManager sets up a manager the way a copy run drives one: a
// database-level watch plus one watch per collection namespace.
func newCopyRunManager() (*BarWriter, *safeBuffer) {
	writeBuffer := new(safeBuffer)
	manager := NewBarWriter(writeBuffer, time.Second, 10, false)

	dbWatch := NewCounter(3)
	manager.Attach("app", dbWatch)

	collWatch := NewCounter(100)
	collWatch.Inc(42)
	manager.Attach("app.users", collWatch)
	manager.Attach("app.orders", collWatch)

	return manager, writeBuffer
}

func TestManagerRendersAttachedNamespaces(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	manager, writeBuffer := newCopyRunManager()
	require.Len(t, manager.bars, 3)

	manager.renderAllBars()
	rendered := writeBuffer.String()
	assert.Contains(t, rendered, "app")
	assert.Contains(t, rendered, "app.users")
	assert.Contains(t, rendered, "app.orders")
	assert.Less(t,
		strings.Index(rendered, "app.users"),
		strings.Index(rendered, "app.orders"),
		"bars render in attach order")
}

func TestManagerDetachKeepsRemainingOrder(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	manager, writeBuffer := newCopyRunManager()

	// a finished collection detaches while the database watch stays up
	manager.Detach("app.users")
	require.Len(t, manager.bars, 2)

	manager.renderAllBars()
	rendered := writeBuffer.String()
	assert.NotContains(t, rendered, "app.users")
	assert.Contains(t, rendered, "app.orders")

	writeBuffer.Reset()

	t.Run("the next collection's bar renders after the survivors", func(t *testing.T) {
		manager.Attach("app.events", NewCounter(10))
		require.Len(t, manager.bars, 3)

		manager.renderAllBars()
		rendered := writeBuffer.String()
		assert.Contains(t, rendered, "app.orders")
		assert.Contains(t, rendered, "app.events")
		assert.Less(t,
			strings.Index(rendered, "app.orders"),
			strings.Index(rendered, "app.events"))
	})
}

func TestManagerStartAndStop(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	writeBuffer := new(safeBuffer)
	manager := NewBarWriter(writeBuffer, 10*time.Millisecond, 10, false)
	require.NotNil(t, manager)

	watching := NewCounter(10)
	watching.Inc(5)
	manager.Attach("app.users", watching)

	assert.Equal(t, 10*time.Millisecond, manager.waitTime)
	assert.Len(t, manager.bars, 1)

	t.Run("the render loop rewrites the bar block repeatedly", func(t *testing.T) {
		manager.Start()
		// enough time for the manager to render at least 4 times
		time.Sleep(time.Millisecond * 100)
		manager.Stop()

		assert.GreaterOrEqual(t, strings.Count(writeBuffer.String(), "app.users"), 4)
	})

	t.Run("a stopped manager can be started again", func(t *testing.T) {
		assert.NotPanics(t, manager.Start)
		assert.NotPanics(t, manager.Stop)
	})
}

func TestManagerWritesPerRender(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	t.Run("a single bar renders as one write", func(t *testing.T) {
		cw := new(countingWriter)
		manager := NewBarWriter(cw, time.Millisecond*10, 10, false)
		manager.Attach("app.users", NewCounter(10))

		manager.renderAllBars()
		assert.Equal(t, 1, cw.count())
	})

	t.Run("grouped bars get a trailing separator write", func(t *testing.T) {
		cw := new(countingWriter)
		manager := NewBarWriter(cw, time.Millisecond*10, 10, false)
		manager.Attach("app", NewCounter(3))
		manager.Attach("app.users", NewCounter(10))

		manager.renderAllBars()
		assert.Equal(t, 3, cw.count(), "one write per bar plus the separator")
	})

	t.Run("a whole database's worth of bars still writes once per bar", func(t *testing.T) {
		cw := new(countingWriter)
		manager := NewBarWriter(cw, time.Millisecond*10, 10, false)
		manager.Attach("app", NewCounter(57))
		for i := 0; i < 56; i++ {
			manager.Attach(fmt.Sprintf("app.coll%02d", i), NewCounter(10))
		}
		require.Len(t, manager.bars, 57)

		manager.renderAllBars()
		assert.Equal(t, 58, cw.count(), "one write per bar plus the separator")
	})
}

// countingWriter counts calls, not bytes.
type countingWriter int

func (cw countingWriter) count() int {
	return int(cw)
}

func (cw *countingWriter) Write(b []byte) (int, error) {
	*cw++
	return len(b), nil
}
