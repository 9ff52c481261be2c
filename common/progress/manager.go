// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Manager handles thread-safe attaching and detaching of progress watches.
type Manager interface {
	Attach(name string, progressor Progressor)
	Detach(name string)
}

// BarWriter renders all attached progress watches as a block of progress
// lines, rewritten in place at a regular interval.
type BarWriter struct {
	sync.Mutex

	writer    io.Writer
	waitTime  time.Duration
	barLength int
	isBytes   bool

	bars     []*Bar
	stopChan chan struct{}
}

var _ Manager = &BarWriter{}

// NewBarWriter returns an initialized BarWriter with the given bar length
// and byte-formatting setting, writing to the given writer every waitTime.
func NewBarWriter(w io.Writer, waitTime time.Duration, barLength int, isBytes bool) *BarWriter {
	return &BarWriter{
		writer:    w,
		waitTime:  waitTime,
		barLength: barLength,
		isBytes:   isBytes,
	}
}

// Attach registers a new progressor to the manager under the given name.
func (manager *BarWriter) Attach(name string, progressor Progressor) {
	pb := &Bar{
		Name:      name,
		Watching:  progressor,
		BarLength: manager.barLength,
		IsBytes:   manager.isBytes,
	}

	manager.Lock()
	defer manager.Unlock()
	manager.bars = append(manager.bars, pb)
}

// Detach removes the progressor with the given name from the manager. Insert
// order of the remaining bars is preserved.
func (manager *BarWriter) Detach(name string) {
	manager.Lock()
	defer manager.Unlock()

	var kept []*Bar
	for _, bar := range manager.bars {
		if bar.Name != name {
			kept = append(kept, bar)
		}
	}
	manager.bars = kept
}

// Start kicks off the rendering goroutine. Start may be called again after
// Stop.
func (manager *BarWriter) Start() {
	manager.Lock()
	defer manager.Unlock()
	manager.stopChan = make(chan struct{})

	go manager.run(manager.stopChan)
}

// Stop halts the rendering goroutine started by Start.
func (manager *BarWriter) Stop() {
	manager.Lock()
	defer manager.Unlock()
	if manager.stopChan == nil {
		return
	}
	close(manager.stopChan)
	manager.stopChan = nil
}

func (manager *BarWriter) run(stopChan chan struct{}) {
	ticker := time.NewTicker(manager.waitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			manager.renderAllBars()
		case <-stopChan:
			return
		}
	}
}

// renderAllBars writes a full line per attached bar, plus a trailing
// separator line when more than one bar is being drawn.
func (manager *BarWriter) renderAllBars() {
	manager.Lock()
	defer manager.Unlock()

	for _, bar := range manager.bars {
		writeBuf := &lineBuffer{}
		bar.Writer = writeBuf
		bar.renderToWriter()
		manager.writer.Write(append(writeBuf.bytes, '\n'))
	}
	if len(manager.bars) > 1 {
		fmt.Fprintln(manager.writer)
	}
}

// lineBuffer collects a single rendered bar line, dropping the carriage
// return so the manager controls layout itself.
type lineBuffer struct {
	bytes []byte
}

func (lb *lineBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		if b != '\r' {
			lb.bytes = append(lb.bytes, b)
		}
	}
	return len(p), nil
}
