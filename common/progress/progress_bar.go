// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package progress exposes utilities for rendering in-place updating
// progress lines for long-running operations.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Drawing characters for the progress bar.
const (
	BarFilling = "#"
	BarEmpty   = "."
	BarLeft    = "["
	BarRight   = "]"
)

const DefaultWaitTime = 3 * time.Second

// Progressor can report the current amount of work done against a fixed
// maximum. A max of zero means the total is unknown.
type Progressor interface {
	Progress() (current, max int64)
}

// Counter is the most basic Progressor. Safe for concurrent use.
type Counter struct {
	max     int64
	current int64
}

// NewCounter returns a Counter that counts towards the given maximum.
func NewCounter(max int64) *Counter {
	return &Counter{max: max}
}

// Inc increments the current progress amount.
func (c *Counter) Inc(amount int64) {
	atomic.AddInt64(&c.current, amount)
}

// Set sets the current progress amount.
func (c *Counter) Set(amount int64) {
	atomic.StoreInt64(&c.current, amount)
}

// Progress returns the current and maximum progress amounts.
func (c *Counter) Progress() (int64, int64) {
	return atomic.LoadInt64(&c.current), c.max
}

// Bar renders a single progress line to a writer at a regular interval,
// watching a Progressor for updates.
type Bar struct {
	Name      string
	Watching  Progressor
	Writer    io.Writer
	BarLength int
	WaitTime  time.Duration
	IsBytes   bool

	stopChan  chan struct{}
	stopOnce  sync.Once
	isStarted bool
}

// Start begins rendering the bar in a background goroutine. It panics if
// the bar was already started or is missing a watch target.
func (pb *Bar) Start() {
	pb.validate()
	pb.isStarted = true

	go pb.start()
}

func (pb *Bar) validate() {
	if pb.Watching == nil {
		panic("Cannot use a Bar with a nil Watching")
	}
	if pb.stopChan != nil {
		panic("Cannot start a Bar more than once")
	}
	pb.stopChan = make(chan struct{})
}

// Stop renders the bar one final time and halts the background goroutine.
// It panics if the bar was never started.
func (pb *Bar) Stop() {
	if !pb.isStarted {
		panic("Cannot stop a Bar that was never started")
	}
	pb.stopOnce.Do(func() {
		close(pb.stopChan)
		pb.renderToWriter()
	})
}

func (pb *Bar) start() {
	if pb.WaitTime <= 0 {
		pb.WaitTime = DefaultWaitTime
	}
	ticker := time.NewTicker(pb.WaitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pb.renderToWriter()
		case <-pb.stopChan:
			return
		}
	}
}

func (pb *Bar) renderToWriter() {
	current, max := pb.Watching.Progress()

	if max <= 0 {
		// open-ended count, no bar to draw
		fmt.Fprintf(pb.Writer, "%v\t%v", pb.Name, pb.formatCount(current))
		return
	}

	percent := float64(current) / float64(max)
	fmt.Fprintf(pb.Writer, "\r%v %v %v/%v (%2.1f%%)",
		pb.Name,
		drawBar(pb.BarLength, percent),
		pb.formatCount(current),
		pb.formatCount(max),
		percent*100,
	)
}

func (pb *Bar) formatCount(amount int64) string {
	if pb.IsBytes {
		return formatByteAmount(amount)
	}
	return fmt.Sprintf("%v", amount)
}

// drawBar returns a drawn progress bar of a given width filled to the given
// ratio, clamped to [0,1].
func drawBar(width int, percent float64) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 1 {
		percent = 1
	}
	fillWidth := int(percent * float64(width))
	if fillWidth > width {
		fillWidth = width
	}
	return BarLeft +
		strings.Repeat(BarFilling, fillWidth) +
		strings.Repeat(BarEmpty, width-fillWidth) +
		BarRight
}

// formatByteAmount renders a byte count using a human-readable unit.
func formatByteAmount(size int64) string {
	switch {
	case size >= 1024*1024*1024:
		return fmt.Sprintf("%.1f GB", float64(size)/(1024*1024*1024))
	case size >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size >= 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%v B", size)
	}
}
