// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package db

import (
	"context"
	"time"

	"github.com/mongoclone/mongoclone/common/log"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
)

// Retry policy for transient network faults.
const (
	MaxWriteRetries  = 7
	retryBackoffBase = time.Second
	retryBackoffCap  = 30 * time.Second
)

// RetryDelay computes the backoff before the given 1-based attempt is
// retried: min(cap, base*attempt^2).
func RetryDelay(attempt int) time.Duration {
	delay := retryBackoffBase * time.Duration(attempt*attempt)
	if delay > retryBackoffCap {
		delay = retryBackoffCap
	}
	return delay
}

// BatchWriter is the narrow slice of a destination collection the retry
// logic needs. *mongo.Collection is adapted to it via CollectionWriter;
// tests substitute fakes.
type BatchWriter interface {
	// InsertMany performs an unordered bulk insert and returns how many
	// documents the server acknowledged.
	InsertMany(ctx context.Context, docs []interface{}) (int, error)
	// InsertOne inserts a single document.
	InsertOne(ctx context.Context, doc interface{}) error
	// Probe issues a lightweight liveness command against the deployment.
	Probe(ctx context.Context) error
}

// CollectionWriter adapts a *mongo.Collection to the BatchWriter interface.
type CollectionWriter struct {
	provider *SessionProvider
	coll     *mongo.Collection
	bypass   bool
}

// NewCollectionWriter returns a BatchWriter over the given collection.
// Liveness probes go through the provider owning the connection.
// bypassValidation skips destination-side document validation, matching
// what the source already accepted.
func NewCollectionWriter(provider *SessionProvider, coll *mongo.Collection, bypassValidation bool) *CollectionWriter {
	return &CollectionWriter{provider: provider, coll: coll, bypass: bypassValidation}
}

func (cw *CollectionWriter) InsertMany(ctx context.Context, docs []interface{}) (int, error) {
	opts := mopt.InsertMany().
		SetOrdered(false).
		SetBypassDocumentValidation(cw.bypass)

	res, err := cw.coll.InsertMany(ctx, docs, opts)
	if res == nil {
		return 0, err
	}
	return len(res.InsertedIDs), err
}

func (cw *CollectionWriter) InsertOne(ctx context.Context, doc interface{}) error {
	opts := mopt.InsertOne().SetBypassDocumentValidation(cw.bypass)
	_, err := cw.coll.InsertOne(ctx, doc, opts)
	return err
}

func (cw *CollectionWriter) Probe(ctx context.Context) error {
	return cw.provider.Ping(ctx)
}

// RetryingWriter commits batches to a destination with bounded-retry fault
// tolerance. A transient network fault retries the whole batch under
// exponential backoff; any fault surviving that (or any non-network fault)
// degrades to per-document inserts, each with its own bounded retry loop.
// A document failing its fallback loop is fatal for the caller.
type RetryingWriter struct {
	Dest      BatchWriter
	Namespace string

	// sleep is swapped out by tests
	sleep func(time.Duration)
}

// NewRetryingWriter returns a writer committing to dest, logging under the
// given namespace.
func NewRetryingWriter(dest BatchWriter, namespace string) *RetryingWriter {
	return &RetryingWriter{
		Dest:      dest,
		Namespace: namespace,
		sleep:     time.Sleep,
	}
}

// WriteBatch commits the batch and returns how many of its documents are
// durably present at the destination. The batch is either fully committed
// or committed document-by-document; it is never silently shortened. Any
// returned error is fatal for the collection being copied.
func (w *RetryingWriter) WriteBatch(ctx context.Context, docs []interface{}) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	var lastErr error
	for attempt := 1; attempt <= MaxWriteRetries; attempt++ {
		_, err := w.Dest.InsertMany(ctx, docs)
		if err == nil {
			return len(docs), nil
		}
		lastErr = err

		if !IsTransientNetworkError(err) {
			log.Logvf(log.Info, "warning: non-network fault inserting batch into %v, degrading to per-document inserts: %v",
				w.Namespace, err)
			return w.writeOneByOne(ctx, docs)
		}

		if attempt == MaxWriteRetries {
			break
		}
		w.backoff(ctx, attempt, "batch", err)
	}

	log.Logvf(log.Always, "warning: batch insert into %v kept failing after %v attempts, degrading to per-document inserts: %v",
		w.Namespace, MaxWriteRetries, lastErr)
	return w.writeOneByOne(ctx, docs)
}

// writeOneByOne is the fallback path: each document gets its own bounded
// retry loop. Duplicate keys are counted as committed; a prior attempt may
// have landed the document before its acknowledgment was lost.
func (w *RetryingWriter) writeOneByOne(ctx context.Context, docs []interface{}) (int, error) {
	committed := 0

	for i, doc := range docs {
		var lastErr error

	retry:
		for attempt := 1; attempt <= MaxWriteRetries; attempt++ {
			err := w.Dest.InsertOne(ctx, doc)
			switch {
			case err == nil:
				committed++
				lastErr = nil
				break retry
			case IsDuplicateKeyError(err):
				log.Logvf(log.DebugLow, "document %v of batch already present in %v, treating as committed", i, w.Namespace)
				committed++
				lastErr = nil
				break retry
			default:
				lastErr = err
				if attempt < MaxWriteRetries {
					w.backoff(ctx, attempt, "document", err)
				}
			}
		}

		if lastErr != nil {
			return committed, errors.Wrapf(lastErr,
				"giving up on document %v of batch for %v after %v attempts", i, w.Namespace, MaxWriteRetries)
		}
	}

	return committed, nil
}

// backoff waits out the attempt's delay and probes the destination so the
// log shows whether the connection has recovered. A probe failure never
// starts its own retry cycle.
func (w *RetryingWriter) backoff(ctx context.Context, attempt int, unit string, cause error) {
	delay := RetryDelay(attempt)
	log.Logvf(log.Info, "warning: transient fault writing %v to %v (attempt %v/%v), retrying in %v: %v",
		unit, w.Namespace, attempt, MaxWriteRetries, delay, cause)
	w.sleep(delay)

	if err := w.Dest.Probe(ctx); err != nil {
		log.Logvf(log.Info, "warning: liveness probe of destination failed: %v", err)
	} else {
		log.Logvf(log.DebugLow, "destination answered liveness probe")
	}
}
