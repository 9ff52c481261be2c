// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongoclone

import (
	"fmt"

	"github.com/mongoclone/mongoclone/common/options"
	"github.com/mongoclone/mongoclone/externalize"
)

var Usage = `<options>

Copy databases between two deployments, or rewrite their records into
object-storage head documents.

Connection strings must begin with mongodb:// or mongodb+srv://.`

// Options holds the parsed command line for mongoclone.
type Options struct {
	*options.ToolOptions
	*CopyOptions
	*ExternalizeOptions
}

// CopyOptions hold the flags of the plain copy mode.
type CopyOptions struct {
	BatchSize                int  `long:"batchSize" value-name:"<count>" default:"50" description:"documents per copy page; small pages avoid idle-socket disconnects on managed deployments"`
	NoIndexSync              bool `long:"noIndexSync" description:"do not replay secondary indexes after copying a collection"`
	BypassDocumentValidation bool `long:"bypassDocumentValidation" description:"skip document validation at the destination"`
}

// Name returns a human-readable group name for copy options.
func (*CopyOptions) Name() string {
	return "copy"
}

// ExternalizeOptions hold the flags of externalization mode.
type ExternalizeOptions struct {
	Externalize bool   `long:"externalize" description:"replace each record with a head document pointing into object storage instead of copying"`
	Resume      bool   `long:"resume" description:"skip records whose head document already carries a storage pointer"`
	Validate    bool   `long:"validate" description:"after migrating, read back every storage object referenced by a head document"`
	Bucket      string `long:"bucket" value-name:"<bucket-name>" description:"object storage bucket receiving externalized records"`
	Region      string `long:"region" value-name:"<region>" default:"us-east-1" description:"object storage region"`
}

// Name returns a human-readable group name for externalization options.
func (*ExternalizeOptions) Name() string {
	return "externalization"
}

// ParseOptions reads the command line into an Options.
func ParseOptions(rawArgs []string, versionStr, gitCommit string) (Options, error) {
	opts := options.New("mongoclone", versionStr, gitCommit, Usage)

	copyOpts := &CopyOptions{}
	opts.AddOptions(copyOpts)
	externalizeOpts := &ExternalizeOptions{}
	opts.AddOptions(externalizeOpts)

	extraArgs, err := opts.ParseArgs(rawArgs)
	if err != nil {
		return Options{}, err
	}
	if len(extraArgs) > 0 {
		return Options{}, fmt.Errorf("error parsing positional arguments: %v", extraArgs)
	}

	// the config file may carry the storage section; flags win
	if externalizeOpts.Bucket == "" {
		externalizeOpts.Bucket = opts.Config.StorageBucket
	}
	if opts.Config.StorageRegion != "" && externalizeOpts.Region == "us-east-1" {
		externalizeOpts.Region = opts.Config.StorageRegion
	}

	parsed := Options{opts, copyOpts, externalizeOpts}
	if err := parsed.validate(); err != nil {
		return Options{}, err
	}
	return parsed, nil
}

func (opts Options) validate() error {
	if opts.Help || opts.Version {
		return nil
	}
	if opts.Source.URI == "" {
		return fmt.Errorf("a source connection string is required (--source or the config file)")
	}
	for _, coll := range opts.Namespace.Collections {
		if externalize.IsInternalNamespace(coll) {
			return fmt.Errorf("collection %v is reserved for externalization bookkeeping", coll)
		}
	}
	if opts.Externalize {
		if opts.Bucket == "" {
			return fmt.Errorf("externalization mode requires --bucket")
		}
		if len(opts.Namespace.DBs) != 1 {
			return fmt.Errorf("externalization mode operates on exactly one database (-d)")
		}
		return nil
	}
	if opts.Resume || opts.Validate {
		return fmt.Errorf("--resume and --validate only apply to externalization mode")
	}
	if opts.Destination.URI == "" {
		return fmt.Errorf("a destination connection string is required (--destination or the config file)")
	}
	return nil
}
