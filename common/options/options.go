// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package options implements the command-line option structs shared by the
// migration tools.
package options

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// ToolOptions gathers the options common to every tool: help, version,
// verbosity, the source/destination connection pair and namespace selection.
type ToolOptions struct {

	// The name of the tool
	AppName string

	// The version of the tool
	VersionStr string

	// The git commit reference of the tool
	GitCommit string

	// Sub-option types
	*General
	*Verbosity
	*Source
	*Destination
	*Namespace

	// Config holds the parsed configuration file, when one was given, so
	// tools can read their own sections from it.
	Config ConfigFile

	// for caching the parser
	parser *flags.Parser
}

// General holds generic options.
type General struct {
	Help       bool   `long:"help" description:"print usage"`
	Version    bool   `long:"version" description:"print the tool version and exit"`
	ConfigPath string `long:"config" value-name:"<filename>" description:"path to a YAML configuration file holding connection strings and storage credentials"`
}

// Verbosity holds verbosity-related options.
type Verbosity struct {
	SetVerbosity func(string) `short:"v" long:"verbose" value-name:"<level>" description:"more detailed log output (include multiple times for more verbosity, e.g. -vvvvv, or specify a numeric value, e.g. --verbose=N)" optional:"true" optional-value:""`
	Quiet        bool         `long:"quiet" description:"hide all log output"`
	VLevel       int          `no-flag:"true"`
}

func (v Verbosity) Level() int {
	return v.VLevel
}

func (v Verbosity) IsQuiet() bool {
	return v.Quiet
}

// Source holds the connection string for the deployment records are read from.
type Source struct {
	URI string `long:"source" value-name:"<mongodb-uri>" description:"connection string of the source deployment"`
}

// Destination holds the connection string for the deployment records are
// written to. Unused in validation-only runs.
type Destination struct {
	URI string `long:"destination" value-name:"<mongodb-uri>" description:"connection string of the destination deployment"`
}

// Namespace holds the database and collection selection.
type Namespace struct {
	DBs         []string `short:"d" long:"db" value-name:"<database-name>" description:"database to process (repeatable; every user database when omitted)"`
	Collections []string `short:"c" long:"collection" value-name:"<collection-name>" description:"collection to process (repeatable; every collection when omitted)"`
}

// ConfigFile mirrors the YAML configuration file layout. Values given on the
// command line take precedence over the file.
type ConfigFile struct {
	Source        string `yaml:"source"`
	Destination   string `yaml:"destination"`
	StorageBucket string `yaml:"storageBucket"`
	StorageRegion string `yaml:"storageRegion"`
}

// ExtraOptions groups tool-specific flags under a named section in the help
// output.
type ExtraOptions interface {
	// Name specifies the name of the option group.
	Name() string
}

// New returns a ToolOptions configured with the standard option groups.
func New(appName, versionStr, gitCommit, usageStr string) *ToolOptions {
	opts := &ToolOptions{
		AppName:    appName,
		VersionStr: versionStr,
		GitCommit:  gitCommit,

		General:     &General{},
		Verbosity:   &Verbosity{},
		Source:      &Source{},
		Destination: &Destination{},
		Namespace:   &Namespace{},

		parser: flags.NewNamedParser(
			fmt.Sprintf("%v %v", appName, usageStr),
			flags.None,
		),
	}

	opts.parser.UnknownOptionHandler = func(option string, arg flags.SplitArgument, args []string) ([]string, error) {
		return args, fmt.Errorf("unknown option: %v", option)
	}

	opts.Verbosity.SetVerbosity = func(val string) {
		if level, err := strconv.Atoi(val); err == nil {
			opts.VLevel = level
			return
		}
		// each bare -v occurrence bumps the level by one
		opts.VLevel++
	}

	// groups register in a fixed order so --help output is stable
	groups := []struct {
		name  string
		group interface{}
	}{
		{"general", opts.General},
		{"verbosity", opts.Verbosity},
		{"source", opts.Source},
		{"destination", opts.Destination},
		{"namespace", opts.Namespace},
	}
	for _, g := range groups {
		if _, err := opts.parser.AddGroup(g.name+" options", "", g.group); err != nil {
			panic(fmt.Errorf("error setting up option group %v: %v", g.name, err))
		}
	}

	return opts
}

// AddOptions registers an additional option group to this instance.
func (opts *ToolOptions) AddOptions(extraOpts ExtraOptions) {
	_, err := opts.parser.AddGroup(extraOpts.Name()+" options", "", extraOpts)
	if err != nil {
		panic(fmt.Errorf("error setting command line options for %v: %v",
			extraOpts.Name(), err))
	}
}

// ParseArgs parses the command line args, applies the config file if one was
// given, and returns any remaining positional arguments.
func (opts *ToolOptions) ParseArgs(args []string) ([]string, error) {
	extra, err := opts.parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}

	if opts.General.ConfigPath != "" {
		if err := opts.applyConfigFile(); err != nil {
			return nil, err
		}
	}

	return extra, nil
}

func (opts *ToolOptions) applyConfigFile() error {
	contents, err := ioutil.ReadFile(opts.General.ConfigPath)
	if err != nil {
		return errors.Wrapf(err, "error opening config file %v", opts.General.ConfigPath)
	}

	var config ConfigFile
	if err = yaml.UnmarshalStrict(contents, &config); err != nil {
		return errors.Wrapf(err, "error parsing config file %v", opts.General.ConfigPath)
	}
	opts.Config = config

	// command-line values win over config file values
	if opts.Source.URI == "" {
		opts.Source.URI = config.Source
	}
	if opts.Destination.URI == "" {
		opts.Destination.URI = config.Destination
	}
	return nil
}

// PrintHelp prints usage to stdout and returns true if the help flag is set.
func (opts *ToolOptions) PrintHelp(force bool) bool {
	if opts.Help || force {
		opts.parser.WriteHelp(os.Stdout)
	}
	return opts.Help || force
}

// PrintVersion prints the tool version and returns true if the version flag
// is set.
func (opts *ToolOptions) PrintVersion() bool {
	if opts.Version {
		fmt.Printf("%v version: %v\n", opts.AppName, opts.VersionStr)
		fmt.Printf("git version: %v\n", opts.GitCommit)
	}
	return opts.Version
}
