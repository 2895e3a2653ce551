// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command attendux-sync runs the Attendux sync agent: it reads punches
// from the company's terminals and uploads them to the Attendux cloud,
// and serves a local API for the desktop shell.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/attendux/syncagent/internal/cloud"
	"github.com/attendux/syncagent/internal/controlapi"
)

var logger = loggo.GetLogger("attendux.cmd")

const (
	connectorZK          = "zk"
	connectorUnavailable = "unavailable"

	defaultLogFile = "attendux_sync.log"
)

type options struct {
	dir           string
	apiAddress    string
	logFile       string
	baseURL       string
	connectorKind string
	debug         bool
}

func main() {
	os.Exit(Main(os.Args[1:], os.Stderr))
}

// Main runs the agent until it is interrupted, and returns the process
// exit code.
func Main(args []string, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, gnuflag.ErrHelp) {
		return 0
	} else if err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 2
	}
	if err := run(opts, stderr); err != nil {
		logger.Errorf("%v", err)
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 1
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	f := gnuflag.NewFlagSet("attendux-sync", gnuflag.ContinueOnError)
	f.SetOutput(stderr)
	f.StringVar(&opts.dir, "dir", "", "agent directory holding settings and logs (default ~/.attendux_sync)")
	f.StringVar(&opts.apiAddress, "api-address", controlapi.DefaultAddress, "address of the local control API, empty to disable it")
	f.StringVar(&opts.logFile, "log-file", defaultLogFile, `log file, relative to the agent directory; "-" logs to stderr`)
	f.StringVar(&opts.baseURL, "base-url", cloud.DefaultBaseURL, "Attendux sync API")
	f.StringVar(&opts.connectorKind, "connector", connectorZK, `device connector: "zk" or "unavailable"`)
	f.BoolVar(&opts.debug, "debug", false, "log at debug level")
	if err := f.Parse(true, args); err != nil {
		return options{}, err
	}
	if f.NArg() > 0 {
		return options{}, errors.Errorf("unrecognized args: %q", f.Args())
	}
	switch opts.connectorKind {
	case connectorZK, connectorUnavailable:
	default:
		return options{}, errors.NotValidf("connector %q", opts.connectorKind)
	}
	return opts, nil
}
