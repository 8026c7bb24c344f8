// Command certstoragectl is a thin host harness for the cert-storage
// engine: it drives the dispatcher from a "main thread" goroutine the
// way an embedding browser process would. Its read-only query runs
// synchronously on that same goroutine.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/mozilla-services/cert-storage/dispatch"
	"github.com/mozilla-services/cert-storage/securitystate"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := hclog.New(&hclog.LoggerOptions{Name: "certstoragectl", Level: hclog.Info})

	profileDir := os.Getenv("CERT_STORAGE_PROFILE")
	if profileDir == "" {
		profileDir = "."
	}

	state := securitystate.New(securitystate.Config{ProfileDir: profileDir, MinCoverage: 1, Logger: log})
	d, handle := dispatch.New(state, log)
	defer d.Shutdown(handle)

	c := cli.NewCLI("certstoragectl", "0.1.0")
	c.Args = args
	c.Commands = commands(state, d, handle, log)

	exitStatus, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitStatus
}

func commands(state *securitystate.State, d *dispatch.Dispatcher, handle dispatch.Handle, log hclog.Logger) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"migrate": func() (cli.Command, error) {
			return &migrateCommand{state: state}, nil
		},
		"stats": func() (cli.Command, error) {
			return &statsCommand{state: state, dispatcher: d, handle: handle}, nil
		},
		"query-revocation": func() (cli.Command, error) {
			return &queryRevocationCommand{dispatcher: d}, nil
		},
	}
}
