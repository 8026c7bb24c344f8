package main

import (
	"fmt"
	"strings"

	"github.com/mozilla-services/cert-storage/dispatch"
	"github.com/mozilla-services/cert-storage/securitystate"
)

type migrateCommand struct {
	state *securitystate.State
}

func (c *migrateCommand) Help() string {
	return "Usage: certstoragectl migrate\n\nOpens the security state, running the legacy revocations.txt migration if present."
}

func (c *migrateCommand) Synopsis() string { return "Run the legacy revocations migration" }

func (c *migrateCommand) Run(_ []string) int {
	if err := c.state.EnsureOpen(); err != nil {
		fmt.Println("error:", err)
		return 1
	}
	fmt.Println("security state opened; migration applied if a legacy file was present")
	return 0
}

type statsCommand struct {
	state      *securitystate.State
	dispatcher *dispatch.Dispatcher
	handle     dispatch.Handle
}

func (c *statsCommand) Help() string {
	return "Usage: certstoragectl stats\n\nPrints the outstanding-operation count and loaded filter count."
}

func (c *statsCommand) Synopsis() string { return "Print engine stats" }

func (c *statsCommand) Run(_ []string) int {
	remaining, err := c.dispatcher.RemainingOps(c.handle)
	if err != nil {
		fmt.Println("error:", err)
		return 1
	}
	fmt.Printf("outstanding operations: %d\n", remaining)
	fmt.Printf("loaded filters: %d\n", c.state.FilterCount())
	return 0
}

type queryRevocationCommand struct {
	dispatcher *dispatch.Dispatcher
}

func (c *queryRevocationCommand) Help() string {
	return "Usage: certstoragectl query-revocation <issuer> <serial> <subject> <pubkey>\n\n" +
		"All arguments are plain ASCII, not base64; this command is for manual poking, not batch loads."
}

func (c *queryRevocationCommand) Synopsis() string { return "Query the revocation state for a cert" }

func (c *queryRevocationCommand) Run(args []string) int {
	if len(args) != 4 {
		fmt.Println(strings.TrimSpace(c.Help()))
		return 1
	}
	state, err := c.dispatcher.GetRevocationState([]byte(args[0]), []byte(args[1]), []byte(args[2]), []byte(args[3]))
	if err != nil {
		fmt.Println("error:", err)
		return 1
	}
	fmt.Printf("revocation state: %d\n", state)
	return 0
}
