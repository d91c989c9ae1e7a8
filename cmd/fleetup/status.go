package main

import (
	"context"
	"fmt"

	"github.com/opalmesh/fleetup/fleet"
)

// printStatus prints one line per node and a totals line. Records are read
// only, nothing is written back.
func printStatus(ctx context.Context, orch *fleet.Orchestrator) error {
	health, err := orch.Health(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-8s %-12s %7s %7s %-9s %s\n", "NODE", "ROLE", "PORT", "CTL", "STATE", "DID")

	reachable := 0

	for _, h := range health {
		state := "stopped"
		if h.Reachable {
			state = "running"
			reachable++
		}

		did := "-"
		if h.Record.HasIdentity() {
			did = h.Record.DID
		}

		fmt.Printf("%-8s %-12s %7d %7d %-9s %s\n",
			h.Record.ID, h.Record.Role, h.Record.ServerPort, h.Record.ControlPort, state, did)
	}

	fmt.Printf("\n%d/%d nodes reachable\n", reachable, len(health))

	return nil
}
