package fleetapi

import (
	"context"

	"github.com/opalmesh/fleetup/fleet"
)

// Fleet is the part of the orchestrator the operator API serves.
type Fleet interface {
	Up(ctx context.Context, opts fleet.UpOptions) (*fleet.Summary, error)
	Down(ctx context.Context) error
	Health(ctx context.Context) ([]fleet.NodeHealth, error)
}
