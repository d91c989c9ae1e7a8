package fleet

import (
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Phase identifies a step of the bring-up sequence. Phases always run in
// declaration order and never repeat within a run.
type Phase uint8

const (
	// PhaseStarted covers process launch and the readiness probe.
	PhaseStarted Phase = iota + 1

	// PhaseIdentitiesCreated covers DID creation on fresh fleets.
	PhaseIdentitiesCreated

	// PhaseRegistered covers announcing each DID to the network.
	PhaseRegistered

	// PhaseQuorumDistributed covers pushing the quorum list to every node.
	PhaseQuorumDistributed

	// PhaseQuorumActivated covers quorum key setup on quorum nodes.
	PhaseQuorumActivated

	// PhaseAssetsIssued covers test token issuance and balance verification.
	PhaseAssetsIssued

	// PhasePersisted covers writing the fleet metadata back to disk.
	PhasePersisted
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseStarted:
		return "started"
	case PhaseIdentitiesCreated:
		return "identities-created"
	case PhaseRegistered:
		return "registered"
	case PhaseQuorumDistributed:
		return "quorum-distributed"
	case PhaseQuorumActivated:
		return "quorum-activated"
	case PhaseAssetsIssued:
		return "assets-issued"
	case PhasePersisted:
		return "persisted"
	default:
		return ""
	}
}

// PhaseResult counts how many of the nodes a phase operated on succeeded.
type PhaseResult struct {
	Phase     Phase
	Succeeded int
	Total     int
}

// Summary is the per-phase outcome of a bring-up run. A run that aborted
// holds only the phases reached before the abort.
type Summary struct {
	Mode    Mode
	results []PhaseResult
}

func newSummary(mode Mode) *Summary {
	return &Summary{Mode: mode}
}

func (s *Summary) add(phase Phase, succeeded, total int) {
	s.results = append(s.results, PhaseResult{
		Phase:     phase,
		Succeeded: succeeded,
		Total:     total,
	})
}

// Results returns the phase outcomes in execution order.
func (s *Summary) Results() []PhaseResult {
	results := make([]PhaseResult, len(s.results))
	copy(results, s.results)

	return results
}

// Ok reports whether every executed phase fully succeeded.
func (s *Summary) Ok() bool {
	for _, res := range s.results {
		if res.Succeeded < res.Total {
			return false
		}
	}

	return true
}

// Log writes the per-phase outcome to the logger, one line per phase.
func (s *Summary) Log(logger kitlog.Logger) {
	for _, res := range s.results {
		level.Info(logger).Log(
			"msg", "phase result",
			"phase", res.Phase,
			"succeeded", res.Succeeded,
			"total", res.Total,
		)
	}
}
