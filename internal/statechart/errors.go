package statechart

import (
	"errors"

	"github.com/digitect38/xstatenet/internal/orchestrator"
)

// errNoOrchestratedContext indicates the adapter was invoked outside an
// orchestrator turn, which should be unreachable: only worker.go calls
// ProcessEventAsync, and it always attaches an OrchestratedContext first.
var errNoOrchestratedContext = errors.New("statechart: no OrchestratedContext on context; adapter must run inside an orchestrator turn")

// orchestratorShutdownErr surfaces as orchestrator.Shutdown (§4.2:
// "further ProcessEventAsync must fail with Shutdown").
func orchestratorShutdownErr() error {
	return &orchestrator.Error{Kind: orchestrator.Shutdown, Message: "machine stopped"}
}
