package fleetapi

import (
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/opalmesh/fleetup/fleet"
)

type phaseResult struct {
	Phase     string
	Succeeded int
	Total     int
}

type runSummary struct {
	Mode   string
	Ok     bool
	Phases []phaseResult
}

func newRunSummary(summary *fleet.Summary) *runSummary {
	results := summary.Results()
	phases := make([]phaseResult, len(results))

	for i, res := range results {
		phases[i] = phaseResult{
			Phase:     res.Phase.String(),
			Succeeded: res.Succeeded,
			Total:     res.Total,
		}
	}

	return &runSummary{
		Mode:   summary.Mode.String(),
		Ok:     summary.Ok(),
		Phases: phases,
	}
}

type fleetAPI struct {
	fleet Fleet

	mu      sync.Mutex
	busy    bool
	lastRun *runSummary
}

func newFleetAPI(fleet Fleet) *fleetAPI {
	return &fleetAPI{fleet: fleet}
}

func (api *fleetAPI) Bind(r chi.Router) {
	r.Post("/fleet/up", api.handleUp)
	r.Post("/fleet/down", api.handleDown)
	r.Get("/fleet/summary", api.handleSummary)
}

// acquire marks a run in flight. Only one bring-up or teardown runs at a
// time: they fight over the same processes and the same metadata file.
func (api *fleetAPI) acquire() bool {
	api.mu.Lock()
	defer api.mu.Unlock()

	if api.busy {
		return false
	}

	api.busy = true

	return true
}

func (api *fleetAPI) release(summary *runSummary) {
	api.mu.Lock()
	defer api.mu.Unlock()

	api.busy = false

	if summary != nil {
		api.lastRun = summary
	}
}

func (api *fleetAPI) handleUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transactions int  `json:"transactions"`
		Fresh        bool `json:"fresh"`
	}

	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if !api.acquire() {
		http.Error(w, "a fleet run is already in flight", http.StatusConflict)
		return
	}

	summary, err := api.fleet.Up(r.Context(), fleet.UpOptions{
		Fresh:            req.Fresh,
		TransactionNodes: req.Transactions,
	})

	// an aborted run still counts as the last run
	var view *runSummary
	if summary != nil {
		view = newRunSummary(summary)
	}

	api.release(view)

	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, view)
}

func (api *fleetAPI) handleDown(w http.ResponseWriter, r *http.Request) {
	if !api.acquire() {
		http.Error(w, "a fleet run is already in flight", http.StatusConflict)
		return
	}
	defer api.release(nil)

	if err := api.fleet.Down(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, fleet.ErrNoMetadata) {
			status = http.StatusNotFound
		}

		http.Error(w, err.Error(), status)

		return
	}

	render.JSON(w, r, &struct {
		Stopped bool
	}{Stopped: true})
}

func (api *fleetAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	api.mu.Lock()
	lastRun := api.lastRun
	api.mu.Unlock()

	if lastRun == nil {
		http.Error(w, "no fleet run has completed yet", http.StatusNotFound)
		return
	}

	render.JSON(w, r, lastRun)
}
