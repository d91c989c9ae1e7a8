package fleetapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/opalmesh/fleetup/fleet"
)

type nodeInfo struct {
	ID          string
	Index       int
	Role        string
	Status      string
	ServerPort  int
	ControlPort int
	DID         string `json:",omitempty"`
	PeerID      string `json:",omitempty"`
	Reachable   bool
}

func newNodeInfo(h fleet.NodeHealth) nodeInfo {
	return nodeInfo{
		ID:          h.Record.ID,
		Index:       h.Record.Index,
		Role:        h.Record.Role.String(),
		Status:      h.Record.Status.String(),
		ServerPort:  h.Record.ServerPort,
		ControlPort: h.Record.ControlPort,
		DID:         h.Record.DID,
		PeerID:      h.Record.PeerID,
		Reachable:   h.Reachable,
	}
}

type nodesAPI struct {
	fleet Fleet
}

func newNodesAPI(fleet Fleet) *nodesAPI {
	return &nodesAPI{fleet: fleet}
}

func (api *nodesAPI) Bind(r chi.Router) {
	r.Get("/fleet/nodes", api.handleList)
	r.Get("/fleet/nodes/{id}", api.handleGet)
}

func (api *nodesAPI) handleList(w http.ResponseWriter, r *http.Request) {
	health, err := api.fleet.Health(r.Context())
	if err != nil {
		writeFleetError(w, err)
		return
	}

	resp := make([]nodeInfo, len(health))
	for i, h := range health {
		resp[i] = newNodeInfo(h)
	}

	render.JSON(w, r, resp)
}

func (api *nodesAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	health, err := api.fleet.Health(r.Context())
	if err != nil {
		writeFleetError(w, err)
		return
	}

	for _, h := range health {
		if h.Record.ID == id {
			render.JSON(w, r, newNodeInfo(h))
			return
		}
	}

	http.Error(w, "unknown node: "+id, http.StatusNotFound)
}

func writeFleetError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, fleet.ErrNoMetadata) {
		status = http.StatusNotFound
	}

	http.Error(w, err.Error(), status)
}
