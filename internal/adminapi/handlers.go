// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package adminapi exposes the offload engine's administrative commands
// over HTTP.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vswitchd/flowoffload/internal/offload"
)

// AuxLookup resolves a tunnel vport's name to its composition state, the
// same lookup the worker performs through a PortResolver, narrowed to
// what the dump command needs.
type AuxLookup func(port string) (*offload.CompositionAux, bool)

// Handlers serves the offload engine's admin commands.
type Handlers struct {
	lookup AuxLookup
}

// NewHandlers builds Handlers backed by lookup.
func NewHandlers(lookup AuxLookup) *Handlers {
	return &Handlers{lookup: lookup}
}

// RegisterRoutes registers the offload admin routes under router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/offload/dump-vtp/{port}", h.handleDumpVTP).Methods("GET")
}

// handleDumpVTP implements the "offload/dump-vtp" administrative
// command as a JSON HTTP response.
func (h *Handlers) handleDumpVTP(w http.ResponseWriter, r *http.Request) {
	port := mux.Vars(r)["port"]

	aux, found := h.lookup(port)
	if !found {
		respondWithJSON(w, http.StatusNotFound, map[string]string{
			"error": "no composition state for port " + port,
		})
		return
	}

	dump := offload.DumpVTP(port, aux)
	respondWithJSON(w, http.StatusOK, dumpResponse{
		Port:         dump.Port,
		Ingress:      dump.Ingress,
		TnlPop:       dump.TnlPop,
		Composed:     dump.Composed,
		AnomalyCount: dump.AnomalyCount(),
	})
}

// dumpResponse flattens offload.VTPDump's unexported anomaly counter
// into a JSON-visible field.
type dumpResponse struct {
	Port         string               `json:"port"`
	Ingress      []offload.VTPIngress `json:"ingress"`
	TnlPop       []offload.VTPTnlPop  `json:"tnlpop"`
	Composed     []string             `json:"composed"`
	AnomalyCount uint64               `json:"anomaly_count"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
