package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"ospf-simulation/internal/sim"
)

// Controller is the part of the runner the HTTP API drives.
type Controller interface {
	Suspend(id int) error
	Resume(id int) error
	Status() sim.Status
}

// NodePayload defines the expected JSON payload for suspend and resume.
type NodePayload struct {
	Node *int `json:"node"`
}

// SuspendHandler silences a router or the aggregator in the active run.
func SuspendHandler(ctl Controller, logger *zap.Logger) http.HandlerFunc {
	return nodeHandler("suspended", ctl.Suspend, logger)
}

// ResumeHandler brings a suspended actor back.
func ResumeHandler(ctl Controller, logger *zap.Logger) http.HandlerFunc {
	return nodeHandler("resumed", ctl.Resume, logger)
}

func nodeHandler(verb string, apply func(int) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var payload NodePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if payload.Node == nil {
			http.Error(w, "missing node", http.StatusBadRequest)
			return
		}

		id := *payload.Node
		if err := apply(id); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, sim.ErrNoRun) {
				status = http.StatusConflict
			}
			http.Error(w, err.Error(), status)
			return
		}
		logger.Info("node "+verb+" over http", zap.Int("node", id))
		fmt.Fprintf(w, "Node %d %s\n", id, verb)
	}
}

// StatusHandler reports the active run as JSON.
func StatusHandler(ctl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ctl.Status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
