package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "strider API",
		Version:     "v1",
		Description: "Recorded stride-scheduler runs: dispatch traces and CPU shares",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET"}, "List recorded runs, newest first. Accepts limit, offset and state"},
			{"/api/v1/runs/{id}", []string{"GET", "DELETE"}, "Single run with its tasks"},
			{"/api/v1/runs/{id}/dispatches", []string{"GET"}, "Dispatch trace of a run in sequence order. Accepts limit and offset"},
			{"/api/v1/runs/{id}/shares", []string{"GET"}, "Observed CPU share per task next to its priority share"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
