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
		Name:        "blaze API",
		Version:     "v1",
		Description: "Task admission runtime: per-application queues, input hydration and wait-time estimates",
		Endpoints: []endpointInfo{
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/api/v1/queue", []string{"GET"}, "Execution queue length and wait counters"},
			{"/api/v1/apps/{appID}/tasks", []string{"POST"}, "Create and enqueue a task for an application"},
			{"/api/v1/tasks/{id}", []string{"GET"}, "Task status and readiness"},
			{"/api/v1/tasks/{id}/wait-time", []string{"GET"}, "Best and worst case wait estimate"},
			{"/api/v1/tasks/{id}/data", []string{"POST"}, "Announce a ready input partition"},
			{"/api/v1/tasks/{id}/output", []string{"GET"}, "Pop one output block"},
			{"/api/v1/executions", []string{"GET"}, "Recorded executions, newest first"},
		},
	})
}
