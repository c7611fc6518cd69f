package server

import "net/http"

type discoveryResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:    "kernsim",
		Version: "0.1.0",
		Endpoints: map[string]string{
			"runs":    "/api/v1/runs",
			"run":     "/api/v1/runs/{id}",
			"events":  "/api/v1/runs/{id}/events",
			"threads": "/api/v1/runs/{id}/threads",
			"health":  "/healthz",
		},
	})
}
