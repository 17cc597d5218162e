package master

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRequest is the body a match server posts to join the listing.
type RegisterRequest struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Phase      string `json:"phase"`
	Version    string `json:"version"`
}

// RegisterResponse carries the id assigned to a registered server.
type RegisterResponse struct {
	ID string `json:"id"`
}

// HeartbeatRequest refreshes a registration.
type HeartbeatRequest struct {
	ID      string `json:"id"`
	Players int    `json:"players"`
	Phase   string `json:"phase"`
}

const maxRequestBody = 1 << 16 // 64 KB

// Routes builds the HTTP surface for a registry.
func Routes(reg *Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/servers", listServers(reg))
	r.Post("/servers/register", registerServer(reg))
	r.Post("/servers/heartbeat", heartbeat(reg))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func listServers(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, reg.List())
	}
}

func registerServer(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		if req.Name == "" || req.Address == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and address required"})
			return
		}
		id := reg.Register(ServerInfo{
			Name:       req.Name,
			Address:    req.Address,
			Players:    req.Players,
			MaxPlayers: req.MaxPlayers,
			Phase:      req.Phase,
			Version:    req.Version,
		})
		writeJSON(w, http.StatusCreated, RegisterResponse{ID: id})
	}
}

func heartbeat(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		var req HeartbeatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		if !reg.Heartbeat(req.ID, req.Players, req.Phase) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown server"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
