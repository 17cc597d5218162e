// Package master implements the server browser: match servers register and
// heartbeat here, clients fetch the live listing.
package master

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ServerInfo describes a match server visible to clients.
type ServerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Phase      string `json:"phase"`
	Version    string `json:"version"`
}

type serverRecord struct {
	ServerInfo
	LastSeen time.Time
}

// Registry is an in-memory store of live match servers with TTL expiry.
type Registry struct {
	log     logrus.FieldLogger
	mu      sync.RWMutex
	servers map[string]*serverRecord
	ttl     time.Duration
	stopCh  chan struct{}
}

// NewRegistry creates a registry that expires servers not heard from within
// ttl, sweeping in the background until Stop.
func NewRegistry(log logrus.FieldLogger, ttl time.Duration) *Registry {
	r := &Registry{
		log:     log,
		servers: make(map[string]*serverRecord),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Stop ends the background sweep.
func (r *Registry) Stop() {
	close(r.stopCh)
}

// Register stores a server and returns its assigned id.
func (r *Registry) Register(info ServerInfo) string {
	info.ID = uuid.NewString()
	r.mu.Lock()
	r.servers[info.ID] = &serverRecord{
		ServerInfo: info,
		LastSeen:   time.Now(),
	}
	r.mu.Unlock()
	r.log.WithFields(logrus.Fields{"id": info.ID, "name": info.Name, "address": info.Address}).
		Info("server registered")
	return info.ID
}

// Heartbeat refreshes a server's liveness and occupancy. Returns false for
// ids the registry no longer knows, telling the server to re-register.
func (r *Registry) Heartbeat(id string, players int, phase string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.servers[id]
	if !ok {
		return false
	}
	rec.LastSeen = time.Now()
	rec.Players = players
	if phase != "" {
		rec.Phase = phase
	}
	return true
}

// List returns every live server.
func (r *Registry) List() []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerInfo, 0, len(r.servers))
	for _, rec := range r.servers {
		out = append(out, rec.ServerInfo)
	}
	return out
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.servers {
		if now.Sub(rec.LastSeen) >= r.ttl {
			r.log.WithFields(logrus.Fields{"id": id, "name": rec.Name}).
				Info("expiring silent server")
			delete(r.servers, id)
		}
	}
}
