package core

import (
	"sort"
	"strings"

	"github.com/openkart/matchserver/shared/protocol"
	"github.com/openkart/matchserver/shared/settings"
)

// Client is one connected game client.
type Client struct {
	ID   protocol.ClientID
	Name string
}

// PlayerKey identifies a player: a client may field several local players,
// one per controller slot.
type PlayerKey struct {
	ClientID  protocol.ClientID
	CtrlIndex int
}

// Player is one lobby participant owned by a client.
type Player struct {
	ClientID    protocol.ClientID
	CtrlIndex   int
	Name        string
	CharacterID int
	Ready       bool
}

// MatchState is the single authoritative model of the session: connected
// clients, their players, and the active match settings. It is owned by the
// session loop, which is the sole caller of every method, so no locking is
// needed here.
type MatchState struct {
	clients  map[protocol.ClientID]*Client
	players  map[PlayerKey]*Player
	settings settings.MatchSettings
}

// NewMatchState creates an empty state with the given settings document.
func NewMatchState(s settings.MatchSettings) *MatchState {
	return &MatchState{
		clients:  make(map[protocol.ClientID]*Client),
		players:  make(map[PlayerKey]*Player),
		settings: s,
	}
}

// AddClient registers a client. Adding an id twice is a no-op returning
// false.
func (m *MatchState) AddClient(id protocol.ClientID, name string) bool {
	if _, ok := m.clients[id]; ok {
		return false
	}
	m.clients[id] = &Client{ID: id, Name: name}
	return true
}

// RemoveClient removes a client and every player it owns, returning the
// removed client (nil if unknown). Players never outlive their client.
func (m *MatchState) RemoveClient(id protocol.ClientID) *Client {
	c, ok := m.clients[id]
	if !ok {
		return nil
	}
	delete(m.clients, id)
	for key, p := range m.players {
		if p.ClientID == id {
			delete(m.players, key)
		}
	}
	return c
}

// Client returns the client with the given id, or nil.
func (m *MatchState) Client(id protocol.ClientID) *Client {
	return m.clients[id]
}

// AddPlayer adds a player for an existing client. Idempotent: re-adding an
// occupied slot just overwrites it.
func (m *MatchState) AddPlayer(id protocol.ClientID, ctrlIndex int, name string, characterID int) bool {
	if _, ok := m.clients[id]; !ok {
		return false
	}
	key := PlayerKey{ClientID: id, CtrlIndex: ctrlIndex}
	m.players[key] = &Player{
		ClientID:    id,
		CtrlIndex:   ctrlIndex,
		Name:        name,
		CharacterID: characterID,
	}
	return true
}

// RemovePlayer removes one player slot. Unknown slots are a no-op.
func (m *MatchState) RemovePlayer(key PlayerKey) {
	delete(m.players, key)
}

// SetPlayerCharacter updates a player's selected character.
func (m *MatchState) SetPlayerCharacter(key PlayerKey, characterID int) bool {
	p, ok := m.players[key]
	if !ok {
		return false
	}
	p.CharacterID = characterID
	return true
}

// SetPlayerReady updates a player's lobby ready flag.
func (m *MatchState) SetPlayerReady(key PlayerKey, ready bool) bool {
	p, ok := m.players[key]
	if !ok {
		return false
	}
	p.Ready = ready
	return true
}

// Settings returns the active settings document.
func (m *MatchState) Settings() settings.MatchSettings { return m.settings }

// ReplaceSettings swaps the whole settings document.
func (m *MatchState) ReplaceSettings(s settings.MatchSettings) { m.settings = s }

// ClientCount returns the number of connected clients.
func (m *MatchState) ClientCount() int { return len(m.clients) }

// PlayerCount returns the number of connected players.
func (m *MatchState) PlayerCount() int { return len(m.players) }

// ClientIDs returns every connected client id.
func (m *MatchState) ClientIDs() []protocol.ClientID {
	ids := make([]protocol.ClientID, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	return ids
}

// AllPlayersReady reports whether the lobby can count down: at least one
// player exists and every player is ready. An empty lobby never auto-starts.
func (m *MatchState) AllPlayersReady() bool {
	if len(m.players) == 0 {
		return false
	}
	for _, p := range m.players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// FindClientsByName returns every client whose display name contains text
// (case-sensitive), sorted by name for stable reporting.
func (m *MatchState) FindClientsByName(text string) []*Client {
	var out []*Client
	for _, c := range m.clients {
		if strings.Contains(c.Name, text) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot renders the full state for a connection approval, in a
// deterministic order.
func (m *MatchState) Snapshot() protocol.Snapshot {
	snap := protocol.Snapshot{Settings: m.settings}
	for _, c := range m.clients {
		snap.Clients = append(snap.Clients, protocol.SnapshotClient{ClientID: c.ID, Name: c.Name})
	}
	sort.Slice(snap.Clients, func(i, j int) bool { return snap.Clients[i].ClientID < snap.Clients[j].ClientID })
	for _, p := range m.players {
		snap.Players = append(snap.Players, protocol.SnapshotPlayer{
			ClientID:    p.ClientID,
			CtrlIndex:   p.CtrlIndex,
			Name:        p.Name,
			CharacterID: p.CharacterID,
			Ready:       p.Ready,
		})
	}
	sort.Slice(snap.Players, func(i, j int) bool {
		if snap.Players[i].ClientID != snap.Players[j].ClientID {
			return snap.Players[i].ClientID < snap.Players[j].ClientID
		}
		return snap.Players[i].CtrlIndex < snap.Players[j].CtrlIndex
	})
	return snap
}
