// Package protocol defines the wire messages exchanged between the dedicated
// match server and its clients, plus the codec that moves them over the
// socket. It must stay free of server-only dependencies so the game client
// can import it as-is.
package protocol

import "github.com/openkart/matchserver/shared/settings"

// ClientID identifies a client across its whole session. Clients generate it
// themselves (GUID-style); the server treats it as opaque.
type ClientID string

// ChatKind distinguishes player chat from server-generated lines.
type ChatKind int

const (
	ChatPlayer ChatKind = iota
	ChatSystem
)

// Message is the closed set of match-protocol messages. Every variant is a
// plain struct so it serializes cleanly; the marker method keeps the set
// closed at compile time.
type Message interface {
	isMessage()
}

// Owned is implemented by variants that act on behalf of a specific client.
// The server checks the claimed id against the sending connection before
// applying or relaying the message.
type Owned interface {
	Message
	Sender() ClientID
}

// ClientJoined announces a new client. Sent by a client right after its
// connection is approved, then relayed to everyone.
type ClientJoined struct {
	ClientID ClientID
	Name     string
}

// ClientLeft announces a departing client. Only the server originates it.
type ClientLeft struct {
	ClientID ClientID
}

// PlayerJoined adds a local player for a client. A client may field several
// players, one per controller slot.
type PlayerJoined struct {
	ClientID    ClientID
	CtrlIndex   int
	Name        string
	CharacterID int
}

// PlayerLeft removes one of a client's local players.
type PlayerLeft struct {
	ClientID  ClientID
	CtrlIndex int
}

// CharacterChanged updates a player's selected character.
type CharacterChanged struct {
	ClientID    ClientID
	CtrlIndex   int
	CharacterID int
}

// ChangedReady updates a player's lobby ready flag.
type ChangedReady struct {
	ClientID  ClientID
	CtrlIndex int
	Ready     bool
}

// SettingsChanged replaces the active match settings wholesale.
type SettingsChanged struct {
	Settings settings.MatchSettings
}

// LoadRace tells every client to start loading the selected stage.
type LoadRace struct{}

// StartRace is dual-purpose on the wire: a client sends it to acknowledge that
// its stage finished loading, and the server broadcasts it once everyone
// (or the load timeout) is in to release the race.
type StartRace struct {
	ClientID ClientID
}

// ChatMessage carries a chat line. Kind is ChatSystem for server notices.
type ChatMessage struct {
	ClientID ClientID
	Kind     ChatKind
	Text     string
}

// PlayerMovement is a high-frequency state sample relayed verbatim. Sent
// best-effort; loss and reordering against other message types is fine.
type PlayerMovement struct {
	ClientID  ClientID
	CtrlIndex int
	X, Y, Z   float32
	RotY      float32
	Speed     float32
	Timestamp int64
}

func (ClientJoined) isMessage()     {}
func (ClientLeft) isMessage()       {}
func (PlayerJoined) isMessage()     {}
func (PlayerLeft) isMessage()       {}
func (CharacterChanged) isMessage() {}
func (ChangedReady) isMessage()     {}
func (SettingsChanged) isMessage()  {}
func (LoadRace) isMessage()         {}
func (StartRace) isMessage()        {}
func (ChatMessage) isMessage()      {}
func (PlayerMovement) isMessage()   {}

func (m PlayerJoined) Sender() ClientID     { return m.ClientID }
func (m PlayerLeft) Sender() ClientID       { return m.ClientID }
func (m CharacterChanged) Sender() ClientID { return m.ClientID }
func (m ChangedReady) Sender() ClientID     { return m.ClientID }
