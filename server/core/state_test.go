package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openkart/matchserver/shared/protocol"
	"github.com/openkart/matchserver/shared/settings"
)

func TestAddRemoveClient(t *testing.T) {
	m := NewMatchState(settings.Default())
	require.True(t, m.AddClient("c-1", "Alice"))
	require.False(t, m.AddClient("c-1", "Impostor"), "duplicate id must be rejected")
	require.Equal(t, 1, m.ClientCount())
	require.Equal(t, "Alice", m.Client("c-1").Name)

	removed := m.RemoveClient("c-1")
	require.NotNil(t, removed)
	require.Equal(t, "Alice", removed.Name)
	require.Nil(t, m.RemoveClient("c-1"))
	require.Zero(t, m.ClientCount())
}

func TestRemoveClientCascadesOnlyItsPlayers(t *testing.T) {
	m := NewMatchState(settings.Default())
	m.AddClient("a", "Alice")
	m.AddClient("b", "Bob")
	m.AddPlayer("a", 0, "Alice", 1)
	m.AddPlayer("a", 1, "Alice P2", 2)
	m.AddPlayer("b", 0, "Bob", 3)

	m.RemoveClient("a")

	require.Equal(t, 1, m.PlayerCount(), "only Bob's player should survive")
	require.Equal(t, 1, m.ClientCount())
	require.NotNil(t, m.Client("b"))
	snap := m.Snapshot()
	require.Len(t, snap.Players, 1)
	require.Equal(t, protocol.ClientID("b"), snap.Players[0].ClientID)
}

func TestPlayerReplayIsIdempotent(t *testing.T) {
	m := NewMatchState(settings.Default())
	m.AddClient("a", "Alice")

	// joins and leaves keyed by (client, controller); repeats change nothing
	m.AddPlayer("a", 0, "Alice", 1)
	m.AddPlayer("a", 0, "Alice", 1)
	m.AddPlayer("a", 1, "Alice P2", 2)
	m.RemovePlayer(PlayerKey{ClientID: "a", CtrlIndex: 1})
	m.RemovePlayer(PlayerKey{ClientID: "a", CtrlIndex: 1})

	require.Equal(t, 1, m.PlayerCount())
	snap := m.Snapshot()
	require.Equal(t, 0, snap.Players[0].CtrlIndex)
}

func TestAddPlayerRequiresClient(t *testing.T) {
	m := NewMatchState(settings.Default())
	require.False(t, m.AddPlayer("ghost", 0, "Ghost", 1))
	require.Zero(t, m.PlayerCount())
}

func TestAllPlayersReady(t *testing.T) {
	m := NewMatchState(settings.Default())
	require.False(t, m.AllPlayersReady(), "empty lobby must never count as ready")

	m.AddClient("a", "Alice")
	m.AddClient("b", "Bob")
	m.AddPlayer("a", 0, "Alice", 1)
	m.AddPlayer("b", 0, "Bob", 2)
	require.False(t, m.AllPlayersReady())

	m.SetPlayerReady(PlayerKey{ClientID: "a", CtrlIndex: 0}, true)
	require.False(t, m.AllPlayersReady())
	m.SetPlayerReady(PlayerKey{ClientID: "b", CtrlIndex: 0}, true)
	require.True(t, m.AllPlayersReady())

	m.SetPlayerReady(PlayerKey{ClientID: "a", CtrlIndex: 0}, false)
	require.False(t, m.AllPlayersReady())
}

func TestSetPlayerAttributes(t *testing.T) {
	m := NewMatchState(settings.Default())
	m.AddClient("a", "Alice")
	m.AddPlayer("a", 0, "Alice", 1)

	key := PlayerKey{ClientID: "a", CtrlIndex: 0}
	require.True(t, m.SetPlayerCharacter(key, 9))
	require.Equal(t, 9, m.Snapshot().Players[0].CharacterID)

	require.False(t, m.SetPlayerCharacter(PlayerKey{ClientID: "a", CtrlIndex: 3}, 9))
	require.False(t, m.SetPlayerReady(PlayerKey{ClientID: "nope", CtrlIndex: 0}, true))
}

func TestFindClientsByName(t *testing.T) {
	m := NewMatchState(settings.Default())
	m.AddClient("a", "Alice")
	m.AddClient("b", "Alicia")
	m.AddClient("c", "Bob")

	require.Len(t, m.FindClientsByName("Alic"), 2)
	require.Len(t, m.FindClientsByName("Alice"), 1)
	require.Empty(t, m.FindClientsByName("alice"), "matching is case-sensitive")
	require.Empty(t, m.FindClientsByName("Zed"))
}

func TestSnapshotDeterministicOrder(t *testing.T) {
	m := NewMatchState(settings.Default())
	m.AddClient("b", "Bob")
	m.AddClient("a", "Alice")
	m.AddPlayer("b", 1, "Bob P2", 1)
	m.AddPlayer("b", 0, "Bob", 1)
	m.AddPlayer("a", 0, "Alice", 2)

	snap := m.Snapshot()
	require.Equal(t, protocol.ClientID("a"), snap.Clients[0].ClientID)
	require.Equal(t, protocol.ClientID("a"), snap.Players[0].ClientID)
	require.Equal(t, 0, snap.Players[1].CtrlIndex)
	require.Equal(t, 1, snap.Players[2].CtrlIndex)
}
