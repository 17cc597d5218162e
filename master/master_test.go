package master

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(quietLogger(), time.Minute)
	defer reg.Stop()

	id := reg.Register(ServerInfo{Name: "EU Lobby", Address: "ws://eu.example:7777", MaxPlayers: 8, Phase: "lobby"})
	require.NotEmpty(t, id)

	require.True(t, reg.Heartbeat(id, 5, "racing"))
	require.False(t, reg.Heartbeat("bogus", 1, ""))

	list := reg.List()
	require.Len(t, list, 1)
	require.Equal(t, 5, list[0].Players)
	require.Equal(t, "racing", list[0].Phase)
}

func TestSweepExpiresSilentServers(t *testing.T) {
	reg := NewRegistry(quietLogger(), time.Minute)
	defer reg.Stop()

	reg.Register(ServerInfo{Name: "Stale", Address: "ws://stale:7777"})
	reg.sweep(time.Now().Add(2 * time.Minute))
	require.Empty(t, reg.List())
}

func TestRoutes(t *testing.T) {
	reg := NewRegistry(quietLogger(), time.Minute)
	defer reg.Stop()
	srv := httptest.NewServer(Routes(reg))
	defer srv.Close()

	body, _ := json.Marshal(RegisterRequest{Name: "Test", Address: "ws://test:7777", MaxPlayers: 8})
	resp, err := http.Post(srv.URL+"/servers/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var regResp RegisterResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&regResp))
	resp.Body.Close()

	hb, _ := json.Marshal(HeartbeatRequest{ID: regResp.ID, Players: 3})
	resp, err = http.Post(srv.URL+"/servers/heartbeat", "application/json", bytes.NewReader(hb))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/servers")
	require.NoError(t, err)
	var list []ServerInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	require.Equal(t, 3, list[0].Players)

	resp, err = http.Post(srv.URL+"/servers/register", "application/json", bytes.NewReader([]byte("{bad")))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
