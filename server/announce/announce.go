// Package announce keeps a match server visible in the master server's
// listing: one registration up front, then periodic heartbeats carrying
// occupancy. Losing the master is never fatal to the match itself.
package announce

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openkart/matchserver/master"
)

const heartbeatInterval = 30 * time.Second

// Status reports the values sent with each heartbeat.
type Status func() (players int, phase string)

// Announcer registers with a master server and heartbeats until stopped.
type Announcer struct {
	log        logrus.FieldLogger
	masterURL  string
	serverID   string
	name       string
	address    string
	maxPlayers int
	version    string
	status     Status
	client     *http.Client
	stopCh     chan struct{}
}

// New creates an announcer for the given master URL.
func New(log logrus.FieldLogger, masterURL, name, address, version string, maxPlayers int, status Status) *Announcer {
	return &Announcer{
		log:        log,
		masterURL:  masterURL,
		name:       name,
		address:    address,
		version:    version,
		maxPlayers: maxPlayers,
		status:     status,
		client:     &http.Client{Timeout: 5 * time.Second},
		stopCh:     make(chan struct{}),
	}
}

// Start registers and begins the heartbeat loop in the background.
func (a *Announcer) Start() {
	if err := a.register(); err != nil {
		a.log.WithError(err).Warn("initial master registration failed")
	}
	go a.heartbeatLoop()
}

// Stop ends the heartbeat loop.
func (a *Announcer) Stop() {
	close(a.stopCh)
}

func (a *Announcer) register() error {
	players, phase := a.status()
	resp, err := a.post("/servers/register", master.RegisterRequest{
		Name:       a.name,
		Address:    a.address,
		Players:    players,
		MaxPlayers: a.maxPlayers,
		Phase:      phase,
		Version:    a.version,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return errors.Errorf("unexpected register status %d", resp.StatusCode)
	}
	var result master.RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return errors.Wrap(err, "decode register response failed")
	}
	a.serverID = result.ID
	a.log.WithField("id", a.serverID).Info("registered with master")
	return nil
}

func (a *Announcer) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if err := a.heartbeat(); err != nil {
				a.log.WithError(err).Warn("master heartbeat failed")
			}
		}
	}
}

func (a *Announcer) heartbeat() error {
	players, phase := a.status()
	resp, err := a.post("/servers/heartbeat", master.HeartbeatRequest{
		ID:      a.serverID,
		Players: players,
		Phase:   phase,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		a.log.Info("master lost our registration, re-registering")
		return a.register()
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected heartbeat status %d", resp.StatusCode)
	}
	return nil
}

func (a *Announcer) post(path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request failed")
	}
	resp, err := a.client.Post(a.masterURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "post %s failed", path)
	}
	return resp, nil
}
