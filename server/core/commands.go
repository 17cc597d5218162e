package core

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/openkart/matchserver/server/transport"
	"github.com/openkart/matchserver/shared/protocol"
	"github.com/openkart/matchserver/shared/settings"
)

// handleCommand processes one operator console command. Bad commands only
// produce log output; nothing here can take the loop down except an
// explicit shutdown request, which takes effect at the end of this tick.
func (s *Session) handleCommand(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch name {
	case "stop", "close", "disconnect", "quit":
		s.log.Info("shutdown requested from console")
		s.stopping = true
	case "say":
		if arg == "" {
			s.log.Warn("usage: say <text>")
			return
		}
		s.log.WithField("text", arg).Info("server chat")
		s.broadcast(protocol.ChatMessage{Kind: protocol.ChatSystem, Text: arg}, transport.Reliable)
	case "clients":
		s.logRoster()
	case "kick":
		if arg == "" {
			s.log.Warn("usage: kick <name-substring>")
			return
		}
		s.kickByName(arg)
	case "reload", "reloadsettings", "loadsettings", "loadmatchsettings", "reloadmatchsettings":
		s.reloadSettings(arg)
	default:
		s.log.WithField("cmd", name).Warn("unknown console command")
	}
}

func (s *Session) logRoster() {
	ids := s.state.ClientIDs()
	s.log.WithField("count", len(ids)).Info("connected clients")
	for _, id := range ids {
		c := s.state.Client(id)
		s.log.WithFields(logrus.Fields{"client": c.ID, "name": c.Name}).Info("roster entry")
	}
}

// kickByName disconnects the single client whose display name contains the
// given text. Zero or multiple matches change nothing and are reported, so
// an operator can never kick the wrong person on an ambiguous substring.
func (s *Session) kickByName(text string) {
	matches := s.state.FindClientsByName(text)
	switch len(matches) {
	case 0:
		s.log.WithField("text", text).Warn("kick: no client matches")
	case 1:
		c := matches[0]
		conn, ok := s.connByClient[c.ID]
		if !ok {
			s.log.WithField("client", c.ID).Error("kick: client has no bound connection")
			return
		}
		s.log.WithFields(logrus.Fields{"client": c.ID, "name": c.Name}).Info("kicking client")
		s.tr.Kick(conn, "kicked by operator")
	default:
		names := make([]string, len(matches))
		for i, c := range matches {
			names[i] = c.Name
		}
		s.log.WithField("matches", strings.Join(names, ", ")).Warn("kick: ambiguous, be more specific")
	}
}

// reloadSettings re-reads the settings document and, on success, makes it
// authoritative and tells every client. A broken document leaves the active
// settings untouched.
func (s *Session) reloadSettings(path string) {
	if path == "" {
		path = s.settingsPath
	}
	doc, err := settings.Load(path)
	if err != nil {
		s.log.WithError(err).WithField("path", path).Error("reload settings failed")
		return
	}
	s.state.ReplaceSettings(doc)
	s.log.WithField("path", path).Info("settings reloaded")
	s.broadcast(protocol.SettingsChanged{Settings: doc}, transport.Reliable)
}
