package protocol

import (
	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/pkg/errors"

	"github.com/openkart/matchserver/shared/settings"
)

// SnapshotClient is one connected client as seen in a join snapshot.
type SnapshotClient struct {
	ClientID ClientID
	Name     string
}

// SnapshotPlayer is one connected player as seen in a join snapshot.
type SnapshotPlayer struct {
	ClientID    ClientID
	CtrlIndex   int
	Name        string
	CharacterID int
	Ready       bool
}

// Snapshot is the full lobby view attached to a connection approval, so a
// new client can reconstruct current state before incremental messages
// start arriving.
type Snapshot struct {
	Clients  []SnapshotClient
	Players  []SnapshotPlayer
	Settings settings.MatchSettings
}

// EncodeSnapshot serializes a snapshot for the approval response body.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, &mh).Encode(s); err != nil {
		return nil, errors.Wrap(err, "encode snapshot failed")
	}
	return out, nil
}

// DecodeSnapshot parses an approval response body.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := codec.NewDecoderBytes(b, &mh).Decode(&s); err != nil {
		return Snapshot{}, errors.Wrap(err, "decode snapshot failed")
	}
	return s, nil
}
