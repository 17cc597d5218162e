package protocol

import (
	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/pkg/errors"
)

// ChannelMatch is the leading discriminator byte for match-protocol frames.
// Other channels may be added later; anything else is rejected today.
const ChannelMatch byte = 0x01

var mh codec.MsgpackHandle

// envelope is the self-describing wire form: the concrete variant's type tag
// plus its msgpack-encoded body.
type envelope struct {
	Type string
	Body []byte
}

var decoders = map[string]func([]byte) (Message, error){
	"ClientJoined":     decodeInto[ClientJoined],
	"ClientLeft":       decodeInto[ClientLeft],
	"PlayerJoined":     decodeInto[PlayerJoined],
	"PlayerLeft":       decodeInto[PlayerLeft],
	"CharacterChanged": decodeInto[CharacterChanged],
	"ChangedReady":     decodeInto[ChangedReady],
	"SettingsChanged":  decodeInto[SettingsChanged],
	"LoadRace":         decodeInto[LoadRace],
	"StartRace":        decodeInto[StartRace],
	"ChatMessage":      decodeInto[ChatMessage],
	"PlayerMovement":   decodeInto[PlayerMovement],
}

func decodeInto[T Message](body []byte) (Message, error) {
	var m T
	if err := codec.NewDecoderBytes(body, &mh).Decode(&m); err != nil {
		return nil, errors.Wrap(err, "decode message body failed")
	}
	return m, nil
}

// TypeName returns the wire type tag for a message.
func TypeName(m Message) string {
	switch m.(type) {
	case ClientJoined:
		return "ClientJoined"
	case ClientLeft:
		return "ClientLeft"
	case PlayerJoined:
		return "PlayerJoined"
	case PlayerLeft:
		return "PlayerLeft"
	case CharacterChanged:
		return "CharacterChanged"
	case ChangedReady:
		return "ChangedReady"
	case SettingsChanged:
		return "SettingsChanged"
	case LoadRace:
		return "LoadRace"
	case StartRace:
		return "StartRace"
	case ChatMessage:
		return "ChatMessage"
	case PlayerMovement:
		return "PlayerMovement"
	default:
		return ""
	}
}

// Encode serializes a message into a match-channel frame.
func Encode(m Message) ([]byte, error) {
	name := TypeName(m)
	if name == "" {
		return nil, errors.Errorf("encode unknown message type %T", m)
	}
	var body []byte
	if err := codec.NewEncoderBytes(&body, &mh).Encode(m); err != nil {
		return nil, errors.Wrapf(err, "encode %s body failed", name)
	}
	var frame []byte
	frame = append(frame, ChannelMatch)
	var env []byte
	if err := codec.NewEncoderBytes(&env, &mh).Encode(envelope{Type: name, Body: body}); err != nil {
		return nil, errors.Wrapf(err, "encode %s envelope failed", name)
	}
	return append(frame, env...), nil
}

// Decode parses a match-channel frame back into its concrete variant.
// Any malformed or unknown frame returns an error; callers drop the single
// message and keep going.
func Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return nil, errors.New("empty frame")
	}
	if frame[0] != ChannelMatch {
		return nil, errors.Errorf("unknown channel 0x%02x", frame[0])
	}
	var env envelope
	if err := codec.NewDecoderBytes(frame[1:], &mh).Decode(&env); err != nil {
		return nil, errors.Wrap(err, "decode envelope failed")
	}
	dec, ok := decoders[env.Type]
	if !ok {
		return nil, errors.Errorf("unknown message type %q", env.Type)
	}
	return dec(env.Body)
}
