package client

import (
	"github.com/kitchej/pychat/pkg/protocol"
)

// EventKind classifies an incoming frame
type EventKind int

const (
	EventText EventKind = iota
	EventMultimedia
	EventJoined
	EventLeft
	EventMembers
	EventKicked
	EventServerMessage
	EventDisconnect
	EventInfo // INFO message with an unrecognized key
	EventInvalid
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventMultimedia:
		return "multimedia"
	case EventJoined:
		return "joined"
	case EventLeft:
		return "left"
	case EventMembers:
		return "members"
	case EventKicked:
		return "kicked"
	case EventServerMessage:
		return "servermsg"
	case EventDisconnect:
		return "disconnect"
	case EventInfo:
		return "info"
	default:
		return "invalid"
	}
}

// Event is one thing that happened in the room
type Event struct {
	Kind     EventKind
	Sender   string   // Chat messages
	Text     string   // TEXT body, server message, or raw INFO payload
	Filename string   // MULTIMEDIA
	Content  []byte   // MULTIMEDIA
	Username string   // JOINED and LEFT
	Members  []string // MEMBERS
	Frame    *protocol.Frame
}

func parseEvent(frame *protocol.Frame) Event {
	ev := Event{Frame: frame, Sender: frame.Sender()}

	switch frame.Flags {
	case protocol.FlagText:
		ev.Kind = EventText
		ev.Text = frame.Text()
	case protocol.FlagMultimedia:
		filename, content, err := protocol.DecodeMultimedia(frame.Data)
		if err != nil {
			ev.Kind = EventInvalid
			return ev
		}
		ev.Kind = EventMultimedia
		ev.Filename = filename
		ev.Content = content
	case protocol.FlagDisconnect:
		ev.Kind = EventDisconnect
	case protocol.FlagInfo:
		key, value := protocol.ParseInfo(frame.Data)
		switch key {
		case protocol.InfoJoined:
			ev.Kind = EventJoined
			ev.Username = value
		case protocol.InfoLeft:
			ev.Kind = EventLeft
			ev.Username = value
		case protocol.InfoMembers:
			ev.Kind = EventMembers
			ev.Members = protocol.ParseMembers(value)
		case protocol.InfoKicked:
			ev.Kind = EventKicked
		case protocol.InfoServerMsg:
			ev.Kind = EventServerMessage
			ev.Text = value
		default:
			ev.Kind = EventInfo
			ev.Text = string(frame.Data)
		}
	default:
		ev.Kind = EventInvalid
	}
	return ev
}
