package protocol

import (
	"strings"
)

// INFO sub-message keys. They travel in the data section of a FlagInfo frame as
// "KEY:VALUE" or a bare "KEY".
const (
	InfoJoined    = "JOINED"
	InfoLeft      = "LEFT"
	InfoMembers   = "MEMBERS"
	InfoKicked    = "KICKED"
	InfoServerMsg = "SERVERMSG"
)

// Handshake rejection replies. The connection is closed right after one is sent.
const (
	ReplyUsernameTaken   = "USERNAME TAKEN"
	ReplyUsernameTooLong = "USERNAME TOO LONG"
	ReplyServerFull      = "SERVER IS FULL"
	ReplyUsernameInvalid = "USERNAME INVALID"
)

// MemberSeparator joins usernames in a MEMBERS message
const MemberSeparator = ","

// ParseInfo splits an INFO payload into its key and value. The value is empty for
// bare keys such as KICKED.
func ParseInfo(data []byte) (key, value string) {
	s := string(data)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// ParseMembers splits a MEMBERS value into usernames
func ParseMembers(value string) []string {
	if value == "" {
		return []string{}
	}
	return strings.Split(value, MemberSeparator)
}

// InfoFrame builds an INFO frame with an empty username
func InfoFrame(key, value string) *Frame {
	data := key
	if value != "" {
		data = key + ":" + value
	}
	return &Frame{
		Flags: FlagInfo,
		Data:  []byte(data),
	}
}

// JoinedFrame announces that username completed its handshake
func JoinedFrame(username string) *Frame {
	return InfoFrame(InfoJoined, username)
}

// LeftFrame announces that username disconnected
func LeftFrame(username string) *Frame {
	return InfoFrame(InfoLeft, username)
}

// MembersFrame lists the members already present, in join order
func MembersFrame(usernames []string) *Frame {
	return &Frame{
		Flags: FlagInfo,
		Data:  []byte(InfoMembers + ":" + strings.Join(usernames, MemberSeparator)),
	}
}

// KickedFrame tells a client it was removed by the operator
func KickedFrame() *Frame {
	return InfoFrame(InfoKicked, "")
}

// ServerMsgFrame carries an operator message
func ServerMsgFrame(text string) *Frame {
	return &Frame{
		Flags: FlagInfo,
		Data:  []byte(InfoServerMsg + ":" + text),
	}
}

// ReplyFrame carries a handshake rejection reply
func ReplyFrame(reply string) *Frame {
	return &Frame{
		Flags: FlagInfo,
		Data:  []byte(reply),
	}
}

// DisconnectFrame tells the peer the connection is about to close
func DisconnectFrame() *Frame {
	return &Frame{Flags: FlagDisconnect}
}

// HandshakeFrame is the first frame a client sends: its requested username
func HandshakeFrame(username string) *Frame {
	return &Frame{
		Flags:    FlagInfo,
		Username: []byte(username),
	}
}
