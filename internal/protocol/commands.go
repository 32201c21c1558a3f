package protocol

// ProtocolVersion is the protocol version reported in the login packet.
const ProtocolVersion uint32 = 68

// MaxPacketSize is the largest payload representable by the 16-bit
// length prefix.
const MaxPacketSize = 65535

// LengthPrefixSize is the size of the envelope length prefix in bytes.
const LengthPrefixSize = 2

// Command codes sent from the game server to the chat server.
const (
	CmdConnect          uint16 = 0x0500 // server_id, session, port, protocol version
	CmdDisconnect       uint16 = 0x0501 // no payload
	CmdStatusUpdate     uint16 = 0x0502 // status, player count, match id when active
	CmdAnnounceMatch    uint16 = 0x0503 // match id + rostered account ids
	CmdMatchStarted     uint16 = 0x0505 // match id
	CmdClientAuthResult uint16 = 0x0513 // account id, success flag
	CmdMatchEnded       uint16 = 0x0515 // match id, winning team
)

// Command codes sent from the chat server to the game server.
const (
	CmdLoginAccepted uint16 = 0x1500 // no payload
	CmdLoginRejected uint16 = 0x1501 // optional reason string
	CmdCreateMatch   uint16 = 0x1502 // arranged match data
	CmdEndMatch      uint16 = 0x1503 // match id
	CmdRemoteCommand uint16 = 0x1504 // optional command string
	CmdOptions       uint16 = 0x1505 // key/value string pairs until exhausted
)

// Bidirectional keepalive command codes.
const (
	CmdPing uint16 = 0x2A00
	CmdPong uint16 = 0x2A01
)

// The chat server also speaks the general chat-room protocol (channel
// joins, whispers, clan messages) in the 0x0000-0x04FF and
// 0x1000-0x14FF ranges. Those commands are outside this client's
// surface; the dispatcher drops them as unknown codes.
const (
	ChatRoomCmdLow  uint16 = 0x0000
	ChatRoomCmdHigh uint16 = 0x04FF
)

// Direction classifies which peer originates a command.
type Direction int

const (
	DirGameToChat Direction = iota
	DirChatToGame
	DirBidirectional
)

// String returns the direction label used in logs.
func (d Direction) String() string {
	switch d {
	case DirGameToChat:
		return "gs->chat"
	case DirChatToGame:
		return "chat->gs"
	case DirBidirectional:
		return "both"
	default:
		return "unknown"
	}
}

type commandInfo struct {
	name string
	dir  Direction
}

var commandTable = map[uint16]commandInfo{
	CmdConnect:          {"connect", DirGameToChat},
	CmdDisconnect:       {"disconnect", DirGameToChat},
	CmdStatusUpdate:     {"status_update", DirGameToChat},
	CmdAnnounceMatch:    {"announce_match", DirGameToChat},
	CmdMatchStarted:     {"match_started", DirGameToChat},
	CmdClientAuthResult: {"client_auth_result", DirGameToChat},
	CmdMatchEnded:       {"match_ended", DirGameToChat},
	CmdLoginAccepted:    {"login_accepted", DirChatToGame},
	CmdLoginRejected:    {"login_rejected", DirChatToGame},
	CmdCreateMatch:      {"create_match", DirChatToGame},
	CmdEndMatch:         {"end_match", DirChatToGame},
	CmdRemoteCommand:    {"remote_command", DirChatToGame},
	CmdOptions:          {"options", DirChatToGame},
	CmdPing:             {"ping", DirBidirectional},
	CmdPong:             {"pong", DirBidirectional},
}

// CommandName returns the catalog name for a command code, or empty
// when the code is not part of this client's surface.
func CommandName(cmd uint16) string {
	return commandTable[cmd].name
}

// CommandDirection returns the direction for a known command code. The
// second return is false for codes outside the catalog.
func CommandDirection(cmd uint16) (Direction, bool) {
	info, ok := commandTable[cmd]
	return info.dir, ok
}

// ServerStatus is the status byte reported in status update packets.
type ServerStatus uint8

const (
	StatusIdle ServerStatus = iota
	StatusLoading
	StatusActive
)

// String returns the string representation of ServerStatus.
func (s ServerStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusActive:
		return "active"
	default:
		return "unknown"
	}
}

// MatchType is the arranged match type byte in create-match packets.
type MatchType uint8

const (
	MatchTypePublic MatchType = iota
	MatchTypeMatchmaking
	MatchTypeTournament
	MatchTypeBotMatch
	MatchTypeCustom
)

// String returns the string representation of MatchType.
func (t MatchType) String() string {
	switch t {
	case MatchTypePublic:
		return "public"
	case MatchTypeMatchmaking:
		return "matchmaking"
	case MatchTypeTournament:
		return "tournament"
	case MatchTypeBotMatch:
		return "bot_match"
	case MatchTypeCustom:
		return "custom"
	default:
		return "unknown"
	}
}
