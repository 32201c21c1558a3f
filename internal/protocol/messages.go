package protocol

import (
	"fmt"
)

// ArrangedMatchPlayer is one rostered player in a create-match request.
type ArrangedMatchPlayer struct {
	AccountID int32
	Name      string
	Slot      uint8
}

// ArrangedMatchData is the decoded body of a create-match request. The
// two team lists preserve wire order. Options holds any trailing
// key/value pairs the chat server appends after the rosters.
type ArrangedMatchData struct {
	MatchID  int32
	MapName  string
	GameMode string
	Type     MatchType
	Team1    []ArrangedMatchPlayer
	Team2    []ArrangedMatchPlayer
	Options  map[string]string
}

// ---- Outbound packet constructors ----
//
// Each returns the pre-prefix buffer, command code included, ready for
// PacketWriter.BuildWithLengthPrefix via the connection's send path.

// BuildLogin creates the login packet (0x0500).
// Format: [cmd:2][server_id:4][session:null_str][port:2][version:4]
func BuildLogin(serverID int32, session string, port uint16) []byte {
	w := NewPacketWriter()
	w.WriteCommand(CmdConnect)
	w.WriteInt32(serverID)
	w.WriteString(session)
	w.WriteUint16(port)
	w.WriteUint32(ProtocolVersion)
	return w.Bytes()
}

// BuildDisconnectNotice creates the disconnect notice packet (0x0501).
func BuildDisconnectNotice() []byte {
	w := NewPacketWriter()
	w.WriteCommand(CmdDisconnect)
	return w.Bytes()
}

// BuildStatusUpdate creates a status update packet (0x0502). The match
// id is written only while a match is active (non-zero).
// Format: [cmd:2][status:1][player_count:1][match_id:4 when active]
func BuildStatusUpdate(status ServerStatus, playerCount uint8, matchID int32) []byte {
	w := NewPacketWriter()
	w.WriteCommand(CmdStatusUpdate)
	w.WriteUint8(uint8(status))
	w.WriteUint8(playerCount)
	if matchID != 0 {
		w.WriteInt32(matchID)
	}
	return w.Bytes()
}

// BuildAnnounceMatch creates a match announcement packet (0x0503).
// Format: [cmd:2][match_id:4][count:1][account_id:4 x count]
func BuildAnnounceMatch(matchID int32, accountIDs []int32) []byte {
	w := NewPacketWriter()
	w.WriteCommand(CmdAnnounceMatch)
	w.WriteInt32(matchID)
	w.WriteUint8(uint8(len(accountIDs)))
	for _, id := range accountIDs {
		w.WriteInt32(id)
	}
	return w.Bytes()
}

// BuildMatchStarted creates a match started packet (0x0505).
func BuildMatchStarted(matchID int32) []byte {
	w := NewPacketWriter()
	w.WriteCommand(CmdMatchStarted)
	w.WriteInt32(matchID)
	return w.Bytes()
}

// BuildClientAuthResult creates a client auth result packet (0x0513).
func BuildClientAuthResult(accountID int32, success bool) []byte {
	w := NewPacketWriter()
	w.WriteCommand(CmdClientAuthResult)
	w.WriteInt32(accountID)
	w.WriteBool(success)
	return w.Bytes()
}

// BuildMatchEnded creates a match ended packet (0x0515).
func BuildMatchEnded(matchID int32, winningTeam uint8) []byte {
	w := NewPacketWriter()
	w.WriteCommand(CmdMatchEnded)
	w.WriteInt32(matchID)
	w.WriteUint8(winningTeam)
	return w.Bytes()
}

// BuildPing creates a keepalive ping packet (0x2A00).
func BuildPing() []byte {
	w := NewPacketWriter()
	w.WriteCommand(CmdPing)
	return w.Bytes()
}

// BuildPong creates a keepalive pong packet (0x2A01).
func BuildPong() []byte {
	w := NewPacketWriter()
	w.WriteCommand(CmdPong)
	return w.Bytes()
}

// ---- Inbound payload decoders ----

// DecodeLoginRejected decodes an optional rejection reason (0x1501).
// An empty payload is a rejection with no stated reason.
func DecodeLoginRejected(payload []byte) string {
	r := NewPacketReader(payload)
	if !r.HasMore() {
		return ""
	}
	reason, _ := r.ReadString()
	return reason
}

// DecodeCreateMatch decodes an arranged match request (0x1502). Any
// field missing before the second roster ends is a hard decode error;
// trailing key/value option pairs are read greedily and a short final
// pair is kept partial, matching the server's variable-length trailer.
func DecodeCreateMatch(payload []byte) (*ArrangedMatchData, error) {
	r := NewPacketReader(payload)

	matchID, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("create match: match id: %w", err)
	}
	mapName, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("create match: map name: %w", err)
	}
	gameMode, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("create match: game mode: %w", err)
	}
	matchType, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("create match: match type: %w", err)
	}

	team1, err := readTeam(r)
	if err != nil {
		return nil, fmt.Errorf("create match: team 1: %w", err)
	}
	team2, err := readTeam(r)
	if err != nil {
		return nil, fmt.Errorf("create match: team 2: %w", err)
	}

	data := &ArrangedMatchData{
		MatchID:  matchID,
		MapName:  mapName,
		GameMode: gameMode,
		Type:     MatchType(matchType),
		Team1:    team1,
		Team2:    team2,
		Options:  make(map[string]string),
	}
	readOptionPairs(r, data.Options)
	return data, nil
}

func readTeam(r *PacketReader) ([]ArrangedMatchPlayer, error) {
	count, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("team size: %w", err)
	}

	team := make([]ArrangedMatchPlayer, 0, count)
	for i := uint8(0); i < count; i++ {
		accountID, err := r.ReadInt32()
		if err != nil {
			return nil, fmt.Errorf("player %d account id: %w", i, err)
		}
		name, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("player %d name: %w", i, err)
		}
		slot, err := r.ReadUint8()
		if err != nil {
			return nil, fmt.Errorf("player %d slot: %w", i, err)
		}
		team = append(team, ArrangedMatchPlayer{
			AccountID: accountID,
			Name:      name,
			Slot:      slot,
		})
	}
	return team, nil
}

// DecodeEndMatch decodes an end-match request (0x1503).
func DecodeEndMatch(payload []byte) (int32, error) {
	r := NewPacketReader(payload)
	matchID, err := r.ReadInt32()
	if err != nil {
		return 0, fmt.Errorf("end match: match id: %w", err)
	}
	return matchID, nil
}

// DecodeRemoteCommand decodes an optional command string (0x1504).
func DecodeRemoteCommand(payload []byte) string {
	r := NewPacketReader(payload)
	if !r.HasMore() {
		return ""
	}
	cmd, _ := r.ReadString()
	return cmd
}

// DecodeOptions decodes repeated key/value string pairs (0x1505). The
// server sends variable-length trailing data, so a short read keeps
// the pairs decoded so far and the error is swallowed. Keep that
// behavior: strict parsing here breaks against the live server.
func DecodeOptions(payload []byte) map[string]string {
	opts := make(map[string]string)
	readOptionPairs(NewPacketReader(payload), opts)
	return opts
}

func readOptionPairs(r *PacketReader, opts map[string]string) {
	for r.HasMore() {
		key, err := r.ReadString()
		if err != nil {
			return
		}
		value, err := r.ReadString()
		if err != nil {
			return
		}
		opts[key] = value
	}
}
