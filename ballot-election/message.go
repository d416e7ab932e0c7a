package ble

type MsgType uint8

const (
	// MsgHeartbeatRequest opens a heartbeat round
	MsgHeartbeatRequest MsgType = iota + 1

	// MsgHeartbeatReply answers a request with the sender's own ballot
	MsgHeartbeatReply
)

type Message struct {
	Type MsgType
	From uint64 // sender node id
	To   uint64 // destination node id

	// Round is the heartbeat round this message belongs to,
	// replies for older rounds are ignored
	Round uint64

	// Ballot is the sender's current ballot; a reply carrying a ballot
	// higher than the requester's tells the requester it is stale
	Ballot Ballot
}
