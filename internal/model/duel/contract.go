//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../../mocks/mock_contract.go -package=mocks

package duel

// Peer is a connection attached to a duel. Implementations must not block:
// Send queues the frame and reports false when it cannot be accepted, Close
// flushes queued frames before closing the transport.
type Peer interface {
	Send(data []byte) bool
	Close()
}

// Notifier fans duel events out to attached peers. It is invoked from inside
// the session's serialization gate, so calls for one duel never interleave.
type Notifier interface {
	Update(duelID string, peers []Peer, snapshot Snapshot)
	Winner(duelID string, peers []Peer, winner ParticipantID)
}
