package broadcast

import (
	"encoding/json"

	"go.uber.org/zap"

	model "github.com/zhouzirui/duel-arena/backend/internal/model/duel"
)

// Dispatcher encodes duel events once and queues them on every attached peer.
// Sessions call it from inside their serialization gate, so frames for one
// duel reach each peer queue in the order the state changed.
type Dispatcher struct {
	log *zap.Logger
}

// New creates a dispatcher.
func New(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{log: logger}
}

// Update sends the snapshot to every peer. A peer that cannot accept the
// frame is closed; it will be unbound when its connection drops.
func (d *Dispatcher) Update(duelID string, peers []model.Peer, snapshot model.Snapshot) {
	data, ok := d.encode(model.NewEnvelope(model.EventUpdate, duelID, snapshot))
	if !ok {
		return
	}
	for _, peer := range peers {
		if !peer.Send(data) {
			d.log.Warn("peer rejected update, closing", zap.String("duel", duelID))
			peer.Close()
		}
	}
}

// Winner sends the winner notice to every peer and then closes them.
func (d *Dispatcher) Winner(duelID string, peers []model.Peer, winner model.ParticipantID) {
	data, ok := d.encode(model.NewEnvelope(model.EventWinner, duelID, model.WinnerNotice{Winner: winner}))
	if ok {
		for _, peer := range peers {
			if !peer.Send(data) {
				d.log.Warn("peer rejected winner notice", zap.String("duel", duelID))
			}
		}
	}
	for _, peer := range peers {
		peer.Close()
	}
	d.log.Info("duel finished",
		zap.String("duel", duelID),
		zap.Stringer("winner", winner),
		zap.Int("notified", len(peers)),
	)
}

func (d *Dispatcher) encode(env model.Envelope) ([]byte, bool) {
	data, err := json.Marshal(env)
	if err != nil {
		d.log.Error("failed to marshal event", zap.String("type", env.Type), zap.Error(err))
		return nil, false
	}
	return data, true
}
