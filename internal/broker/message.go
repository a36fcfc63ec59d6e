package broker

import "github.com/LorenzoLeonardo/ipc-server/internal/wire"

// workItem is anything the task manager's single dispatch loop consumes.
// There are exactly two shapes, matching spec §4.3: processInput carries a
// decoded request through to a reply, removeRegistered tears down
// everything a disconnected peer owned.
type workItem interface {
	workItemMarker()
}

// processInput is submitted once per decoded request a peerConn reads off
// its socket. reply is a buffered size-1 channel; the task manager either
// sends exactly one []byte (the raw encoded reply envelope) or, for an
// envelope it drops, closes it without a value, mirroring the
// oneshot::Sender this is ported from (original_source/src/manager.rs).
type processInput struct {
	envelope wire.Envelope
	peer     *peerConn
	reply    chan []byte
}

func (processInput) workItemMarker() {}

// removeRegistered tears down everything peer owned: its object
// registrations and its event subscriptions.
type removeRegistered struct {
	peer *peerConn
}

func (removeRegistered) workItemMarker() {}
