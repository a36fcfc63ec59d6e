package broker

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/LorenzoLeonardo/ipc-server/internal/wire"
)

// taskManager is the single logical actor that owns the object registry
// and the event subscription table (spec §3, §4.3). It drains workCh on
// one goroutine; every other goroutine in this package only ever sends to
// that channel, never touches the maps directly. Grounded line-for-line in
// original_source/src/manager.rs's TaskManager (an UnboundedReceiver<Message>
// select loop over a HashMap<String, SocketHolder>), with cellorg's
// method-per-message-type dispatch shape (handleConnect/handlePublish/...)
// applied over that actor structure.
type taskManager struct {
	workCh chan workItem

	registry map[string]*peerConn   // object name -> owning peer
	events   map[string][]*peerConn // event name -> ordered subscribers

	debug bool
}

func newTaskManager(debug bool) *taskManager {
	return &taskManager{
		// Unbuffered: a peerConn's send blocks until the manager has
		// accepted the item, so two peers racing to submit work cannot
		// have their items reordered relative to the manager's single
		// consumption point. This is what makes the ordering guarantees
		// of spec §4.3 (Register-before-Call, BroadCast-vs-Subscribe)
		// fall out of channel semantics instead of needing extra locks.
		workCh:   make(chan workItem),
		registry: make(map[string]*peerConn),
		events:   make(map[string][]*peerConn),
		debug:    debug,
	}
}

// submit sends one work item to the manager. peerConns and the listener
// send on workCh directly; nothing in this package calls submit.
func (m *taskManager) submit(item workItem) {
	m.workCh <- item
}

// run is the manager's single consumer loop. It returns only if workCh is
// closed; broker shutdown closes the listener, not workCh, so run keeps
// going for the life of the process.
func (m *taskManager) run() {
	for item := range m.workCh {
		switch w := item.(type) {
		case processInput:
			m.dispatch(w)
		case removeRegistered:
			m.handleRemoveRegistered(w.peer)
		default:
			log.Printf("broker: task manager: unhandled work item %T", item)
		}
	}
}

func (m *taskManager) dispatch(w processInput) {
	switch env := w.envelope.(type) {
	case *wire.RegisterObject:
		m.handleRegister(env, w)
	case *wire.CallObjectRequest:
		m.handleCall(env, w)
	case *wire.ListObjects:
		m.handleWaitForObjects(env, w)
	case *wire.SubscribeToEvent:
		m.handleSubscribe(env, w)
	case *wire.Event:
		m.handleBroadcast(env, w)
	default:
		// Protocol-shape error: fits the envelope union but not a variant
		// the task manager accepts from a peer (spec §4.3 "any other
		// variant", §7 "Protocol shape"). Logged and dropped, no reply:
		// the reply channel is closed without a value.
		if m.debug {
			log.Printf("broker: task manager: dropping unexpected envelope %T from %s", env, w.peer)
		}
		close(w.reply)
	}
}

// handleRegister claims an object name for the submitting peer. A name
// already owned by a different peer is rejected (spec §3 registry
// invariant ii, §7).
func (m *taskManager) handleRegister(env *wire.RegisterObject, w processInput) {
	if owner, ok := m.registry[env.RegObject]; ok && owner != w.peer {
		reply(w.reply, wire.NewError(fmt.Sprintf("object %q already registered", env.RegObject)))
		return
	}
	m.registry[env.RegObject] = w.peer
	if m.debug {
		log.Printf("broker: %s registered %q (id %s)", w.peer, env.RegObject, uuid.New())
	}
	reply(w.reply, &wire.Success{Success: wire.ReplyOK})
}

// handleCall resolves the target object to its provider and forwards the
// request over the provider's own socket, reusing it rather than opening a
// new connection (spec §4.3 Call row, §9 "Shared socket with split
// read/write"). At most one forwarded call may be outstanding on a
// provider's socket at a time; this call blocks the task manager for the
// whole round trip (spec §4.2, §9 open question 2 — a deliberate, named
// limitation, not a bug).
func (m *taskManager) handleCall(env *wire.CallObjectRequest, w processInput) {
	provider, ok := m.registry[env.Object]
	if !ok {
		reply(w.reply, wire.NewError(wire.ReplyObjectNotFound))
		return
	}

	request, err := wire.Encode(env)
	if err != nil {
		reply(w.reply, wire.NewError(err.Error()))
		return
	}

	respBytes, err := provider.forward(request)
	if err != nil {
		// Provider is gone: drop every name it owned and surface the
		// failure to the caller (spec §7 "Transport").
		m.dropPeer(provider)
		reply(w.reply, wire.NewError(err.Error()))
		return
	}

	w.reply <- respBytes
}

// handleWaitForObjects implements the startup barrier: the full list is
// echoed back only if every named object is currently registered,
// otherwise an empty list signals "not yet" (spec §4.3 WaitForObjects row,
// §8 quantified invariant).
func (m *taskManager) handleWaitForObjects(env *wire.ListObjects, w processInput) {
	for _, name := range env.List {
		if _, ok := m.registry[name]; !ok {
			reply(w.reply, &wire.ListObjects{List: []string{}})
			return
		}
	}
	reply(w.reply, &wire.ListObjects{List: env.List})
}

// handleSubscribe adds the submitting peer to an event's subscriber set,
// idempotently: a peer already subscribed to E is not added twice (spec §3
// event table invariant i).
func (m *taskManager) handleSubscribe(env *wire.SubscribeToEvent, w processInput) {
	subs := m.events[env.EventName]
	for _, s := range subs {
		if s == w.peer {
			reply(w.reply, &wire.Success{Success: wire.ReplyOK})
			return
		}
	}
	m.events[env.EventName] = append(subs, w.peer)
	reply(w.reply, &wire.Success{Success: wire.ReplyOK})
}

// handleBroadcast fans a published event out to every current subscriber
// of its name, writing the bare result value (not the Event envelope) to
// each subscriber's socket, matching the wire direction table in §6.2
// ("broker -> subscribers (as result only)"). A subscriber whose socket
// errors is logged and skipped; the rest still receive the broadcast
// (spec §4.3 BroadCastEvent row).
func (m *taskManager) handleBroadcast(env *wire.Event, w processInput) {
	payload, err := wire.Encode(env.Result)
	if err != nil {
		reply(w.reply, wire.NewError(err.Error()))
		return
	}
	for _, sub := range m.events[env.EventName] {
		if err := sub.handle.write(payload); err != nil && m.debug {
			log.Printf("broker: broadcast %q to %s failed: %v", env.EventName, sub, err)
		}
	}
	reply(w.reply, &wire.Success{Success: wire.ReplyOK})
}

// handleRemoveRegistered drops every registry entry the peer owned, drops
// the peer from every event's subscriber set, and prunes any event entry
// left with no subscribers (spec §3 invariants, §4.3 RemoveRegistered row).
func (m *taskManager) handleRemoveRegistered(peer *peerConn) {
	m.dropPeer(peer)
}

func (m *taskManager) dropPeer(peer *peerConn) {
	for name, owner := range m.registry {
		if owner == peer {
			delete(m.registry, name)
		}
	}
	for event, subs := range m.events {
		kept := subs[:0]
		for _, s := range subs {
			if s != peer {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(m.events, event)
		} else {
			m.events[event] = kept
		}
	}
	if m.debug {
		log.Printf("broker: dropped peer %s", peer)
	}
}

// reply encodes env and sends it on ch, logging (not panicking) on a
// marshal failure — no panics may cross this component boundary (spec
// §7 propagation policy).
func reply(ch chan<- []byte, env wire.Envelope) {
	b, err := wire.Encode(env)
	if err != nil {
		log.Printf("broker: task manager: encode reply: %v", err)
		ch <- []byte{}
		return
	}
	ch <- b
}
