package server

import (
	"sync"

	"github.com/kitchej/pychat/pkg/protocol"
)

type jobKind uint8

const (
	jobBroadcast jobKind = iota
	jobAdmit
	jobDepart
	jobSend
)

type job struct {
	kind       jobKind
	data       []byte   // Pre-encoded frame
	label      string   // Metrics label for broadcasts
	sess       *Session // Target (send, admit, depart) or excluded sender (broadcast)
	closeAfter bool     // Close sess after a send
}

// Broadcaster fans frames out to every admitted session. A single goroutine drains
// the queue, so all clients observe broadcasts in the same order regardless of
// which session submitted them.
type Broadcaster struct {
	registry *Registry
	logs     *loggers
	metrics  *Metrics

	mu      sync.RWMutex // Guards stopped against concurrent submissions
	stopped bool
	queue   chan job
	done    chan struct{}
}

// NewBroadcaster creates a stopped broadcaster; call Start to begin draining
func NewBroadcaster(registry *Registry, queueSize int, logs *loggers, metrics *Metrics) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Broadcaster{
		registry: registry,
		logs:     logs,
		metrics:  metrics,
		queue:    make(chan job, queueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the drain goroutine
func (b *Broadcaster) Start() {
	go b.run()
}

// Stop rejects new submissions, delivers what is already queued and waits for
// the drain goroutine to exit. Safe to call more than once.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.queue)
	}
	b.mu.Unlock()
	<-b.done
}

// Broadcast queues data for every admitted session except exclude (may be nil)
func (b *Broadcaster) Broadcast(data []byte, exclude *Session, label string) bool {
	return b.submit(job{kind: jobBroadcast, data: data, sess: exclude, label: label})
}

// Admit queues the admission of a freshly registered session. When processed the
// session receives MEMBERS (the admitted users other than itself, in join order),
// every other admitted session receives JOINED, and the session starts receiving
// broadcasts. All of it happens in one queue step.
func (b *Broadcaster) Admit(sess *Session) bool {
	return b.submit(job{kind: jobAdmit, sess: sess})
}

// Depart queues the LEFT notification for a session that has closed. Sessions
// that were never admitted depart silently.
func (b *Broadcaster) Depart(sess *Session) bool {
	return b.submit(job{kind: jobDepart, sess: sess})
}

// Send queues a direct write to one session, ordered with the broadcasts. With
// closeAfter the session's connection is closed once the write completes.
func (b *Broadcaster) Send(sess *Session, data []byte, closeAfter bool) bool {
	return b.submit(job{kind: jobSend, sess: sess, data: data, closeAfter: closeAfter})
}

func (b *Broadcaster) submit(j job) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		b.logs.debug.Printf("Broadcaster stopped, dropping job kind=%d", j.kind)
		return false
	}
	b.queue <- j
	b.metrics.SetQueueLength(len(b.queue))
	return true
}

func (b *Broadcaster) run() {
	defer close(b.done)

	for j := range b.queue {
		b.metrics.SetQueueLength(len(b.queue))
		switch j.kind {
		case jobBroadcast:
			b.deliver(j.data, j.sess, j.label)
		case jobAdmit:
			b.admit(j.sess)
		case jobDepart:
			b.depart(j.sess)
		case jobSend:
			b.write(j.sess, j.data)
			if j.closeAfter {
				j.sess.Close()
			}
		}
	}
}

func (b *Broadcaster) admit(sess *Session) {
	// Kicked or disconnected while queued
	if current, ok := b.registry.Lookup(sess.Username()); !ok || current != sess {
		b.logs.debug.Printf("Session %s (%s): gone before admission", sess.ID, sess.Username())
		return
	}

	members := make([]string, 0)
	for _, other := range b.registry.Snapshot() {
		if other != sess && other.Admitted() {
			members = append(members, other.Username())
		}
	}

	sess.setState(StateActive)
	sess.admitted.Store(true)
	if !b.write(sess, protocol.MembersFrame(members).Bytes()) {
		return
	}
	b.deliver(protocol.JoinedFrame(sess.Username()).Bytes(), sess, protocol.InfoJoined)
}

func (b *Broadcaster) depart(sess *Session) {
	if !sess.admitted.Swap(false) {
		return
	}
	b.deliver(protocol.LeftFrame(sess.Username()).Bytes(), sess, protocol.InfoLeft)
}

// deliver writes identical bytes to each admitted recipient. A failed write closes
// that recipient's connection; its handler then runs the normal departure path.
func (b *Broadcaster) deliver(data []byte, exclude *Session, label string) {
	sessions := b.registry.Snapshot()
	sent := 0
	for _, sess := range sessions {
		if sess == exclude || !sess.Admitted() {
			continue
		}
		if b.write(sess, data) {
			sent++
		}
	}
	b.metrics.RecordBroadcast(label)
	b.logs.debug.Printf("Broadcast %s (%d bytes) delivered to %d session(s)", label, len(data), sent)
}

func (b *Broadcaster) write(sess *Session, data []byte) bool {
	if err := sess.Conn.WriteBytes(data); err != nil {
		b.metrics.RecordSendFailure()
		b.logs.error.Printf("Session %s (%s): send failed, closing: %v", sess.ID, sess.Username(), err)
		sess.Close()
		return false
	}
	return true
}
