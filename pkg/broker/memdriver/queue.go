package memdriver

import (
	"sync"

	"github.com/dmitrymomot/notifykit/pkg/broker"
)

type message struct {
	id          uint64
	exchange    string
	routingKey  string
	body        []byte
	headers     map[string]string
	redelivered bool
}

type inflight struct {
	msg   *message
	owner *Conn
}

type queue struct {
	name      string
	broker    *Broker
	mu        sync.Mutex
	ready     []*message
	unacked   map[uint64]inflight
	wake      chan struct{} // closed and replaced whenever a message arrives
	consumers map[string]*consumer
}

func newQueue(name string, b *Broker) *queue {
	return &queue{
		name:      name,
		broker:    b,
		unacked:   make(map[uint64]inflight),
		wake:      make(chan struct{}),
		consumers: make(map[string]*consumer),
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

func (q *queue) push(m *message) {
	q.mu.Lock()
	q.ready = append(q.ready, m)
	q.signalLocked()
	q.mu.Unlock()
}

func (q *queue) requeue(m *message) {
	q.mu.Lock()
	m.redelivered = true
	q.ready = append([]*message{m}, q.ready...)
	q.signalLocked()
	q.mu.Unlock()
}

// Must be called with q.mu held.
func (q *queue) signalLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// take blocks until a message is available or stop is closed.
func (q *queue) take(owner *Conn, stop <-chan struct{}) (*message, bool) {
	for {
		q.mu.Lock()
		select {
		case <-stop:
			q.mu.Unlock()
			return nil, false
		default:
		}
		if len(q.ready) > 0 {
			m := q.ready[0]
			q.ready = q.ready[1:]
			q.unacked[m.id] = inflight{msg: m, owner: owner}
			q.mu.Unlock()
			return m, true
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-stop:
			return nil, false
		}
	}
}

// settle removes m from the unacked set. It fails when the owning connection
// already released it.
func (q *queue) settle(id uint64, owner *Conn) (*message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, ok := q.unacked[id]
	if !ok || f.owner != owner {
		return nil, broker.ErrConnClosed
	}
	delete(q.unacked, id)
	return f.msg, nil
}

// releaseOwner returns messages delivered over c to the head of the queue.
func (q *queue) releaseOwner(c *Conn) {
	q.mu.Lock()
	var back []*message
	for id, f := range q.unacked {
		if f.owner == c {
			f.msg.redelivered = true
			back = append(back, f.msg)
			delete(q.unacked, id)
		}
	}
	for tag, cons := range q.consumers {
		if cons.conn == c {
			delete(q.consumers, tag)
		}
	}
	if len(back) > 0 {
		q.ready = append(back, q.ready...)
		q.signalLocked()
	}
	q.mu.Unlock()
}

func (q *queue) addConsumer(c *consumer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consumers[c.tag] = c
}

func (q *queue) removeConsumer(tag string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.consumers, tag)
}

func (q *queue) stopConsumers() {
	q.mu.Lock()
	cons := make([]*consumer, 0, len(q.consumers))
	for _, c := range q.consumers {
		cons = append(cons, c)
	}
	clear(q.consumers)
	q.mu.Unlock()
	for _, c := range cons {
		c.stop()
	}
}
