package relayserver

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// sessionBuffer bounds how many undelivered pushes a live stream may
// hold before the relay falls back to the durable queue.
const sessionBuffer = 128

const shardCount = 16

// Message is one delivery in flight to a recipient.
type Message struct {
	ID        string
	Sender    string
	Content   []byte
	Timestamp int64
}

// session is one live receive stream.
type session struct {
	id   uint64
	ch   chan Message
	done chan struct{}
	once sync.Once
}

// end tells the stream's handler to wind down. The message channel is
// never closed, so a concurrent push cannot panic; pushes stop because
// the session leaves the registry.
func (s *session) end() {
	s.once.Do(func() { close(s.done) })
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// Registry tracks the live receive stream per client. State is split
// across shards so pushes to different recipients do not contend on
// one lock.
type Registry struct {
	shards [shardCount]shard
	nextID atomic.Uint64
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].sessions = make(map[string]*session)
	}
	return r
}

func (r *Registry) shardFor(client string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(client))
	return &r.shards[h.Sum32()%shardCount]
}

// Register installs a new session for client. A previous session is
// displaced and ended, which tells its handler to wind down.
func (r *Registry) Register(client string) *session {
	s := &session{
		id:   r.nextID.Add(1),
		ch:   make(chan Message, sessionBuffer),
		done: make(chan struct{}),
	}
	sh := r.shardFor(client)
	sh.mu.Lock()
	if old, ok := sh.sessions[client]; ok {
		old.end()
	}
	sh.sessions[client] = s
	sh.mu.Unlock()
	return s
}

// Deregister removes s if it is still the session registered for
// client. Once Deregister returns no further push can reach s, so the
// handler may drain s.ch and know it has seen everything.
func (r *Registry) Deregister(client string, s *session) {
	sh := r.shardFor(client)
	sh.mu.Lock()
	if cur, ok := sh.sessions[client]; ok && cur.id == s.id {
		delete(sh.sessions, client)
	}
	s.end()
	sh.mu.Unlock()
}

// Push hands m to client's live stream. False means there is no usable
// stream right now and the message belongs in the durable queue.
func (r *Registry) Push(client string, m Message) bool {
	sh := r.shardFor(client)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	s, ok := sh.sessions[client]
	if !ok {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- m:
		return true
	default:
		// Buffer full.
		return false
	}
}

// CloseAll ends every live session, typically at shutdown.
func (r *Registry) CloseAll() {
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for client, s := range sh.sessions {
			s.end()
			delete(sh.sessions, client)
		}
		sh.mu.Unlock()
	}
}
