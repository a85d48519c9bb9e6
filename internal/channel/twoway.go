package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MailKind tags what a slave pulled off its queue.
type MailKind uint8

const (
	// MailMessage is a fire-and-forget message.
	MailMessage MailKind = iota + 1
	// MailRequest carries a RequestHandle that must be answered exactly once.
	MailRequest
	// MailDead means the master is gone; the slave loop must exit.
	MailDead
)

func (k MailKind) String() string {
	switch k {
	case MailMessage:
		return "MESSAGE"
	case MailRequest:
		return "REQUEST"
	case MailDead:
		return "DEAD"
	default:
		return fmt.Sprintf("MailKind(%d)", uint8(k))
	}
}

type envelope[Req, Resp any] struct {
	kind  MailKind
	req   Req
	reply chan Resp
}

// Mail is one item received by a slave.
type Mail[Req, Resp any] struct {
	Kind   MailKind
	Msg    Req                       // set for MailMessage
	Handle *RequestHandle[Req, Resp] // set for MailRequest
}

// Master is the requesting end of a two-way channel.
type Master[Req, Resp any] struct {
	q         *queue[envelope[Req, Resp]]
	slaveGone chan struct{}
	gone      chan struct{}
	once      sync.Once
}

// Slave is the serving end of a two-way channel. It is owned by a single
// goroutine.
type Slave[Req, Resp any] struct {
	q          *queue[envelope[Req, Resp]]
	gone       chan struct{}
	masterGone chan struct{}
	once       sync.Once

	mu          sync.Mutex
	outstanding map[*RequestHandle[Req, Resp]]struct{}
}

// ThirdPartySender pushes fire-and-forget messages into a slave without
// owning the master. It is safe to copy and to use from many goroutines.
type ThirdPartySender[Req, Resp any] struct {
	q *queue[envelope[Req, Resp]]
}

// TwoWay creates a connected master/slave pair.
func TwoWay[Req, Resp any]() (*Master[Req, Resp], *Slave[Req, Resp]) {
	q := newQueue[envelope[Req, Resp]]()
	slaveGone := make(chan struct{})
	masterGone := make(chan struct{})
	m := &Master[Req, Resp]{q: q, slaveGone: slaveGone, gone: masterGone}
	s := &Slave[Req, Resp]{
		q:           q,
		gone:        slaveGone,
		masterGone:  masterGone,
		outstanding: map[*RequestHandle[Req, Resp]]struct{}{},
	}
	return m, s
}

// Send delivers req without waiting for an answer.
func (m *Master[Req, Resp]) Send(req Req) error {
	if !m.q.push(envelope[Req, Resp]{kind: MailMessage, req: req}) {
		return ErrPeerDead
	}
	return nil
}

// Request delivers req and blocks until the slave responds. It fails with
// ErrPeerDead when the slave goes away first.
func (m *Master[Req, Resp]) Request(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	reply := make(chan Resp, 1)
	if !m.q.push(envelope[Req, Resp]{kind: MailRequest, req: req, reply: reply}) {
		return zero, ErrPeerDead
	}
	select {
	case resp := <-reply:
		return resp, nil
	case <-m.slaveGone:
		// The slave may have answered right before closing.
		select {
		case resp := <-reply:
			return resp, nil
		default:
		}
		return zero, ErrPeerDead
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// ThirdParty derives a fan-in sender. Its sends fail with ErrClosed once the
// master is closed or the slave is gone.
func (m *Master[Req, Resp]) ThirdParty() ThirdPartySender[Req, Resp] {
	return ThirdPartySender[Req, Resp]{q: m.q}
}

// Close sends the dead tag to the slave and stops all further sends,
// including those of third-party senders.
func (m *Master[Req, Resp]) Close() {
	m.once.Do(func() {
		close(m.gone)
		m.q.pushAndClose(envelope[Req, Resp]{kind: MailDead})
	})
}

// Send delivers req as a plain message.
func (t ThirdPartySender[Req, Resp]) Send(req Req) error {
	if t.q == nil || !t.q.push(envelope[Req, Resp]{kind: MailMessage, req: req}) {
		return ErrClosed
	}
	return nil
}

// WaitForMail blocks for the next message. After the master is gone it keeps
// returning MailDead.
func (s *Slave[Req, Resp]) WaitForMail() Mail[Req, Resp] {
	env, err := s.q.pop(context.Background())
	if err != nil {
		return Mail[Req, Resp]{Kind: MailDead}
	}
	switch env.kind {
	case MailRequest:
		h := &RequestHandle[Req, Resp]{req: env.req, reply: env.reply, slave: s}
		s.mu.Lock()
		s.outstanding[h] = struct{}{}
		s.mu.Unlock()
		return Mail[Req, Resp]{Kind: MailRequest, Handle: h}
	case MailMessage:
		return Mail[Req, Resp]{Kind: MailMessage, Msg: env.req}
	default:
		return Mail[Req, Resp]{Kind: MailDead}
	}
}

// Close stops the slave. Queued mail is discarded and the master's pending
// and future requests fail with ErrPeerDead.
//
// Closing while a received request is still unanswered and the master is
// alive panics: a request must never be dropped silently.
func (s *Slave[Req, Resp]) Close() {
	s.close(true)
}

// Abort is Close without the unanswered-request check. Workers use it when
// they are already unwinding from a failure.
func (s *Slave[Req, Resp]) Abort() {
	s.close(false)
}

func (s *Slave[Req, Resp]) close(check bool) {
	s.once.Do(func() {
		s.q.discard()
		close(s.gone)
		if !check {
			return
		}
		s.mu.Lock()
		n := len(s.outstanding)
		s.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case <-s.masterGone:
		default:
			panic(fmt.Sprintf("channel: slave closed with %d unanswered request(s)", n))
		}
	})
}

// RequestHandle is the responder token for one MailRequest.
type RequestHandle[Req, Resp any] struct {
	req       Req
	reply     chan Resp
	slave     *Slave[Req, Resp]
	responded atomic.Bool
}

// Request returns the payload of the request.
func (h *RequestHandle[Req, Resp]) Request() Req { return h.req }

// Responded reports whether Respond has been called.
func (h *RequestHandle[Req, Resp]) Responded() bool { return h.responded.Load() }

// Respond answers the request. Answering twice panics; answering after the
// master stopped waiting is a silent no-op.
func (h *RequestHandle[Req, Resp]) Respond(resp Resp) {
	if !h.responded.CompareAndSwap(false, true) {
		panic("channel: request answered twice")
	}
	h.slave.mu.Lock()
	delete(h.slave.outstanding, h)
	h.slave.mu.Unlock()
	// reply has capacity 1 and exactly one writer.
	h.reply <- resp
}
