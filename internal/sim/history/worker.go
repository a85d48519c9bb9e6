package history

import (
	"fmt"
	"io"
	"log"

	"cellsim.ai/internal/channel"
)

// ReqKind selects what a worker Request does.
type ReqKind uint8

const (
	ReqPush ReqKind = iota + 1
	ReqGetGen
	ReqGetDiff
)

func (k ReqKind) String() string {
	switch k {
	case ReqPush:
		return "PUSH"
	case ReqGetGen:
		return "GET_GEN"
	case ReqGetDiff:
		return "GET_DIFF"
	default:
		return fmt.Sprintf("ReqKind(%d)", uint8(k))
	}
}

// Request is the message a detached history consumes.
type Request[U any] struct {
	Kind     ReqKind
	Universe U // ReqPush
	Gen      uint64
	From, To uint64
	// Blocking holds the answer back until the generation has been pushed
	// instead of reporting it absent.
	Blocking bool
}

// Response answers a ReqGetGen or ReqGetDiff. OK is false when the
// generation is absent.
type Response[U, D any] struct {
	Universe U
	Diff     D
	OK       bool
}

// Push builds a push message.
func Push[U any](u U) Request[U] { return Request[U]{Kind: ReqPush, Universe: u} }

// GetGen builds a generation read.
func GetGen[U any](g uint64, blocking bool) Request[U] {
	return Request[U]{Kind: ReqGetGen, Gen: g, Blocking: blocking}
}

// GetDiff builds a difference read.
func GetDiff[U any](from, to uint64, blocking bool) Request[U] {
	return Request[U]{Kind: ReqGetDiff, From: from, To: to, Blocking: blocking}
}

// Endpoints returns a connected master/slave pair for a detached history.
func Endpoints[U, D any]() (*channel.Master[Request[U], Response[U, D]], *channel.Slave[Request[U], Response[U, D]]) {
	return channel.TwoWay[Request[U], Response[U, D]]()
}

// Serve consumes mail from s until the master goes away. Blocking reads that
// cannot be answered yet are parked and retried after every push, oldest
// first. Serve closes s before returning.
func (h *History[U, D]) Serve(s *channel.Slave[Request[U], Response[U, D]]) {
	var pending []*channel.RequestHandle[Request[U], Response[U, D]]
	for {
		mail := s.WaitForMail()
		switch mail.Kind {
		case channel.MailDead:
			for _, p := range pending {
				p.Respond(Response[U, D]{})
			}
			s.Close()
			return
		case channel.MailMessage:
			if mail.Msg.Kind != ReqPush {
				panic(fmt.Sprintf("history: %s sent without a reply handle", mail.Msg.Kind))
			}
			h.Push(mail.Msg.Universe)
			pending = h.retry(pending)
		case channel.MailRequest:
			req := mail.Handle.Request()
			if req.Kind == ReqPush {
				h.Push(req.Universe)
				mail.Handle.Respond(Response[U, D]{OK: true})
				pending = h.retry(pending)
				continue
			}
			resp := h.answer(req)
			if resp.OK || !req.Blocking {
				mail.Handle.Respond(resp)
				continue
			}
			pending = append(pending, mail.Handle)
		}
	}
}

func (h *History[U, D]) answer(req Request[U]) Response[U, D] {
	switch req.Kind {
	case ReqGetGen:
		u, ok := h.Generation(req.Gen)
		return Response[U, D]{Universe: u, OK: ok}
	case ReqGetDiff:
		d, ok := h.Difference(req.From, req.To)
		return Response[U, D]{Diff: d, OK: ok}
	default:
		panic(fmt.Sprintf("history: unexpected request %s", req.Kind))
	}
}

func (h *History[U, D]) retry(pending []*channel.RequestHandle[Request[U], Response[U, D]]) []*channel.RequestHandle[Request[U], Response[U, D]] {
	kept := pending[:0]
	for _, p := range pending {
		if resp := h.answer(p.Request()); resp.OK {
			p.Respond(resp)
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// Detach runs Serve on its own goroutine. A panic in the worker is logged and
// aborts s, so the master sees channel.ErrPeerDead. The returned channel is
// closed once the worker has stopped. logger may be nil.
func (h *History[U, D]) Detach(s *channel.Slave[Request[U], Response[U, D]], logger *log.Logger) <-chan struct{} {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("history worker stopped: %v", r)
				s.Abort()
			}
		}()
		h.Serve(s)
	}()
	return done
}
