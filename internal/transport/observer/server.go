package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cellsim.ai/internal/observerproto"
	"cellsim.ai/internal/sim/session"
)

// MaxRunPerRequest caps POST /v1/run.
const MaxRunPerRequest = 1 << 20

// Source is the part of a session the observer serves.
type Source interface {
	Info() session.Info
	Run(n uint64)
	HighestGeneration() uint64
	Frame(ctx context.Context, g uint64) (session.Frame, bool, error)
	Delta(ctx context.Context, from, to uint64) (session.Delta, bool, error)
}

type Server struct {
	src  Source
	log  *log.Logger
	poll time.Duration

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

// NewServer serves src. poll is how often streams look for new generations.
func NewServer(src Source, poll time.Duration, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Server{
		src:  src,
		log:  logger,
		poll: poll,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Handler routes the observer endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/run", s.RunHandler())
	mux.HandleFunc("/v1/frame", s.FrameHandler())
	mux.HandleFunc("/v1/observe", s.WSHandler())
	return mux
}

// localOnly rejects other methods and non-loopback callers before h runs.
func localOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return localOnly(http.MethodGet, func(rw http.ResponseWriter, r *http.Request) {
		info := s.src.Info()
		writeJSON(rw, http.StatusOK, observerproto.BootstrapResponse{
			ProtocolVersion:   observerproto.Version,
			Rule:              info.Rule,
			Topology:          info.Topology,
			Width:             info.Width,
			Height:            info.Height,
			ChunkExp:          info.ChunkExp,
			HighestGeneration: info.Generation,
		})
	})
}

func (s *Server) RunHandler() http.HandlerFunc {
	return localOnly(http.MethodPost, func(rw http.ResponseWriter, r *http.Request) {
		n, err := strconv.ParseUint(r.URL.Query().Get("n"), 10, 64)
		if err != nil || n > MaxRunPerRequest {
			writeError(rw, http.StatusBadRequest, observerproto.ErrBadRequest, fmt.Sprintf("n must be an integer in [0, %d]", MaxRunPerRequest))
			return
		}
		s.src.Run(n)
		writeJSON(rw, http.StatusOK, observerproto.RunResponse{HighestGeneration: s.src.HighestGeneration()})
	})
}

func (s *Server) FrameHandler() http.HandlerFunc {
	return localOnly(http.MethodGet, func(rw http.ResponseWriter, r *http.Request) {
		g, err := strconv.ParseUint(r.URL.Query().Get("gen"), 10, 64)
		if err != nil {
			writeError(rw, http.StatusBadRequest, observerproto.ErrBadRequest, "gen must be a generation number")
			return
		}
		f, ok, err := s.src.Frame(r.Context(), g)
		if err != nil {
			s.log.Printf("frame %d: %v", g, err)
			writeError(rw, http.StatusInternalServerError, observerproto.ErrInternal, err.Error())
			return
		}
		if !ok {
			writeError(rw, http.StatusNotFound, observerproto.ErrNotFound, fmt.Sprintf("generation %d not available", g))
			return
		}
		writeJSON(rw, http.StatusOK, frameMsg(f))
	})
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, err := decodeSubscribe(msg)
		if err != nil {
			s.reject(conn, err.Error())
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		s.log.Printf("observer %s subscribed from generation %d", sid, sub.FromGeneration)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Reader goroutine: SUBSCRIBE updates restart the stream.
		resub := make(chan uint64, 1)
		go func() {
			defer cancel()
			for {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				sub, err := decodeSubscribe(msg)
				if err != nil {
					continue
				}
				select {
				case <-resub:
				default:
				}
				resub <- sub.FromGeneration
			}
		}()

		err = s.stream(ctx, conn, sub.FromGeneration, resub)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Printf("observer %s: %v", sid, err)
			s.sendError(conn, observerproto.ErrInternal, err.Error())
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	}
}

// stream sends the FRAME for from once it exists and then a DELTA each time
// the highest generation moves.
func (s *Server) stream(ctx context.Context, conn *websocket.Conn, from uint64, resub <-chan uint64) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	var (
		cur  uint64
		sent bool
	)
	for {
		if !sent && s.src.HighestGeneration() >= from {
			f, ok, err := s.src.Frame(ctx, from)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("generation %d not available", from)
			}
			if err := writeMsg(conn, frameMsg(f)); err != nil {
				return err
			}
			cur, sent = from, true
		}
		if sent {
			if h := s.src.HighestGeneration(); h > cur {
				d, ok, err := s.src.Delta(ctx, cur, h)
				if err != nil {
					return err
				}
				if ok {
					if err := writeMsg(conn, deltaMsg(d)); err != nil {
						return err
					}
					cur = h
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case g := <-resub:
			from, sent = g, false
		case <-ticker.C:
		}
	}
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, error) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, fmt.Errorf("bad subscribe")
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, fmt.Errorf("expected SUBSCRIBE")
	}
	return sub, nil
}

func (s *Server) reject(conn *websocket.Conn, reason string) {
	s.sendError(conn, observerproto.ErrProtoBadRequest, reason)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func (s *Server) sendError(conn *websocket.Conn, code, message string) {
	_ = writeMsg(conn, observerproto.ErrorMsg{
		Type:            observerproto.TypeError,
		ProtocolVersion: observerproto.Version,
		Code:            code,
		Message:         message,
	})
}

func writeMsg(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, message string) {
	writeJSON(rw, status, observerproto.ErrorMsg{
		Type:            observerproto.TypeError,
		ProtocolVersion: observerproto.Version,
		Code:            code,
		Message:         message,
	})
}

func cells(in []session.Cell) []observerproto.Cell {
	out := make([]observerproto.Cell, 0, len(in))
	for _, c := range in {
		out = append(out, observerproto.Cell{X: c.X, Y: c.Y, Code: c.Code})
	}
	return out
}

func frameMsg(f session.Frame) observerproto.FrameMsg {
	return observerproto.FrameMsg{
		Type:            observerproto.TypeFrame,
		ProtocolVersion: observerproto.Version,
		Generation:      f.Generation,
		Rule:            f.Rule,
		Topology:        f.Topology,
		Width:           f.Width,
		Height:          f.Height,
		ChunkExp:        f.ChunkExp,
		Digest:          f.Digest(),
		Cells:           cells(f.Cells),
	}
}

func deltaMsg(d session.Delta) observerproto.DeltaMsg {
	return observerproto.DeltaMsg{
		Type:            observerproto.TypeDelta,
		ProtocolVersion: observerproto.Version,
		From:            d.From,
		To:              d.To,
		Changes:         cells(d.Changes),
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
