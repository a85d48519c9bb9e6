package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"

	"cellsim.ai/internal/observerproto"
	"cellsim.ai/internal/sim/session"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/observe", "observer ws url")
		from  = flag.Uint64("from", 0, "first generation to stream")
		until = flag.Uint64("until", 0, "stop after this generation (0: follow forever)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = follow(ctx, conn, *from, *until, func(f session.Frame) error {
		logger.Printf("generation=%d population=%d digest=%s", f.Generation, f.Population(), f.Digest())
		return nil
	})
	if err != nil && ctx.Err() == nil {
		logger.Fatalf("watch: %v", err)
	}
}

// follow subscribes at from and keeps a local frame current by applying each
// DELTA to the initial FRAME. fn sees every frame; the local digest is
// checked against the server's FRAME digest once. follow returns nil after
// the frame for until (when until > 0) or when ctx is done. conn is closed
// when follow returns.
func follow(ctx context.Context, conn *websocket.Conn, from, until uint64, fn func(session.Frame) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		FromGeneration:  from,
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	var (
		cur  session.Frame
		have bool
	)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		base, err := observerproto.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case observerproto.TypeFrame:
			var m observerproto.FrameMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				return err
			}
			cur = session.Frame{
				Generation: m.Generation,
				Rule:       m.Rule,
				Topology:   m.Topology,
				Width:      m.Width,
				Height:     m.Height,
				ChunkExp:   m.ChunkExp,
				Cells:      cells(m.Cells),
			}
			if got := cur.Digest(); got != m.Digest {
				return fmt.Errorf("frame %d digest mismatch: got=%s want=%s", m.Generation, got, m.Digest)
			}
			have = true

		case observerproto.TypeDelta:
			var m observerproto.DeltaMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				return err
			}
			if !have || m.From != cur.Generation {
				return fmt.Errorf("delta %d->%d does not follow generation %d", m.From, m.To, cur.Generation)
			}
			cur = cur.Apply(session.Delta{From: m.From, To: m.To, Changes: cells(m.Changes)})

		case observerproto.TypeError:
			var m observerproto.ErrorMsg
			_ = json.Unmarshal(msg, &m)
			return fmt.Errorf("%s: %s", m.Code, m.Message)

		default:
			continue
		}

		if err := fn(cur); err != nil {
			return err
		}
		if until > 0 && cur.Generation >= until {
			return nil
		}
	}
}

func cells(in []observerproto.Cell) []session.Cell {
	out := make([]session.Cell, len(in))
	for i, c := range in {
		out[i] = session.Cell{X: c.X, Y: c.Y, Code: c.Code}
	}
	return out
}
