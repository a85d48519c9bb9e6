package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOneWay_FIFOAndCloseAfterDrain(t *testing.T) {
	tx, rx := OneWay[int]()
	for i := 0; i < 100; i++ {
		if err := tx.Send(i); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	tx.Close()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		v, err := rx.Recv(ctx)
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if v != i {
			t.Fatalf("out of order: got %d want %d", v, i)
		}
	}
	if _, err := rx.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after drain, got %v", err)
	}
}

func TestOneWay_ClonedSendersKeepChannelOpen(t *testing.T) {
	tx, rx := OneWay[string]()
	tx2 := tx.Clone()
	tx.Close()

	if err := tx.Send("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed sender should refuse sends, got %v", err)
	}
	if err := tx2.Send("hello"); err != nil {
		t.Fatalf("clone send: %v", err)
	}
	tx2.Close()

	ctx := context.Background()
	v, err := rx.Recv(ctx)
	if err != nil || v != "hello" {
		t.Fatalf("recv: %q %v", v, err)
	}
	if _, err := rx.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed once all senders closed, got %v", err)
	}
}

func TestOneWay_RecvBlocksUntilSend(t *testing.T) {
	tx, rx := OneWay[int]()
	got := make(chan int, 1)
	go func() {
		v, err := rx.Recv(context.Background())
		if err != nil {
			got <- -1
			return
		}
		got <- v
	}()

	select {
	case v := <-got:
		t.Fatalf("recv returned %d before any send", v)
	case <-time.After(20 * time.Millisecond):
	}

	_ = tx.Send(7)
	select {
	case v := <-got:
		if v != 7 {
			t.Fatalf("got %d want 7", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("recv did not wake up")
	}
}

func TestOneWay_RecvHonoursContext(t *testing.T) {
	_, rx := OneWay[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := rx.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestOneWay_SendAfterReceiverClosed(t *testing.T) {
	tx, rx := OneWay[int]()
	_ = tx.Send(1)
	rx.Close()
	if err := tx.Send(2); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func echoSlave(s *Slave[int, int], seen chan<- int) {
	defer s.Close()
	for {
		mail := s.WaitForMail()
		switch mail.Kind {
		case MailDead:
			return
		case MailMessage:
			if seen != nil {
				seen <- mail.Msg
			}
		case MailRequest:
			mail.Handle.Respond(mail.Handle.Request() * 2)
		}
	}
}

func TestTwoWay_RequestResponse(t *testing.T) {
	m, s := TwoWay[int, int]()
	go echoSlave(s, nil)
	defer m.Close()

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		got, err := m.Request(ctx, i)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if got != 2*i {
			t.Fatalf("request %d: got %d want %d", i, got, 2*i)
		}
	}
}

func TestTwoWay_MasterCloseDeliversDeadTag(t *testing.T) {
	m, s := TwoWay[int, int]()
	seen := make(chan int, 4)
	done := make(chan struct{})
	go func() {
		echoSlave(s, seen)
		close(done)
	}()

	_ = m.Send(1)
	_ = m.Send(2)
	m.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("slave did not exit after master close")
	}
	if len(seen) != 2 || <-seen != 1 || <-seen != 2 {
		t.Fatalf("messages queued before the dead tag must be delivered in order")
	}
}

func TestTwoWay_RequestFailsWhenSlaveGone(t *testing.T) {
	m, s := TwoWay[int, int]()
	defer m.Close()

	go func() {
		mail := s.WaitForMail()
		if mail.Kind != MailRequest {
			return
		}
		// Simulate a crashed worker.
		s.Abort()
	}()

	_, err := m.Request(context.Background(), 1)
	if !errors.Is(err, ErrPeerDead) {
		t.Fatalf("expected ErrPeerDead, got %v", err)
	}
	if _, err := m.Request(context.Background(), 2); !errors.Is(err, ErrPeerDead) {
		t.Fatalf("expected ErrPeerDead on next request, got %v", err)
	}
}

func TestTwoWay_ThirdPartyFanIn(t *testing.T) {
	m, s := TwoWay[int, int]()
	seen := make(chan int, 64)
	done := make(chan struct{})
	go func() {
		echoSlave(s, seen)
		close(done)
	}()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		tp := m.ThirdParty()
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				if err := tp.Send(base + i); err != nil {
					t.Errorf("third party send: %v", err)
				}
			}
		}(p * 100)
	}
	wg.Wait()

	// A request issued after the fan-in sends observes all of them.
	if _, err := m.Request(context.Background(), 0); err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(seen) != 32 {
		t.Fatalf("got %d messages want 32", len(seen))
	}

	tp := m.ThirdParty()
	m.Close()
	<-done
	if err := tp.Send(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("third party send after master close: got %v want ErrClosed", err)
	}
}

func TestRequestHandle_DoubleRespondPanics(t *testing.T) {
	m, s := TwoWay[int, int]()
	defer m.Close()

	go func() { _, _ = m.Request(context.Background(), 1) }()
	mail := s.WaitForMail()
	mail.Handle.Respond(1)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on second respond")
		}
	}()
	mail.Handle.Respond(2)
}

func TestSlave_CloseWithUnansweredRequestPanics(t *testing.T) {
	m, s := TwoWay[int, int]()
	defer m.Close()

	go func() { _, _ = m.Request(context.Background(), 1) }()
	mail := s.WaitForMail()
	if mail.Kind != MailRequest {
		t.Fatalf("got %v want REQUEST", mail.Kind)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when closing with an unanswered request")
		}
	}()
	s.Close()
}

func TestRequestHandle_RespondAfterMasterGoneIsNoop(t *testing.T) {
	m, s := TwoWay[int, int]()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Request(ctx, 1)
		errCh <- err
	}()
	mail := s.WaitForMail()
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	m.Close()

	mail.Handle.Respond(42)
	if !mail.Handle.Responded() {
		t.Fatalf("handle should record the response")
	}
	if got := s.WaitForMail(); got.Kind != MailDead {
		t.Fatalf("got %v want DEAD", got.Kind)
	}
	s.Close()
}
