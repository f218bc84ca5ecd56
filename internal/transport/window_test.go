package transport

import (
	"testing"
	"time"

	"github.com/nishisan-dev/meshbridge/internal/protocol"
)

func TestSendWindowInsertAck(t *testing.T) {
	w := newSendWindow(4, 100)

	for i := 0; i < 4; i++ {
		seq := w.Insert(protocol.Frame{Payload: []byte{byte(i)}})
		if seq != uint32(100+i) {
			t.Fatalf("Insert #%d: seq = %d, want %d", i, seq, 100+i)
		}
	}
	if !w.Full() {
		t.Fatal("window should be full after capacity inserts")
	}

	cleared := w.Ack(102)
	if len(cleared) != 2 {
		t.Fatalf("Ack(102): cleared %d, want 2", len(cleared))
	}
	if w.Full() {
		t.Fatal("window should have free slots after Ack")
	}
}

func TestSendWindowWaitForSlot(t *testing.T) {
	w := newSendWindow(1, 0)
	w.Insert(protocol.Frame{})

	cancel := make(chan struct{})
	done := make(chan bool, 1)
	go func() {
		done <- w.WaitForSlot(cancel)
	}()

	select {
	case <-done:
		t.Fatal("WaitForSlot returned before a slot freed")
	case <-time.After(20 * time.Millisecond):
	}

	w.Ack(1)

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("WaitForSlot returned false after a slot freed")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForSlot did not unblock after Ack")
	}
}

func TestSendWindowNackRetransmit(t *testing.T) {
	w := newSendWindow(4, 0)
	seq := w.Insert(protocol.Frame{Payload: []byte("x")})

	_, tries, ok := w.NackRetransmit(seq)
	if !ok || tries != 1 {
		t.Fatalf("NackRetransmit: tries=%d ok=%v, want 1,true", tries, ok)
	}
	_, tries, ok = w.NackRetransmit(seq)
	if !ok || tries != 2 {
		t.Fatalf("NackRetransmit: tries=%d ok=%v, want 2,true", tries, ok)
	}

	w.Ack(seq + 1)
	_, _, ok = w.NackRetransmit(seq)
	if ok {
		t.Fatal("NackRetransmit should fail for an already-acked seq")
	}
}

func TestRecvWindowReorder(t *testing.T) {
	r := newRecvWindow(8, 0)

	dup, delivered := r.Accept(protocol.Frame{Seq: 1, Payload: []byte("b")})
	if dup || delivered != nil {
		t.Fatalf("out-of-order frame should buffer, not deliver: delivered=%v", delivered)
	}

	dup, delivered = r.Accept(protocol.Frame{Seq: 0, Payload: []byte("a")})
	if dup {
		t.Fatal("seq 0 should not be a duplicate")
	}
	if len(delivered) != 2 || string(delivered[0]) != "a" || string(delivered[1]) != "b" {
		t.Fatalf("delivered = %v, want [a b]", delivered)
	}

	dup, _ = r.Accept(protocol.Frame{Seq: 0, Payload: []byte("a")})
	if !dup {
		t.Fatal("redelivering seq 0 should be a duplicate")
	}

	if ack := r.Ack(); ack != 2 {
		t.Fatalf("Ack() = %d, want 2", ack)
	}
}

func TestRecvWindowGaps(t *testing.T) {
	r := newRecvWindow(8, 0)
	r.Accept(protocol.Frame{Seq: 3, Payload: []byte("d")})
	r.Accept(protocol.Frame{Seq: 1, Payload: []byte("b")})

	gaps := r.Gaps()
	if len(gaps) != 2 || gaps[0] != 0 || gaps[1] != 2 {
		t.Fatalf("Gaps() = %v, want [0 2]", gaps)
	}
}
