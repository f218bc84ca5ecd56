package radio

import (
	"context"
	"testing"
	"time"
)

func TestSimulatedAdapterCleanDelivery(t *testing.T) {
	link := NewSimulatedLink(LinkParams{Seed: 1})
	a := link.NewAdapter("a")
	b := link.NewAdapter("b")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := a.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestSimulatedAdapterDropsAll(t *testing.T) {
	link := NewSimulatedLink(LinkParams{Seed: 2, DropRate: 1.0})
	a := link.NewAdapter("a")
	b := link.NewAdapter("b")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_ = a.Send(ctx, []byte("lost"))

	_, err := b.Recv(ctx)
	if err == nil {
		t.Fatal("expected Recv to time out when DropRate is 1.0")
	}
}

func TestSimulatedAdapterCloseUnblocks(t *testing.T) {
	link := NewSimulatedLink(LinkParams{Seed: 3})
	a := link.NewAdapter("a")

	done := make(chan error, 1)
	go func() {
		_, err := a.Recv(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	a.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}

func TestSimulatedAdapterReportsBusy(t *testing.T) {
	link := NewSimulatedLink(LinkParams{Seed: 4, MaxInFlight: 1, BusyWindow: 50 * time.Millisecond})
	a := link.NewAdapter("a")
	link.NewAdapter("b")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := a.Send(ctx, []byte("first")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Send(ctx, []byte("second")); err != ErrBusy {
		t.Fatalf("Send while occupied: got %v, want ErrBusy", err)
	}

	time.Sleep(60 * time.Millisecond)
	if err := a.Send(ctx, []byte("third")); err != nil {
		t.Fatalf("Send after busy window elapsed: %v", err)
	}
}
