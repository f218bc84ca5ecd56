package envelope

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"
)

func TestEchoHandler(t *testing.T) {
	h := EchoHandler()
	out, err := h.Handle(context.Background(), []byte("ping"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !bytes.Equal(out, []byte("ping")) {
		t.Fatalf("got %q, want %q", out, "ping")
	}
}

func TestDigestHandler(t *testing.T) {
	h := DigestHandler()
	out, err := h.Handle(context.Background(), []byte("hello mesh"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, err := hex.DecodeString(string(out)); err != nil {
		t.Fatalf("digest output %q is not hex: %v", out, err)
	}
}

type fakeReporter struct{ healthy bool }

func (f fakeReporter) Healthy() bool { return f.healthy }

func TestHealthHandler(t *testing.T) {
	h := HealthHandler(fakeReporter{healthy: true})
	out, err := h.Handle(context.Background(), nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !bytes.Contains(out, []byte("true")) {
		t.Fatalf("got %q, want a healthy=true report", out)
	}
}
