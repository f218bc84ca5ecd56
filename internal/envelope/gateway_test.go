package envelope

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register("echo", CommandHandlerFunc(func(ctx context.Context, body []byte) ([]byte, error) {
		return body, nil
	}))

	out, err := r.Dispatch(context.Background(), "echo", []byte("ping"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !bytes.Equal(out, []byte("ping")) {
		t.Fatalf("got %q, want %q", out, "ping")
	}
}

func TestRegistryUnknownCommand(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), "missing", nil)
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("got %v, want ErrNoHandler", err)
	}
}

func TestRegistryCommandsList(t *testing.T) {
	r := NewRegistry()
	r.Register("a", CommandHandlerFunc(func(ctx context.Context, body []byte) ([]byte, error) { return nil, nil }))
	r.Register("b", CommandHandlerFunc(func(ctx context.Context, body []byte) ([]byte, error) { return nil, nil }))

	names := r.Commands()
	if len(names) != 2 {
		t.Fatalf("got %d commands, want 2", len(names))
	}
}
