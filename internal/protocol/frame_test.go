package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{StreamID: 1, Seq: 0, Ack: 0, Flags: FlagSYN},
		{StreamID: 7, Seq: 42, Ack: 41, Flags: FlagACK, Payload: []byte("hello mesh")},
		{StreamID: 0xFFFFFFFF, Seq: 0xFFFFFFFF, Ack: 0, Flags: FlagFIN | FlagACK},
		{StreamID: 3, Seq: 5, Ack: 4, Flags: 0, Payload: make([]byte, MaxPayloadSize)},
	}

	for i, want := range cases {
		buf, err := Encode(want)
		if err != nil {
			t.Fatalf("case %d: Encode: %v", i, err)
		}
		if len(buf) != want.EncodedLen() {
			t.Fatalf("case %d: len(buf) = %d, want %d", i, len(buf), want.EncodedLen())
		}

		got, n, err := Decode(buf)
		if err != nil {
			t.Fatalf("case %d: Decode: %v", i, err)
		}
		if n != len(buf) {
			t.Fatalf("case %d: consumed %d bytes, want %d", i, n, len(buf))
		}
		if got.StreamID != want.StreamID || got.Seq != want.Seq || got.Ack != want.Ack || got.Flags != want.Flags {
			t.Fatalf("case %d: header mismatch: got %+v, want %+v", i, got, want)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("case %d: payload mismatch", i)
		}
	}
}

func TestDecodeTooShort(t *testing.T) {
	_, _, err := Decode(make([]byte, HeaderSize-1))
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("got %v, want ErrTooShort", err)
	}
}

func TestDecodeBadLength(t *testing.T) {
	f := Frame{StreamID: 1, Seq: 1, Ack: 0, Flags: FlagACK, Payload: []byte("abc")}
	buf, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, _, err = Decode(buf[:len(buf)-1])
	if !errors.Is(err, ErrBadLength) {
		t.Fatalf("got %v, want ErrBadLength", err)
	}

	_, _, err = Decode(buf[:HeaderSize])
	if !errors.Is(err, ErrBadLength) {
		t.Fatalf("got %v, want ErrBadLength", err)
	}
}

func TestDecodeBadCRC(t *testing.T) {
	f := Frame{StreamID: 1, Seq: 1, Ack: 0, Flags: FlagACK, Payload: []byte("abc")}
	buf, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[len(buf)-1] ^= 0xFF

	_, _, err = Decode(buf)
	if !errors.Is(err, ErrBadCRC) {
		t.Fatalf("got %v, want ErrBadCRC", err)
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	f := Frame{Payload: make([]byte, MaxPayloadSize+1)}
	_, err := Encode(f)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestDecodeTrailingBytesIgnored(t *testing.T) {
	f := Frame{StreamID: 2, Seq: 9, Ack: 8, Flags: FlagSYN, Payload: []byte("xy")}
	buf, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf = append(buf, []byte("trailing garbage")...)

	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != f.EncodedLen() {
		t.Fatalf("consumed %d bytes, want %d", n, f.EncodedLen())
	}
	if got.StreamID != f.StreamID {
		t.Fatalf("StreamID = %d, want %d", got.StreamID, f.StreamID)
	}
}
