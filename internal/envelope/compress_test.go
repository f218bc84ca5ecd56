package envelope

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("reliable mesh transport payload "), 200)

	for _, codec := range []Compression{CompressionNone, CompressionGzip, CompressionZstd} {
		compressed, err := Compress(codec, data)
		if err != nil {
			t.Fatalf("codec %d: Compress: %v", codec, err)
		}
		out, err := Decompress(codec, compressed)
		if err != nil {
			t.Fatalf("codec %d: Decompress: %v", codec, err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("codec %d: round trip mismatch", codec)
		}
	}
}

func TestCompressUnknownCodec(t *testing.T) {
	_, err := Compress(Compression(99), []byte("x"))
	if err != ErrUnknownCompression {
		t.Fatalf("got %v, want ErrUnknownCompression", err)
	}
}
