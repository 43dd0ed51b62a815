package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payloads := [][]byte{
		[]byte(`{"type":"ping"}`),
		{},
		bytes.Repeat([]byte("x"), 1<<16),
	}
	for _, p := range payloads {
		if err := Write(&buf, p); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	for i, want := range payloads {
		got, err := Read(&buf, 0)
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: got %d bytes, want %d", i, len(got), len(want))
		}
	}
}

func TestRead_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, bytes.Repeat([]byte("x"), 100)); err != nil {
		t.Fatal(err)
	}

	_, err := Read(&buf, 50)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("Read = %v, want ErrTooLarge", err)
	}
}

func TestRead_HostileLengthPrefix(t *testing.T) {
	// A huge advertised length with no payload behind it must be refused at
	// the header, before any allocation.
	buf := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := Read(buf, 1024); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Read = %v, want ErrTooLarge", err)
	}
}

func TestRead_TornFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, []byte("complete payload")); err != nil {
		t.Fatal(err)
	}
	torn := buf.Bytes()[:buf.Len()-5]

	_, err := Read(bytes.NewReader(torn), 0)
	if err == nil {
		t.Fatal("truncated payload should fail")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Read = %v, want ErrUnexpectedEOF", err)
	}
}

func TestRead_EOF(t *testing.T) {
	if _, err := Read(bytes.NewReader(nil), 0); !errors.Is(err, io.EOF) {
		t.Errorf("Read on empty stream = %v, want EOF", err)
	}
}
