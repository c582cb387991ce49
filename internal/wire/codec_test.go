package wire

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	exp := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := NewGetChunkStates([]ChunkElement{
		{Identifier: "abc123", Expiration: exp, RootHandle: false},
	})

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, consumed, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if consumed != len(encoded) {
		t.Errorf("expected to consume %d bytes, consumed %d", len(encoded), consumed)
	}

	body, ok := decoded.Body.(GetChunkStates)
	if !ok {
		t.Fatalf("expected GetChunkStates body, got %T", decoded.Body)
	}
	if len(body.Chunks) != 1 || body.Chunks[0].Identifier != "abc123" {
		t.Errorf("unexpected chunks: %+v", body.Chunks)
	}
}

func TestDecodeMessage_ShortBuffer(t *testing.T) {
	msg := NewGetRootHandles()
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, _, err = DecodeMessage(encoded[:len(encoded)-1])
	if err != ErrShortBuffer {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}

	_, _, err = DecodeMessage(nil)
	if err != ErrShortBuffer {
		t.Errorf("expected ErrShortBuffer for empty buffer, got %v", err)
	}
}

func TestReadWriteMessage(t *testing.T) {
	var buf bytes.Buffer
	msg := NewPostChunks([]ChunkContentElement{
		{Identifier: "deadbeef", RootHandle: true, ChunkContent: []byte("hello")},
	})

	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	body, ok := got.Body.(PostChunks)
	if !ok {
		t.Fatalf("expected PostChunks body, got %T", got.Body)
	}
	if len(body.Chunks) != 1 || string(body.Chunks[0].ChunkContent) != "hello" {
		t.Errorf("unexpected chunk content: %+v", body.Chunks)
	}
}

func TestReadMessage_PartialThenMore(t *testing.T) {
	msg := NewInvalidRequest("bad request")
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	pr, pw := io.Pipe()
	go func() {
		half := len(encoded) / 2
		pw.Write(encoded[:half])
		time.Sleep(10 * time.Millisecond)
		pw.Write(encoded[half:])
		pw.Close()
	}()

	got, err := ReadMessage(pr)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	body, ok := got.Body.(InvalidRequest)
	if !ok || body.Reason != "bad request" {
		t.Errorf("unexpected body: %+v", got.Body)
	}
}

func TestEncode_UnknownKind(t *testing.T) {
	_, err := Encode(Message{Timestamp: time.Now(), Body: struct{}{}})
	if err == nil {
		t.Error("expected error for unregistered body type")
	}
}
