package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrUnknownKind is returned when a message body's kind tag has no decoder.
	ErrUnknownKind = errors.New("wire: unknown message kind")
	// ErrShortBuffer signals that the accumulated bytes do not yet hold a
	// complete record; the caller should read more and retry.
	ErrShortBuffer = errors.New("wire: buffer holds an incomplete message")
)

// Encode serializes msg as a 3-element array: [timestamp, kind, body].
// The self-describing nature of MessagePack lets a reader recover the exact
// byte length of the record without an explicit length prefix.
func Encode(msg Message) ([]byte, error) {
	kind, err := kindOf(msg.Body)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(3); err != nil {
		return nil, err
	}
	if err := enc.Encode(msg.Timestamp); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(kind); err != nil {
		return nil, err
	}
	if err := enc.Encode(msg.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMessage attempts to decode exactly one Message from the front of buf.
// On success it returns the message and the number of bytes it consumed.
// A truncated buffer (not enough bytes for a complete record) yields
// ErrShortBuffer; any other decode failure is fatal and must not be retried.
func DecodeMessage(buf []byte) (Message, int, error) {
	if len(buf) == 0 {
		return Message{}, 0, ErrShortBuffer
	}
	r := bytes.NewReader(buf)
	dec := msgpack.NewDecoder(r)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Message{}, 0, wrapDecodeErr(err)
	}
	if n != 3 {
		return Message{}, 0, fmt.Errorf("wire: expected 3-element envelope, got %d elements", n)
	}

	var timestamp time.Time
	if err := dec.Decode(&timestamp); err != nil {
		return Message{}, 0, wrapDecodeErr(err)
	}

	kind, err := dec.DecodeString()
	if err != nil {
		return Message{}, 0, wrapDecodeErr(err)
	}

	body, err := decodeBody(dec, kind)
	if err != nil {
		return Message{}, 0, wrapDecodeErr(err)
	}

	consumed := len(buf) - r.Len()
	return Message{Timestamp: timestamp, Body: body}, consumed, nil
}

func wrapDecodeErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrShortBuffer
	}
	return err
}

func kindOf(body interface{}) (string, error) {
	switch body.(type) {
	case GetDesignation:
		return KindGetDesignation, nil
	case ReturnDesignation:
		return KindReturnDesignation, nil
	case GetChunkStates:
		return KindGetChunkStates, nil
	case ReturnChunkStates:
		return KindReturnChunkStates, nil
	case PostChunks:
		return KindPostChunks, nil
	case AcknowledgeChunks:
		return KindAcknowledgeChunks, nil
	case GetRootHandles:
		return KindGetRootHandles, nil
	case ReturnRootHandles:
		return KindReturnRootHandles, nil
	case GetChunks:
		return KindGetChunks, nil
	case ReturnChunks:
		return KindReturnChunks, nil
	case InvalidRequest:
		return KindInvalidRequest, nil
	case InternalError:
		return KindInternalError, nil
	default:
		return "", fmt.Errorf("%w: go type %T", ErrUnknownKind, body)
	}
}

func decodeBody(dec *msgpack.Decoder, kind string) (interface{}, error) {
	switch kind {
	case KindGetDesignation:
		var b GetDesignation
		return b, dec.Decode(&b)
	case KindReturnDesignation:
		var b ReturnDesignation
		return b, dec.Decode(&b)
	case KindGetChunkStates:
		var b GetChunkStates
		return b, dec.Decode(&b)
	case KindReturnChunkStates:
		var b ReturnChunkStates
		return b, dec.Decode(&b)
	case KindPostChunks:
		var b PostChunks
		return b, dec.Decode(&b)
	case KindAcknowledgeChunks:
		var b AcknowledgeChunks
		return b, dec.Decode(&b)
	case KindGetRootHandles:
		var b GetRootHandles
		return b, dec.Decode(&b)
	case KindReturnRootHandles:
		var b ReturnRootHandles
		return b, dec.Decode(&b)
	case KindGetChunks:
		var b GetChunks
		return b, dec.Decode(&b)
	case KindReturnChunks:
		var b ReturnChunks
		return b, dec.Decode(&b)
	case KindInvalidRequest:
		var b InvalidRequest
		return b, dec.Decode(&b)
	case KindInternalError:
		var b InternalError
		return b, dec.Decode(&b)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// ReadMessage reads exactly one Message from r, growing an internal buffer
// until a full record decodes. r is expected to deliver the bytes of a
// single encoded Message (one per connection round-trip, per the external
// interface contract) and nothing past it.
func ReadMessage(r io.Reader) (Message, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		msg, _, err := DecodeMessage(buf)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, ErrShortBuffer) {
			return Message{}, err
		}
		n, rerr := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			if rerr == io.EOF && len(buf) == 0 {
				return Message{}, io.EOF
			}
			return Message{}, fmt.Errorf("wire: read: %w", rerr)
		}
	}
}

// WriteMessage encodes msg and writes it whole to w.
func WriteMessage(w io.Writer, msg Message) error {
	b, err := Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
