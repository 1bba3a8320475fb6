package frame

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type frameTestCase struct {
	dir   Direction
	bytes []byte
	frame Frame
}

var frameTestCases = []frameTestCase{
	{
		dir: ClientToServer,
		bytes: []byte{
			0x81, 0x85, 0x37, 0xFA, 0x21, 0x3D, 0x7F, 0x9F, 0x4D, 0x51, 0x58,
		},
		frame: Frame{
			Fin:           true,
			Opcode:        OpcodeText,
			Masked:        true,
			PayloadLength: 5,
			MaskingKey:    [4]byte{0x37, 0xFA, 0x21, 0x3D},
			Payload:       []byte("Hello"),
		},
	},
	{
		dir: ServerToClient,
		bytes: []byte{
			0x81, 0x05, 0x57, 0x6F, 0x72, 0x6C, 0x64,
		},
		frame: Frame{
			Fin:           true,
			Opcode:        OpcodeText,
			PayloadLength: 5,
			Payload:       []byte("World"),
		},
	},
	{
		dir: ServerToClient,
		bytes: []byte{
			0x89, 0x03, 'a', 'b', 'c',
		},
		frame: Frame{
			Fin:           true,
			Opcode:        OpcodePing,
			PayloadLength: 3,
			Payload:       []byte("abc"),
		},
	},
}

func decodeOne(t *testing.T, dir Direction, b []byte) *Frame {
	t.Helper()

	d := NewDecoder(dir, 0)
	d.Write(b)
	f, err := d.Next()
	if err != nil {
		t.Fatalf("Next() returned unexpected error %q", err)
	}
	if f == nil {
		t.Fatalf("Next() returned no frame for %d bytes", len(b))
	}
	return f
}

func TestFrameReadWrite(t *testing.T) {
	for _, tc := range frameTestCases {
		d := NewDecoder(tc.dir, 0)

		var got []*Frame
		for f, err := range d.Feed(bytes.Clone(tc.bytes)) {
			if err != nil {
				t.Fatalf("Feed(%v) returned unexpected error %q", tc.bytes, err)
			}
			got = append(got, f)
		}
		if len(got) != 1 {
			t.Fatalf("Feed(%v) yielded %d frames, expected 1", tc.bytes, len(got))
		}
		if diff := cmp.Diff(tc.frame, *got[0]); diff != "" {
			t.Errorf("Feed(%v) frame mismatch (-want +got):\n%s", tc.bytes, diff)
		}

		encoded := AppendFrame(nil, got[0])
		if !bytes.Equal(encoded, tc.bytes) {
			t.Errorf("AppendFrame(%+v) => %v, expected %v", got[0], encoded, tc.bytes)
		}
	}
}

func TestFrameReadSequential(t *testing.T) {
	var sequence []byte
	var want []Frame
	for _, tc := range frameTestCases {
		if tc.dir != ServerToClient {
			continue
		}
		sequence = append(sequence, tc.bytes...)
		want = append(want, tc.frame)
	}

	d := NewDecoder(ServerToClient, 0)
	var got []Frame
	for f, err := range d.Feed(sequence) {
		if err != nil {
			t.Fatalf("Feed returned unexpected error %q", err)
		}
		got = append(got, *f)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sequential frames mismatch (-want +got):\n%s", diff)
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered() = %d after complete frames, expected 0", d.Buffered())
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 125, 126, math.MaxUint16, math.MaxUint16 + 1}
	headerLengths := map[int]int{
		0:                  6,
		1:                  6,
		125:                6,
		126:                8,
		math.MaxUint16:     8,
		math.MaxUint16 + 1: 14,
	}

	for _, op := range []Opcode{OpcodeText, OpcodeBinary} {
		for _, n := range lengths {
			payload := bytes.Repeat([]byte{'x'}, n)

			encoded, err := Encode(op, payload)
			if err != nil {
				t.Fatalf("Encode(%v, %d bytes) returned unexpected error %q", op, n, err)
			}
			if got := len(encoded) - n; got != headerLengths[n] {
				t.Errorf("Encode(%v, %d bytes) header is %d bytes, expected %d", op, n, got, headerLengths[n])
			}
			if encoded[1]&0x80 == 0 {
				t.Errorf("Encode(%v, %d bytes) did not set MASK bit", op, n)
			}

			f := decodeOne(t, ClientToServer, encoded)
			if f.Opcode != op || !f.Fin || f.PayloadLength != uint64(n) {
				t.Errorf("decode(Encode(%v, %d bytes)) = {%v fin=%v len=%d}", op, n, f.Opcode, f.Fin, f.PayloadLength)
			}
			if !bytes.Equal(f.Payload, payload) {
				t.Errorf("decode(Encode(%v, %d bytes)) payload differs", op, n)
			}
		}
	}
}

func TestEncodeDoesNotMutatePayload(t *testing.T) {
	payload := []byte("do not touch")
	original := bytes.Clone(payload)

	if _, err := Encode(OpcodeText, payload); err != nil {
		t.Fatalf("Encode returned unexpected error %q", err)
	}
	if !bytes.Equal(payload, original) {
		t.Errorf("Encode mutated payload to %q", payload)
	}
}

func TestEncodeMaskingKeyChanges(t *testing.T) {
	payload := []byte("same payload every time")

	a, err := Encode(OpcodeText, payload)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(OpcodeText, payload)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(a[2:6], b[2:6]) {
		// two equal 32 bit random keys in a row is not a realistic outcome
		t.Errorf("two encodings used the same masking key %X", a[2:6])
	}

	for _, encoded := range [][]byte{a, b} {
		f := decodeOne(t, ClientToServer, encoded)
		if !bytes.Equal(f.Payload, payload) {
			t.Errorf("decoded payload %q, expected %q", f.Payload, payload)
		}
	}
}

func TestEncodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		op      Opcode
		payload []byte
	}{
		{"control too long", OpcodePing, bytes.Repeat([]byte{1}, 126)},
		{"close too long", OpcodeClose, bytes.Repeat([]byte{1}, 200)},
		{"reserved opcode", Opcode(3), nil},
		{"reserved control opcode", Opcode(0xB), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.op, tt.payload)
			if !errors.Is(err, ErrProtocolViolation) {
				t.Errorf("Encode(%v, %d bytes) error = %v, expected %v", tt.op, len(tt.payload), err, ErrProtocolViolation)
			}
		})
	}

	if _, err := Encode(OpcodePong, bytes.Repeat([]byte{1}, 125)); err != nil {
		t.Errorf("Encode(pong, 125 bytes) returned unexpected error %q", err)
	}
}

func TestClosePayload(t *testing.T) {
	p := ClosePayload(CloseGoingAway, "bye")
	if diff := cmp.Diff([]byte{0x03, 0xE9, 'b', 'y', 'e'}, p); diff != "" {
		t.Errorf("ClosePayload mismatch (-want +got):\n%s", diff)
	}

	code, reason, err := ParseClosePayload(p)
	if err != nil || code != CloseGoingAway || reason != "bye" {
		t.Errorf("ParseClosePayload(%v) = %d, %q, %v", p, code, reason, err)
	}

	long := ClosePayload(CloseNormalClosure, strings.Repeat("é", 100))
	if len(long) > 125 {
		t.Errorf("ClosePayload with long reason is %d bytes, expected at most 125", len(long))
	}
	if _, _, err := ParseClosePayload(long); err != nil {
		t.Errorf("truncated reason is not valid: %v", err)
	}

	if p := ClosePayload(CloseNoStatusReceived, "ignored"); p != nil {
		t.Errorf("ClosePayload(1005) = %v, expected nil", p)
	}
}

func TestParseClosePayload(t *testing.T) {
	tests := []struct {
		name        string
		payload     []byte
		code        CloseCode
		reason      string
		wantErr     bool
		invalidUTF8 bool
	}{
		{"empty", nil, CloseNoStatusReceived, "", false, false},
		{"code only", []byte{0x03, 0xE8}, CloseNormalClosure, "", false, false},
		{"private code", []byte{0x0F, 0xA0, 'o', 'k'}, CloseCode(4000), "ok", false, false},
		{"one byte", []byte{0x03}, 0, "", true, false},
		{"reserved code", []byte{0x03, 0xED}, 0, "", true, false},
		{"code below range", []byte{0x00, 0x10}, 0, "", true, false},
		{"bad utf8", []byte{0x03, 0xE8, 0xFF, 0xFE}, 0, "", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, reason, err := ParseClosePayload(tt.payload)
			if tt.wantErr {
				if !errors.Is(err, ErrProtocolViolation) {
					t.Errorf("ParseClosePayload(%v) error = %v, expected %v", tt.payload, err, ErrProtocolViolation)
				}
				if gotUTF8 := errors.Is(err, ErrInvalidUTF8); gotUTF8 != tt.invalidUTF8 {
					t.Errorf("ParseClosePayload(%v) error = %v, invalid UTF-8 reported %v, expected %v", tt.payload, err, gotUTF8, tt.invalidUTF8)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClosePayload(%v) returned unexpected error %q", tt.payload, err)
			}
			if code != tt.code || reason != tt.reason {
				t.Errorf("ParseClosePayload(%v) = %d, %q, expected %d, %q", tt.payload, code, reason, tt.code, tt.reason)
			}
		})
	}
}
