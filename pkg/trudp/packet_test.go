package trudp

import (
	"bytes"
	"testing"
	"time"
)

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name         string
		confidential bool
		data         []byte
	}{
		{"empty data, plaintext", false, nil},
		{"data, plaintext", false, []byte("hello trudp")},
		{"empty data, confidential", true, nil},
		{"data, confidential", true, []byte("hello confidential trudp")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Packet{
				Seq:          1234,
				Ack:          5678,
				Type:         PacketData,
				Window:       64,
				Timestamp:    time.UnixMicro(1_700_000_000_000_000),
				Confidential: tt.confidential,
				Data:         tt.data,
			}
			if tt.confidential {
				copy(p.IV[:], []byte("0123456789abcdef"))
			}

			raw := p.Encode()
			wantLen := HeaderSize + len(tt.data)
			if tt.confidential {
				wantLen += IVSize
			}
			if len(raw) != wantLen {
				t.Fatalf("Encode length = %d, want %d", len(raw), wantLen)
			}

			got, err := Decode(raw, tt.confidential)
			if err != nil {
				t.Fatalf("Decode returned error: %v", err)
			}
			if got.Seq != p.Seq || got.Ack != p.Ack || got.Type != p.Type || got.Window != p.Window {
				t.Fatalf("decoded header mismatch: got %+v, want %+v", got, p)
			}
			if !got.Timestamp.Equal(p.Timestamp) {
				t.Fatalf("decoded timestamp = %v, want %v", got.Timestamp, p.Timestamp)
			}
			if tt.confidential && got.IV != p.IV {
				t.Fatalf("decoded IV mismatch: got %x, want %x", got.IV, p.IV)
			}
			if !bytes.Equal(got.Data, tt.data) {
				t.Fatalf("decoded data = %q, want %q", got.Data, tt.data)
			}
		})
	}
}

func TestPacketDecodeTooShort(t *testing.T) {
	short := make([]byte, HeaderSize-1)
	if _, err := Decode(short, false); err != ErrPacketTooShort {
		t.Fatalf("Decode(plaintext short) error = %v, want ErrPacketTooShort", err)
	}

	shortConfidential := make([]byte, HeaderSize+IVSize-1)
	if _, err := Decode(shortConfidential, true); err != ErrPacketTooShort {
		t.Fatalf("Decode(confidential short) error = %v, want ErrPacketTooShort", err)
	}
}

func TestPacketDecodeChecksumMismatch(t *testing.T) {
	p := &Packet{Seq: 1, Type: PacketSYN, Timestamp: time.UnixMicro(1)}
	raw := p.Encode()
	raw[len(raw)-1] ^= 0xFF // corrupt a data-less packet's trailing header byte

	if _, err := Decode(raw, false); err != ErrChecksumMismatch {
		t.Fatalf("Decode(corrupted) error = %v, want ErrChecksumMismatch", err)
	}
}

func TestPacketTypeString(t *testing.T) {
	tests := []struct {
		pt   PacketType
		want string
	}{
		{PacketSYN, "SYN"},
		{PacketSYNACK, "SYN_ACK"},
		{PacketACK, "ACK"},
		{PacketData, "DATA"},
		{PacketFIN, "FIN"},
		{PacketFINACK, "FIN_ACK"},
		{PacketKeyExchange, "KEY_EXCHANGE"},
		{PacketKeyResponse, "KEY_RESPONSE"},
		{PacketType(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.pt.String(); got != tt.want {
			t.Errorf("PacketType(%d).String() = %q, want %q", tt.pt, got, tt.want)
		}
	}
}

func BenchmarkPacketEncode(b *testing.B) {
	p := &Packet{
		Seq: 1, Ack: 2, Type: PacketData, Window: 64,
		Timestamp: time.UnixMicro(1), Data: make([]byte, 1400),
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.Encode()
	}
}

func BenchmarkPacketDecode(b *testing.B) {
	p := &Packet{
		Seq: 1, Ack: 2, Type: PacketData, Window: 64,
		Timestamp: time.UnixMicro(1), Data: make([]byte, 1400),
	}
	raw := p.Encode()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(raw, false); err != nil {
			b.Fatal(err)
		}
	}
}
