/*
NAME
  aac_test.go

DESCRIPTION
  aac_test.go provides testing for the AudioSpecificConfig codec and ADTS
  header handling.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/


package aac

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestParseConfig checks decoding of AudioSpecificConfig byte strings.
func TestParseConfig(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want Config
	}{
		{
			name: "LC 44.1kHz stereo",
			in:   []byte{0x12, 0x10},
			want: Config{ObjectType: 2, SampleRate: 44100, Channels: 2},
		},
		{
			name: "LC 48kHz stereo",
			in:   []byte{0x11, 0x90},
			want: Config{ObjectType: 2, SampleRate: 48000, Channels: 2},
		},
		{
			name: "channel configuration 7 is 8 channels",
			in:   []byte{0x12, 0x38},
			want: Config{ObjectType: 2, SampleRate: 44100, Channels: 8},
		},
		{
			name: "extended object type",
			in:   []byte{0xf8, 0x48, 0x40},
			want: Config{ObjectType: 34, SampleRate: 44100, Channels: 2},
		},
	}
	for _, test := range tests {
		got, err := ParseConfig(test.in)
		if err != nil {
			t.Errorf("%s: ParseConfig failed with error: %v", test.name, err)
			continue
		}
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("%s: config mismatch (-want +got):\n%s", test.name, diff)
		}
	}
}

// TestParseConfigShort checks short-input rejection on each layout path.
func TestParseConfigShort(t *testing.T) {
	tests := [][]byte{
		nil,
		{0x12},             // Baseline path needs 2 bytes.
		{0xf8, 0x48},       // Extended object type needs 3.
		{0x17, 0x80, 0x00}, // Escape-coded frequency needs 5.
	}
	for i, b := range tests {
		_, err := ParseConfig(b)
		if !errors.Is(err, ErrInvalidAudioConfig) {
			t.Errorf("test %d: got %v, want ErrInvalidAudioConfig", i, err)
		}
	}
}

// TestConfigRoundTrip checks ParseConfig(c.Bytes()) == c, including the
// explicit-rate escape.
func TestConfigRoundTrip(t *testing.T) {
	tests := []Config{
		{ObjectType: 2, SampleRate: 44100, Channels: 2},
		{ObjectType: 2, SampleRate: 8000, Channels: 1},
		{ObjectType: 5, SampleRate: 22050, Channels: 2},
		{ObjectType: 2, SampleRate: 12345, Channels: 2}, // Not in the table; escape index.
		{ObjectType: 2, SampleRate: 44100, Channels: 8},
	}
	for _, want := range tests {
		b, err := want.Bytes()
		if err != nil {
			t.Errorf("Bytes failed for %+v with error: %v", want, err)
			continue
		}
		got, err := ParseConfig(b)
		if err != nil {
			t.Errorf("ParseConfig failed for %+v with error: %v", want, err)
			continue
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

// TestConfigBytes checks encoding against known byte strings.
func TestConfigBytes(t *testing.T) {
	b, err := Config{ObjectType: 2, SampleRate: 44100, Channels: 2}.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed with error: %v", err)
	}
	if !bytes.Equal(b, []byte{0x12, 0x10}) {
		t.Errorf("wrong encoding; got %x, want 1210", b)
	}

	b, err = Config{ObjectType: 2, SampleRate: 44100, Channels: 8}.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed with error: %v", err)
	}
	if !bytes.Equal(b, []byte{0x12, 0x38}) {
		t.Errorf("8 channels should encode as configuration 7; got %x, want 1238", b)
	}
}

// TestADTSHeaderBytes checks the 7 byte header emitted for a raw AAC frame.
func TestADTSHeaderBytes(t *testing.T) {
	got := NewADTSHeader(48000, 2, 380).Bytes()
	want := []byte{0xff, 0xf1, 0x4c, 0x80, 0x30, 0x7f, 0xfc}
	if !bytes.Equal(got, want) {
		t.Errorf("header mismatch.\n Got: %x\n Want: %x\n", got, want)
	}
}

// TestADTSLengthField checks that the decoded 13-bit length is always the
// body size plus the header size.
func TestADTSLengthField(t *testing.T) {
	for _, bodyLen := range []int{0, 1, 380, 4096, (1 << 13) - 1 - ADTSHeaderLen} {
		b := NewADTSHeader(44100, 2, bodyLen).Bytes()
		h, err := ParseADTSHeader(b)
		if err != nil {
			t.Errorf("body %d: ParseADTSHeader failed with error: %v", bodyLen, err)
			continue
		}
		if h.FrameLength != bodyLen+ADTSHeaderLen {
			t.Errorf("body %d: frame length %d, want %d", bodyLen, h.FrameLength, bodyLen+ADTSHeaderLen)
		}
	}
}

// TestADTSHeaderRoundTrip checks field recovery, including the 8-channel
// mapping through configuration 7.
func TestADTSHeaderRoundTrip(t *testing.T) {
	for _, want := range []ADTSHeader{
		NewADTSHeader(48000, 2, 380),
		NewADTSHeader(44100, 1, 12),
		NewADTSHeader(8000, 6, 100),
		NewADTSHeader(44100, 8, 64),
	} {
		got, err := ParseADTSHeader(want.Bytes())
		if err != nil {
			t.Errorf("ParseADTSHeader failed for %+v with error: %v", want, err)
			continue
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

// TestParseADTSHeaderErrors checks rejection of malformed headers.
func TestParseADTSHeaderErrors(t *testing.T) {
	_, err := ParseADTSHeader([]byte{0xff, 0xf1, 0x4c})
	if !errors.Is(err, ErrInvalidADTSHeader) {
		t.Errorf("short header: got %v, want ErrInvalidADTSHeader", err)
	}

	_, err = ParseADTSHeader([]byte{0xfe, 0xf1, 0x4c, 0x80, 0x30, 0x7f, 0xfc})
	if !errors.Is(err, ErrInvalidADTSHeader) {
		t.Errorf("bad syncword: got %v, want ErrInvalidADTSHeader", err)
	}

	// Frame length smaller than the header itself.
	b := ADTSHeader{ProtectionAbsent: true, Profile: 1, SampleRate: 44100, Channels: 2, FrameLength: 3}.Bytes()
	_, err = ParseADTSHeader(b)
	if !errors.Is(err, ErrADTSFrameLength) {
		t.Errorf("tiny frame length: got %v, want ErrADTSFrameLength", err)
	}
}

// TestReadFrame checks walking an ADTS stream frame by frame.
func TestReadFrame(t *testing.T) {
	body0 := []byte{0x01, 0x02, 0x03, 0x04}
	body1 := []byte{0xaa, 0xbb}

	var stream []byte
	stream = append(stream, NewADTSHeader(44100, 2, len(body0)).Bytes()...)
	stream = append(stream, body0...)
	stream = append(stream, NewADTSHeader(44100, 2, len(body1)).Bytes()...)
	stream = append(stream, body1...)

	r := bytes.NewReader(stream)

	h, body, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("first ReadFrame failed with error: %v", err)
	}
	if h.SampleRate != 44100 || h.Channels != 2 || !bytes.Equal(body, body0) {
		t.Errorf("first frame mismatch; header %+v, body %x", h, body)
	}

	_, body, err = ReadFrame(r)
	if err != nil {
		t.Fatalf("second ReadFrame failed with error: %v", err)
	}
	if !bytes.Equal(body, body1) {
		t.Errorf("second frame mismatch; body %x", body)
	}

	_, _, err = ReadFrame(r)
	if err != io.EOF {
		t.Errorf("end of stream: got %v, want io.EOF", err)
	}
}
