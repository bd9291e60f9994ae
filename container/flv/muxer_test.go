/*
NAME
  muxer_test.go

DESCRIPTION
  muxer_test.go provides testing for the elementary stream to FLV muxer.

AUTHOR
  Dan Kortschak <dan@ausocean.org>
  Saxon Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package flv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ausocean/flv/codec/aac"
	"github.com/ausocean/utils/logging"
)

// testAnnexB returns a small Annex-B stream laid out the way the demuxer
// emits one: parameter sets behind 4-byte start codes, a 3-byte start code
// before the IDR, and a 4-byte start code before the following picture.
func testAnnexB() []byte {
	var b []byte
	b = append(b, 0x00, 0x00, 0x00, 0x01)
	b = append(b, testSPS...)
	b = append(b, 0x00, 0x00, 0x00, 0x01)
	b = append(b, testPPS...)
	b = append(b, 0x00, 0x00, 0x01)
	b = append(b, testIDR...)
	b = append(b, 0x00, 0x00, 0x00, 0x01)
	b = append(b, testNonIDR...)
	return b
}

// testADTS returns a two frame ADTS stream at 44.1 kHz stereo.
func testADTS() []byte {
	var b []byte
	b = append(b, aac.NewADTSHeader(44100, 2, len(testAAC)).Bytes()...)
	b = append(b, testAAC...)
	b = append(b, aac.NewADTSHeader(44100, 2, 2).Bytes()...)
	b = append(b, 0x0b, 0x0c)
	return b
}

// TestMuxDemuxRoundTrip muxes elementary streams to FLV and demuxes the
// result, expecting the original streams back.
func TestMuxDemuxRoundTrip(t *testing.T) {
	video := testAnnexB()
	audio := testADTS()

	var out bytes.Buffer
	m, err := NewMuxer(&out, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("NewMuxer failed with error: %v", err)
	}
	err = m.Mux(video, audio)
	if err != nil {
		t.Fatalf("Mux failed with error: %v", err)
	}

	var gotVideo, gotAudio bytes.Buffer
	d, err := NewDemuxer((*logging.TestLogger)(t), VideoOut(&gotVideo), AudioOut(&gotAudio))
	if err != nil {
		t.Fatalf("NewDemuxer failed with error: %v", err)
	}
	err = d.Demux(out.Bytes())
	if err != nil {
		t.Fatalf("Demux failed with error: %v", err)
	}

	if !bytes.Equal(gotVideo.Bytes(), video) {
		t.Errorf("video round trip mismatch.\n Got: %x\n Want: %x\n", gotVideo.Bytes(), video)
	}
	if !bytes.Equal(gotAudio.Bytes(), audio) {
		t.Errorf("audio round trip mismatch.\n Got: %x\n Want: %x\n", gotAudio.Bytes(), audio)
	}
}

// TestMuxBackpointers checks the previous-tag-size discipline across a muxed
// file by walking it with the tag headers alone.
func TestMuxBackpointers(t *testing.T) {
	var out bytes.Buffer
	m, err := NewMuxer(&out, (*logging.TestLogger)(t), FrameRate(30))
	if err != nil {
		t.Fatalf("NewMuxer failed with error: %v", err)
	}
	err = m.Mux(testAnnexB(), testADTS())
	if err != nil {
		t.Fatalf("Mux failed with error: %v", err)
	}

	b := out.Bytes()
	if !bytes.Equal(b[:13], (&Header{HasAudio: true, HasVideo: true}).Bytes()) {
		t.Fatalf("wrong file header; got %x", b[:13])
	}

	tags := 0
	for cur := 13; cur < len(b); tags++ {
		if len(b)-cur < sizeofFLVTagHeader+sizeofPrevTagSize {
			t.Fatalf("trailing garbage of %d bytes after tag %d", len(b)-cur, tags)
		}
		h := parseTagHeader(b[cur:])
		end := cur + sizeofFLVTagHeader + int(h.DataSize)
		if end+sizeofPrevTagSize > len(b) {
			t.Fatalf("tag %d overruns file", tags)
		}
		if ptr := order.Uint32(b[end:]); ptr != sizeofFLVTagHeader+h.DataSize {
			t.Errorf("tag %d: back-pointer %d, want %d", tags, ptr, sizeofFLVTagHeader+h.DataSize)
		}
		cur = end + sizeofPrevTagSize
	}
	// Script tag, two sequence headers, two video frames, two audio frames.
	if tags != 7 {
		t.Errorf("got %d tags, want 7", tags)
	}
}

// TestMuxVideoOnly checks muxing with no audio stream.
func TestMuxVideoOnly(t *testing.T) {
	var out bytes.Buffer
	m, err := NewMuxer(&out, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("NewMuxer failed with error: %v", err)
	}
	err = m.Mux(testAnnexB(), nil)
	if err != nil {
		t.Fatalf("Mux failed with error: %v", err)
	}

	if got := out.Bytes()[4]; got != 0x01 {
		t.Errorf("header flags %#x, want video only (0x01)", got)
	}

	var video, audio bytes.Buffer
	d, err := NewDemuxer((*logging.TestLogger)(t), VideoOut(&video), AudioOut(&audio))
	if err != nil {
		t.Fatalf("NewDemuxer failed with error: %v", err)
	}
	err = d.Demux(out.Bytes())
	if err != nil {
		t.Fatalf("Demux failed with error: %v", err)
	}
	if !bytes.Equal(video.Bytes(), testAnnexB()) {
		t.Errorf("video mismatch.\n Got: %x\n Want: %x\n", video.Bytes(), testAnnexB())
	}
	if audio.Len() != 0 {
		t.Errorf("unexpected audio output of %d bytes", audio.Len())
	}
}

// TestMuxErrors checks input validation.
func TestMuxErrors(t *testing.T) {
	m, err := NewMuxer(&bytes.Buffer{}, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("NewMuxer failed with error: %v", err)
	}

	err = m.Mux(nil, nil)
	if !errors.Is(err, ErrNoMedia) {
		t.Errorf("empty input: got %v, want ErrNoMedia", err)
	}

	// Pictures without parameter sets cannot be described by a sequence
	// header.
	var noPS []byte
	noPS = append(noPS, 0x00, 0x00, 0x00, 0x01)
	noPS = append(noPS, testIDR...)
	err = m.Mux(noPS, nil)
	if !errors.Is(err, ErrNoParameterSets) {
		t.Errorf("missing parameter sets: got %v, want ErrNoParameterSets", err)
	}

	_, err = NewMuxer(&bytes.Buffer{}, (*logging.TestLogger)(t), FrameRate(0))
	if err == nil {
		t.Error("FrameRate(0) should not be accepted")
	}
}
