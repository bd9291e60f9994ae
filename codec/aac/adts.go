/*
NAME
  adts.go

DESCRIPTION
  adts.go provides building and parsing of ADTS frame headers, and a reader
  for walking the frames of an ADTS stream.

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
	"io"

	"github.com/icza/bitio"
	"github.com/pkg/errors"
)

// ADTSHeaderLen is the length of an ADTS header without the optional CRC.
const ADTSHeaderLen = 7

// adtsVBRFullness is the buffer fullness value signalling variable bit rate.
const adtsVBRFullness = 0x7ff

var (
	ErrInvalidADTSHeader = errors.New("invalid ADTS header")
	ErrADTSFrameLength   = errors.New("ADTS frame length smaller than header")
)

// ADTSHeader holds the fields of the 7-byte header prefixed to each AAC
// access unit in an ADTS stream. The layer field is always 0 and the number
// of raw data blocks per frame is always 1.
type ADTSHeader struct {
	MPEG2            bool  // false for MPEG-4 streams.
	ProtectionAbsent bool  // true when no CRC follows the header.
	Profile          uint8 // Object type minus one; AAC-LC is 1.
	SampleRate       int
	Channels         int
	FrameLength      int // Full frame length, header included.
	BufferFullness   uint16
}

// NewADTSHeader returns a header describing a raw AAC access unit of bodyLen
// bytes at the given sample rate and channel count, with AAC-LC profile and
// VBR buffer fullness.
func NewADTSHeader(rate, channels, bodyLen int) ADTSHeader {
	return ADTSHeader{
		ProtectionAbsent: true,
		Profile:          1,
		SampleRate:       rate,
		Channels:         channels,
		FrameLength:      ADTSHeaderLen + bodyLen,
		BufferFullness:   adtsVBRFullness,
	}
}

// Bytes returns the 7 header bytes in wire order. Channel counts 1 through 6
// are written directly and 8 channels as configuration 7 per the MPEG-4
// channel configuration table. A sample rate outside the frequency table is
// written as the escape index 15.
func (h ADTSHeader) Bytes() []byte {
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)

	ch := h.Channels
	if ch == 8 {
		ch = 7
	}

	w.TryWriteBits(0xfff, 12) // Syncword.
	w.TryWriteBool(h.MPEG2)
	w.TryWriteBits(0, 2) // Layer.
	w.TryWriteBool(h.ProtectionAbsent)
	w.TryWriteBits(uint64(h.Profile), 2)
	w.TryWriteBits(uint64(rateIndex(h.SampleRate)), 4)
	w.TryWriteBits(0, 1) // Private bit.
	w.TryWriteBits(uint64(ch), 3)
	w.TryWriteBits(0, 1) // Original/copy.
	w.TryWriteBits(0, 1) // Home.
	w.TryWriteBits(0, 1) // Copyright identification bit.
	w.TryWriteBits(0, 1) // Copyright identification start.
	w.TryWriteBits(uint64(h.FrameLength), 13)
	w.TryWriteBits(uint64(h.BufferFullness), 11)
	w.TryWriteBits(0, 2) // Raw data blocks in frame minus one.

	w.Close()
	return buf.Bytes()
}

// ParseADTSHeader parses the leading 7 bytes of an ADTS frame. The sampling
// frequency index must address a rate in the frequency table, and channel
// configuration 7 is reported as 8 channels.
func ParseADTSHeader(b []byte) (ADTSHeader, error) {
	if len(b) < ADTSHeaderLen {
		return ADTSHeader{}, errors.Wrap(ErrInvalidADTSHeader, "header too short")
	}

	r := bitio.NewReader(bytes.NewReader(b))
	if r.TryReadBits(12) != 0xfff {
		return ADTSHeader{}, errors.Wrap(ErrInvalidADTSHeader, "bad syncword")
	}

	var h ADTSHeader
	h.MPEG2 = r.TryReadBool()
	if r.TryReadBits(2) != 0 {
		return ADTSHeader{}, errors.Wrap(ErrInvalidADTSHeader, "non-zero layer")
	}
	h.ProtectionAbsent = r.TryReadBool()
	h.Profile = uint8(r.TryReadBits(2))

	idx := r.TryReadBits(4)
	if idx >= 13 {
		return ADTSHeader{}, errors.Wrapf(ErrInvalidADTSHeader, "sampling frequency index %d", idx)
	}
	h.SampleRate = sampleRates[idx]

	r.TryReadBits(1) // Private bit.
	h.Channels = int(r.TryReadBits(3))
	if h.Channels == 7 {
		h.Channels = 8
	}
	r.TryReadBits(4) // Original/copy, home, copyright bits.

	h.FrameLength = int(r.TryReadBits(13))
	h.BufferFullness = uint16(r.TryReadBits(11))
	r.TryReadBits(2) // Raw data blocks in frame minus one.

	if r.TryError != nil {
		return ADTSHeader{}, errors.Wrap(ErrInvalidADTSHeader, "header too short")
	}
	if h.FrameLength < ADTSHeaderLen {
		return ADTSHeader{}, ErrADTSFrameLength
	}
	return h, nil
}

// ReadFrame reads the next ADTS frame from r, returning the parsed header
// and the raw AAC access unit. A CRC, when present, is consumed and
// discarded. io.EOF is returned at a clean end of stream.
func ReadFrame(r io.Reader) (ADTSHeader, []byte, error) {
	var hb [ADTSHeaderLen]byte
	_, err := io.ReadFull(r, hb[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ADTSHeader{}, nil, io.EOF
		}
		return ADTSHeader{}, nil, errors.Wrap(err, "could not read ADTS header")
	}

	h, err := ParseADTSHeader(hb[:])
	if err != nil {
		return ADTSHeader{}, nil, err
	}

	bodyLen := h.FrameLength - ADTSHeaderLen
	if !h.ProtectionAbsent {
		const crcLen = 2
		if bodyLen < crcLen {
			return ADTSHeader{}, nil, ErrADTSFrameLength
		}
		_, err = io.CopyN(io.Discard, r, crcLen)
		if err != nil {
			return ADTSHeader{}, nil, errors.Wrap(err, "could not skip CRC")
		}
		bodyLen -= crcLen
	}

	body := make([]byte, bodyLen)
	_, err = io.ReadFull(r, body)
	if err != nil {
		return ADTSHeader{}, nil, errors.Wrapf(err, "could not read frame body of %d bytes", bodyLen)
	}
	return h, body, nil
}
