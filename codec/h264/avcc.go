/*
NAME
  avcc.go

DESCRIPTION
  avcc.go provides parsing and building of the AVCDecoderConfigurationRecord
  carried in FLV AVC sequence header packets.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/


// Package h264 provides handling of H.264 stream packaging: the
// AVCDecoderConfigurationRecord, AVCC to Annex-B conversion, and NAL unit
// utilities used when muxing and demuxing FLV.
package h264

import (
	"github.com/pkg/errors"
)

// NAL unit type codes.
// See http://www.itu.int/rec/dologin_pub.asp?lang=e&id=T-REC-H.264-200305-S!!PDF-E&type=items
// Table 7-1 NAL unit type codes.
const (
	NALTypeNonIDR              = 1
	NALTypeIDR                 = 5
	NALTypeSEI                 = 6
	NALTypeSPS                 = 7
	NALTypePPS                 = 8
	NALTypeAccessUnitDelimiter = 9
)

var (
	ErrInvalidConfigRecord = errors.New("invalid AVC decoder configuration record")
	ErrNALULengthSize      = errors.New("NALU length size must be 1, 2 or 4")
	ErrNALUOverrun         = errors.New("NALU length field overruns payload")
)

// DecoderConfig holds the contents of an AVCDecoderConfigurationRecord:
// the stream's profile and level bytes, the NALU length field width used by
// AVCC payloads, and one SPS and one PPS.
type DecoderConfig struct {
	Profile       uint8
	ProfileCompat uint8
	Level         uint8

	// NALULengthSize is the byte width of the length field prefixing each
	// NALU in AVCC payloads. Valid values are 1, 2 and 4.
	NALULengthSize int

	SPS []byte
	PPS []byte

	record []byte // Cached serialisation.
}

// NewDecoderConfig returns a DecoderConfig built from raw SPS and PPS NAL
// units. The SPS must carry at least the profile, compatibility and level
// bytes following its NAL header.
func NewDecoderConfig(sps, pps []byte) (*DecoderConfig, error) {
	if len(sps) < 4 {
		return nil, errors.Wrap(ErrInvalidConfigRecord, "SPS too short")
	}
	if len(pps) == 0 {
		return nil, errors.Wrap(ErrInvalidConfigRecord, "empty PPS")
	}
	return &DecoderConfig{
		Profile:        sps[1],
		ProfileCompat:  sps[2],
		Level:          sps[3],
		NALULengthSize: 4,
		SPS:            sps,
		PPS:            pps,
	}, nil
}

// ParseDecoderConfig parses an AVCDecoderConfigurationRecord. Exactly one SPS
// and one PPS are required; trailing profile-specific extension bytes are
// ignored.
func ParseDecoderConfig(b []byte) (*DecoderConfig, error) {
	if len(b) < 8 {
		return nil, errors.Wrap(ErrInvalidConfigRecord, "record too short")
	}
	if b[0] != 0x01 {
		return nil, errors.Wrapf(ErrInvalidConfigRecord, "version %d", b[0])
	}

	c := &DecoderConfig{
		Profile:        b[1],
		ProfileCompat:  b[2],
		Level:          b[3],
		NALULengthSize: int(b[4]&0x03) + 1,
	}
	if c.NALULengthSize == 3 {
		return nil, ErrNALULengthSize
	}

	if n := b[5] & 0x1f; n != 1 {
		return nil, errors.Wrapf(ErrInvalidConfigRecord, "unsupported SPS count %d", n)
	}
	spsLen := int(b[6])<<8 | int(b[7])
	rest := b[8:]
	if len(rest) < spsLen {
		return nil, errors.Wrap(ErrInvalidConfigRecord, "SPS overruns record")
	}
	c.SPS = rest[:spsLen]
	rest = rest[spsLen:]

	if len(rest) < 3 {
		return nil, errors.Wrap(ErrInvalidConfigRecord, "record ends before PPS")
	}
	if rest[0] != 1 {
		return nil, errors.Wrapf(ErrInvalidConfigRecord, "unsupported PPS count %d", rest[0])
	}
	ppsLen := int(rest[1])<<8 | int(rest[2])
	rest = rest[3:]
	if len(rest) < ppsLen {
		return nil, errors.Wrap(ErrInvalidConfigRecord, "PPS overruns record")
	}
	c.PPS = rest[:ppsLen]

	c.record = append([]byte(nil), b...)
	return c, nil
}

// Bytes returns the serialised AVCDecoderConfigurationRecord for the config.
// The serialisation is cached across calls.
func (c *DecoderConfig) Bytes() []byte {
	if c.record != nil {
		return c.record
	}
	if len(c.SPS) < 4 || len(c.PPS) == 0 {
		return nil
	}

	size := c.NALULengthSize
	if size == 0 {
		size = 4
	}

	b := make([]byte, 0, 11+len(c.SPS)+len(c.PPS))
	b = append(b, 0x01, c.SPS[1], c.SPS[2], c.SPS[3], 0xfc|byte(size-1), 0xe1)
	b = append(b, byte(len(c.SPS)>>8), byte(len(c.SPS)))
	b = append(b, c.SPS...)
	b = append(b, 0x01, byte(len(c.PPS)>>8), byte(len(c.PPS)))
	b = append(b, c.PPS...)

	c.record = b
	return b
}
