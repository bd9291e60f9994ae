/*
NAME
  annexb.go

DESCRIPTION
  annexb.go provides conversion between AVCC length-prefixed NALU payloads
  and the Annex-B byte stream format, and a splitter for Annex-B streams.

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


package h264

import "github.com/pkg/errors"

var (
	startCode4 = []byte{0x00, 0x00, 0x00, 0x01}
	startCode3 = []byte{0x00, 0x00, 0x01}
)

var errEmptyNALU = errors.New("empty NAL unit")

// NALType returns the NAL unit type of a raw NAL unit.
func NALType(n []byte) (int, error) {
	if len(n) == 0 {
		return 0, errEmptyNALU
	}
	return int(n[0] & 0x1f), nil
}

// AppendAnnexB converts an AVCC payload, a sequence of NALUs each prefixed
// with a length field of cfg.NALULengthSize bytes, to Annex-B format appended
// to dst. Within key frames each IDR NALU is preceded by the config's SPS and
// PPS, each behind a 4-byte start code, and then a 3-byte start code; all
// other NALUs get a 4-byte start code.
func AppendAnnexB(dst []byte, cfg *DecoderConfig, payload []byte, keyframe bool) ([]byte, error) {
	size := cfg.NALULengthSize
	switch size {
	case 1, 2, 4:
	default:
		return dst, ErrNALULengthSize
	}

	for off := 0; off < len(payload); {
		if off+size > len(payload) {
			return dst, errors.Wrap(ErrNALUOverrun, "truncated length field")
		}
		var n int
		for i := 0; i < size; i++ {
			n = n<<8 | int(payload[off+i])
		}
		off += size
		if off+n > len(payload) {
			return dst, errors.Wrapf(ErrNALUOverrun, "length %d exceeds remaining %d", n, len(payload)-off)
		}
		nalu := payload[off : off+n]
		off += n
		if n == 0 {
			continue
		}

		if keyframe && nalu[0]&0x1f == NALTypeIDR {
			dst = append(dst, startCode4...)
			dst = append(dst, cfg.SPS...)
			dst = append(dst, startCode4...)
			dst = append(dst, cfg.PPS...)
			dst = append(dst, startCode3...)
		} else {
			dst = append(dst, startCode4...)
		}
		dst = append(dst, nalu...)
	}
	return dst, nil
}

// NALUs splits an Annex-B byte stream into its NAL units, dropping the start
// codes. Bytes before the first start code are discarded.
func NALUs(b []byte) [][]byte {
	var out [][]byte
	prev := -1
	for i := 0; i+3 <= len(b); {
		if b[i] != 0x00 || b[i+1] != 0x00 {
			i++
			continue
		}
		var n int
		switch {
		case b[i+2] == 0x01:
			n = 3
		case i+4 <= len(b) && b[i+2] == 0x00 && b[i+3] == 0x01:
			n = 4
		default:
			i++
			continue
		}
		if prev >= 0 {
			out = append(out, b[prev:i])
		}
		i += n
		prev = i
	}
	if prev >= 0 && prev < len(b) {
		out = append(out, b[prev:])
	}
	return out
}
