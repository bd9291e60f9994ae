/*
NAME
  asc.go

DESCRIPTION
  asc.go provides decoding and encoding of the MPEG-4 AudioSpecificConfig
  carried in FLV AAC sequence header packets.

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


// Package aac provides handling of AAC stream packaging: the MPEG-4
// AudioSpecificConfig and the ADTS framing used for raw AAC streams.
package aac

import (
	"bytes"

	"github.com/icza/bitio"
	"github.com/pkg/errors"
)

// Audio object types we commonly see in FLV.
const (
	ObjectTypeMain = 1
	ObjectTypeLC   = 2
	ObjectTypeSSR  = 3
	ObjectTypeSBR  = 5
)

// Sampling frequencies addressable by the 4-bit frequency index. Indices 13
// and 14 are reserved; index 15 escapes to an explicit 24-bit rate.
var sampleRates = [15]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000,
	22050, 16000, 12000, 11025, 8000, 7350, 0, 0,
}

var ErrInvalidAudioConfig = errors.New("invalid audio specific config")

// Config holds the decoded fields of an MPEG-4 AudioSpecificConfig.
type Config struct {
	ObjectType int
	SampleRate int // Hz
	Channels   int
}

// ParseConfig decodes an AudioSpecificConfig. The layout, MSB first, is
// 5 bits of object type (31 escaping to a 6-bit extension), 4 bits of
// frequency index (15 escaping to an explicit 24-bit rate), and 4 bits of
// channel configuration. Channel configuration 7 denotes 8 channels.
func ParseConfig(b []byte) (Config, error) {
	br := bitio.NewReader(bytes.NewReader(b))

	aot, err := br.ReadBits(5)
	if err != nil {
		return Config{}, errors.Wrap(ErrInvalidAudioConfig, "short read for object type")
	}
	if aot == 31 {
		ext, err := br.ReadBits(6)
		if err != nil {
			return Config{}, errors.Wrap(ErrInvalidAudioConfig, "short read for extended object type")
		}
		aot = 32 + ext
	}

	idx, err := br.ReadBits(4)
	if err != nil {
		return Config{}, errors.Wrap(ErrInvalidAudioConfig, "short read for frequency index")
	}
	var rate int
	if idx == 15 {
		r, err := br.ReadBits(24)
		if err != nil {
			return Config{}, errors.Wrap(ErrInvalidAudioConfig, "short read for explicit sample rate")
		}
		rate = int(r)
	} else {
		rate = sampleRates[idx]
	}

	ch, err := br.ReadBits(4)
	if err != nil {
		return Config{}, errors.Wrap(ErrInvalidAudioConfig, "short read for channel configuration")
	}
	if ch == 7 {
		ch = 8
	}

	return Config{ObjectType: int(aot), SampleRate: rate, Channels: int(ch)}, nil
}

// Bytes encodes the config. Rates found in the frequency table use the 4-bit
// index; others are written as an explicit 24-bit rate behind the escape
// index. 8 channels encode as channel configuration 7.
func (c Config) Bytes() ([]byte, error) {
	aot := c.ObjectType
	if aot <= 0 || aot >= 31 {
		return nil, errors.Wrapf(ErrInvalidAudioConfig, "cannot encode object type %d", aot)
	}
	ch := c.Channels
	if ch == 8 {
		ch = 7
	}
	if ch < 0 || ch > 7 {
		return nil, errors.Wrapf(ErrInvalidAudioConfig, "cannot encode %d channels", c.Channels)
	}

	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	idx := rateIndex(c.SampleRate)
	w.TryWriteBits(uint64(aot), 5)
	w.TryWriteBits(uint64(idx), 4)
	if idx == 15 {
		w.TryWriteBits(uint64(c.SampleRate), 24)
	}
	w.TryWriteBits(uint64(ch), 4)
	if w.TryError != nil {
		return nil, w.TryError
	}
	err := w.Close()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// rateIndex returns the index of rate in the ADTS sampling frequency table,
// or 15 if the rate is not an addressable one.
func rateIndex(rate int) uint8 {
	for i, r := range sampleRates[:13] {
		if r == rate {
			return uint8(i)
		}
	}
	return 15
}
