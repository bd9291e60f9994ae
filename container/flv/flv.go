/*
NAME
  flv.go

DESCRIPTION
  See Readme.md

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


// See https://wwwimages2.adobe.com/content/dam/acom/en/devnet/flv/video_file_format_spec_v10.pdf
// for format specification.

// Package flv provides FLV container encoding and decoding, between the FLV
// byte stream and raw H.264 and ADTS AAC elementary streams.
package flv

import "encoding/binary"

const (
	AudioTagType         = 8
	VideoTagType         = 9
	ScriptTagType        = 18
	KeyFrameType         = 1
	InterFrameType       = 2
	H264                 = 7
	SequenceHeader       = 0
	AVCNALU              = 1
	AVCEndOfSequence     = 2
	AACRaw               = 1
	VideoHeaderLength    = 5
	AudioHeaderLength    = 2
	NoTimestampExtension = 0
	AACAudioFormat       = 10
	PCMAudioFormat       = 0
)

const (
	sizeofFLVHeader    = 9
	sizeofFLVTagHeader = 11
	sizeofPrevTagSize  = 4
)

const version = 0x01

// FLV header flags. Note the non-contiguous placement: audio presence is
// bit 2 and video presence bit 0, per the specification.
const (
	flagVideo = 0x01
	flagAudio = 0x04
)

// FLV is big-endian.
var order = binary.BigEndian

// orderPutUint24 is a binary.BigEndian method look-alike for
// writing 24 bit words to a byte slice.
func orderPutUint24(b []byte, v uint32) {
	_ = b[2] // early bounds check to guarantee safety of writes below
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// orderUint24 reads a big-endian 24 bit word from a byte slice.
func orderUint24(b []byte) uint32 {
	_ = b[2] // early bounds check to guarantee safety of reads below
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// signExtend24 interprets v as a signed 24 bit quantity.
func signExtend24(v uint32) int32 {
	return int32(v<<8) >> 8
}

// Header represents the 9 byte FLV file header.
type Header struct {
	HasAudio bool
	HasVideo bool
}

// Bytes returns the encoded header followed by the initial zero
// previous-tag-size word.
func (h *Header) Bytes() []byte {
	b := make([]byte, sizeofFLVHeader+sizeofPrevTagSize)
	b[0], b[1], b[2] = 'F', 'L', 'V'
	b[3] = version
	if h.HasVideo {
		b[4] |= flagVideo
	}
	if h.HasAudio {
		b[4] |= flagAudio
	}
	order.PutUint32(b[5:9], sizeofFLVHeader)
	return b
}

// TagHeader holds the fields of an 11 byte FLV tag header. The timestamp is
// a signed millisecond clock assembled from the extended byte and the low
// 24 bits in wire order.
type TagHeader struct {
	Type      uint8
	Filtered  bool
	DataSize  uint32
	Timestamp int32
}

func parseTagHeader(b []byte) TagHeader {
	return TagHeader{
		Type:      b[0] & 0x1f,
		Filtered:  b[0]&0x20 != 0,
		DataSize:  orderUint24(b[1:4]),
		Timestamp: int32(uint32(b[7])<<24 | orderUint24(b[4:7])),
	}
}

type VideoTag struct {
	TagType           uint8
	DataSize          uint32
	Timestamp         uint32
	TimestampExtended uint8
	FrameType         uint8
	Codec             uint8
	PacketType        uint8
	CompositionTime   int32
	Data              []byte
	PrevTagSize       uint32
}

func (t *VideoTag) Bytes() []byte {
	// FIXME(kortschak): This should probably be an encoding.BinaryMarshaler.
	// This will allow handling of invalid field values.

	b := make([]byte, t.DataSize+sizeofFLVTagHeader+sizeofPrevTagSize)

	b[0] = t.TagType
	orderPutUint24(b[1:4], t.DataSize)
	orderPutUint24(b[4:7], t.Timestamp)
	b[7] = t.TimestampExtended
	b[11] = t.FrameType<<4 | t.Codec
	b[12] = t.PacketType
	orderPutUint24(b[13:16], uint32(t.CompositionTime)&0xffffff)
	copy(b[16:], t.Data)
	order.PutUint32(b[len(b)-4:], t.PrevTagSize)

	return b
}

type AudioTag struct {
	TagType           uint8
	DataSize          uint32
	Timestamp         uint32
	TimestampExtended uint8
	SoundFormat       uint8
	SoundRate         uint8
	SoundSize         bool
	SoundType         bool
	PacketType        uint8
	Data              []byte
	PrevTagSize       uint32
}

func (t *AudioTag) Bytes() []byte {
	// FIXME(kortschak): This should probably be an encoding.BinaryMarshaler.
	// This will allow handling of invalid field values.

	b := make([]byte, t.DataSize+sizeofFLVTagHeader+sizeofPrevTagSize)

	b[0] = t.TagType
	orderPutUint24(b[1:4], t.DataSize)
	orderPutUint24(b[4:7], t.Timestamp)
	b[7] = t.TimestampExtended
	b[11] = t.SoundFormat<<4 | t.SoundRate<<2 | btb(t.SoundSize)<<1 | btb(t.SoundType)
	b[12] = t.PacketType
	copy(b[13:], t.Data)
	order.PutUint32(b[len(b)-4:], t.PrevTagSize)

	return b
}

func btb(b bool) byte {
	if b {
		return 1
	}
	return 0
}
