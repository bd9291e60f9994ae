/*
NAME
  muxer.go

DESCRIPTION
  muxer.go provides a muxer that assembles an FLV file from an Annex-B H.264
  elementary stream and an ADTS AAC elementary stream.

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
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/ausocean/flv/codec/aac"
	"github.com/ausocean/flv/codec/h264"
	"github.com/ausocean/flv/container/flv/amf"
	"github.com/ausocean/utils/logging"
)

const (
	defaultRate     = 25   // FPS
	samplesPerFrame = 1024 // AAC samples per access unit.
	naluLengthSize  = 4    // Length field width used for written AVCC payloads.
)

var (
	ErrNoParameterSets = errors.New("flv: no SPS and PPS in video stream")
	ErrNoMedia         = errors.New("flv: nothing to mux")
)

// Muxer encapsulates the state required to generate an FLV file
// from raw video and audio data.
type Muxer struct {
	dst io.Writer
	fps int
	log logging.Logger
}

// NewMuxer returns a new FLV muxer.
func NewMuxer(dst io.Writer, log logging.Logger, options ...func(*Muxer) error) (*Muxer, error) {
	m := &Muxer{
		dst: dst,
		fps: defaultRate,
		log: log,
	}
	for _, option := range options {
		err := option(m)
		if err != nil {
			return nil, errors.Wrap(err, "option could not be applied")
		}
	}
	return m, nil
}

// FrameRate sets the video frame rate used to derive video tag timestamps.
func FrameRate(fps int) func(*Muxer) error {
	return func(m *Muxer) error {
		if fps <= 0 {
			return errors.Errorf("frame rate must be positive, got %d", fps)
		}
		m.fps = fps
		return nil
	}
}

// videoFrame is one access unit ready for a video tag: an AVCC payload of
// length-prefixed NALUs, and whether the unit contains an IDR picture.
type videoFrame struct {
	data []byte
	key  bool
}

// Mux assembles a complete FLV file from an Annex-B H.264 stream and an ADTS
// AAC stream, either of which may be empty, and writes it to the muxer's
// destination. Tags are interleaved in timestamp order following the
// sequence headers.
func (m *Muxer) Mux(video, audio []byte) error {
	avc, vframes, err := prepareVideo(video)
	if err != nil {
		return err
	}
	acfg, aframes, err := prepareAudio(audio)
	if err != nil {
		return err
	}
	if len(vframes) == 0 && len(aframes) == 0 {
		return ErrNoMedia
	}
	m.log.Debug("prepared media", "videoFrames", len(vframes), "audioFrames", len(aframes))

	hdr := Header{HasVideo: len(vframes) != 0, HasAudio: len(aframes) != 0}
	_, err = m.dst.Write(hdr.Bytes())
	if err != nil {
		return errors.Wrap(err, "could not write FLV header")
	}

	err = m.writeMetadata(avc, acfg)
	if err != nil {
		return err
	}

	if len(vframes) != 0 {
		err = m.writeVideoTag(0, KeyFrameType, SequenceHeader, avc.Bytes())
		if err != nil {
			return errors.Wrap(err, "could not write AVC sequence header")
		}
	}
	if len(aframes) != 0 {
		asc, err := acfg.Bytes()
		if err != nil {
			return errors.Wrap(err, "could not encode audio specific config")
		}
		err = m.writeAudioTag(0, SequenceHeader, asc)
		if err != nil {
			return errors.Wrap(err, "could not write AAC sequence header")
		}
	}

	// Interleave by timestamp, video first on ties.
	var vi, ai int
	for vi < len(vframes) || ai < len(aframes) {
		vts := int64(vi) * 1000 / int64(m.fps)
		ats := int64(ai) * samplesPerFrame * 1000 / int64(acfg.SampleRate)

		if vi < len(vframes) && (ai >= len(aframes) || vts <= ats) {
			frameType := uint8(InterFrameType)
			if vframes[vi].key {
				frameType = KeyFrameType
			}
			err = m.writeVideoTag(int32(vts), frameType, AVCNALU, vframes[vi].data)
			if err != nil {
				return errors.Wrap(err, "could not write video tag")
			}
			vi++
			continue
		}

		err = m.writeAudioTag(int32(ats), AACRaw, aframes[ai])
		if err != nil {
			return errors.Wrap(err, "could not write audio tag")
		}
		ai++
	}
	return nil
}

// prepareVideo splits an Annex-B stream into access units, converting each
// to a length-prefixed AVCC payload, and builds the decoder configuration
// from the first SPS and PPS encountered. Access unit delimiters are
// dropped; SEI and other non-VCL units are attached to the following
// picture.
func prepareVideo(video []byte) (*h264.DecoderConfig, []videoFrame, error) {
	if len(video) == 0 {
		return nil, nil, nil
	}

	var (
		sps, pps []byte
		frames   []videoFrame
		cur      videoFrame
	)
	for _, nalu := range h264.NALUs(video) {
		typ, err := h264.NALType(nalu)
		if err != nil {
			continue
		}
		switch typ {
		case h264.NALTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case h264.NALTypePPS:
			if pps == nil {
				pps = nalu
			}
		case h264.NALTypeAccessUnitDelimiter:
			// Dropped; FLV readers do not expect them.
		case h264.NALTypeIDR, h264.NALTypeNonIDR:
			cur.data = appendNALU(cur.data, nalu)
			cur.key = typ == h264.NALTypeIDR
			frames = append(frames, cur)
			cur = videoFrame{}
		default:
			cur.data = appendNALU(cur.data, nalu)
		}
	}

	if len(frames) == 0 {
		return nil, nil, errors.New("no picture NAL units in video stream")
	}
	if sps == nil || pps == nil {
		return nil, nil, ErrNoParameterSets
	}
	cfg, err := h264.NewDecoderConfig(sps, pps)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not build decoder config")
	}
	return cfg, frames, nil
}

// appendNALU appends a NALU behind a big-endian length field.
func appendNALU(dst, nalu []byte) []byte {
	var l [naluLengthSize]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(nalu)))
	dst = append(dst, l[:]...)
	return append(dst, nalu...)
}

// prepareAudio walks an ADTS stream collecting the raw access units and the
// stream parameters from the first frame header.
func prepareAudio(audio []byte) (aac.Config, [][]byte, error) {
	var (
		cfg    aac.Config
		frames [][]byte
	)
	// The sample rate divides audio timestamps; keep it sane for the
	// video-only case.
	cfg.SampleRate = 44100

	r := bytes.NewReader(audio)
	for {
		h, body, err := aac.ReadFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return aac.Config{}, nil, errors.Wrap(err, "could not read ADTS frame")
		}
		if frames == nil {
			cfg = aac.Config{
				ObjectType: int(h.Profile) + 1,
				SampleRate: h.SampleRate,
				Channels:   h.Channels,
			}
		}
		frames = append(frames, body)
	}
	return cfg, frames, nil
}

// writeMetadata writes the onMetaData script tag.
func (m *Muxer) writeMetadata(avc *h264.DecoderConfig, acfg aac.Config) error {
	var obj amf.Object
	if avc != nil {
		obj.Properties = append(obj.Properties,
			amf.Property{Type: amf.TypeNumber, Name: "videocodecid", Number: H264},
			amf.Property{Type: amf.TypeNumber, Name: "framerate", Number: float64(m.fps)},
		)
	}
	if acfg.Channels != 0 {
		stereo := float64(0)
		if acfg.Channels > 1 {
			stereo = 1
		}
		obj.Properties = append(obj.Properties,
			amf.Property{Type: amf.TypeNumber, Name: "audiocodecid", Number: AACAudioFormat},
			amf.Property{Type: amf.TypeNumber, Name: "audiosamplerate", Number: float64(acfg.SampleRate)},
			amf.Property{Type: amf.TypeBoolean, Name: "stereo", Number: stereo},
		)
	}

	var enc amf.Encoder
	err := enc.EncodeString("onMetaData")
	if err != nil {
		return errors.Wrap(err, "could not encode metadata name")
	}
	err = enc.EncodeEcmaArray(&obj)
	if err != nil {
		return errors.Wrap(err, "could not encode metadata values")
	}
	return m.writeTag(ScriptTagType, 0, enc.Bytes())
}

// writeTag writes a bare tag: the 11 byte header, the payload, and the
// trailing previous tag size.
func (m *Muxer) writeTag(typ uint8, ts int32, payload []byte) error {
	b := make([]byte, sizeofFLVTagHeader+len(payload)+sizeofPrevTagSize)
	b[0] = typ
	orderPutUint24(b[1:4], uint32(len(payload)))
	orderPutUint24(b[4:7], uint32(ts)&0xffffff)
	b[7] = byte(uint32(ts) >> 24)
	copy(b[sizeofFLVTagHeader:], payload)
	order.PutUint32(b[len(b)-4:], uint32(sizeofFLVTagHeader+len(payload)))
	_, err := m.dst.Write(b)
	return err
}

func (m *Muxer) writeVideoTag(ts int32, frameType, packetType uint8, data []byte) error {
	tag := VideoTag{
		TagType:           VideoTagType,
		DataSize:          uint32(len(data)) + VideoHeaderLength,
		Timestamp:         uint32(ts) & 0xffffff,
		TimestampExtended: uint8(uint32(ts) >> 24),
		FrameType:         frameType,
		Codec:             H264,
		PacketType:        packetType,
		CompositionTime:   0,
		Data:              data,
	}
	tag.PrevTagSize = sizeofFLVTagHeader + tag.DataSize
	_, err := m.dst.Write(tag.Bytes())
	return err
}

func (m *Muxer) writeAudioTag(ts int32, packetType uint8, data []byte) error {
	// The sound descriptor nibbles are fixed for AAC: 44 kHz, 16 bit,
	// stereo, whatever the stream parameters.
	tag := AudioTag{
		TagType:           AudioTagType,
		DataSize:          uint32(len(data)) + AudioHeaderLength,
		Timestamp:         uint32(ts) & 0xffffff,
		TimestampExtended: uint8(uint32(ts) >> 24),
		SoundFormat:       AACAudioFormat,
		SoundRate:         3,
		SoundSize:         true,
		SoundType:         true,
		PacketType:        packetType,
		Data:              data,
	}
	tag.PrevTagSize = sizeofFLVTagHeader + tag.DataSize
	_, err := m.dst.Write(tag.Bytes())
	return err
}
