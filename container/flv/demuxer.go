/*
NAME
  demuxer.go

DESCRIPTION
  demuxer.go provides a demuxer that walks the tags of an FLV file and
  delivers the contained H.264 and AAC elementary streams to sinks.

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


package flv

import (
	"io"

	"github.com/pkg/errors"

	"github.com/ausocean/flv/codec/aac"
	"github.com/ausocean/flv/codec/h264"
	"github.com/ausocean/flv/container/flv/amf"
	"github.com/ausocean/utils/logging"
)

// FLV errors:
var (
	ErrInvalidSignature        = errors.New("flv: invalid signature")
	ErrIncompleteTag           = errors.New("flv: incomplete tag")
	ErrInconsistentBackpointer = errors.New("flv: inconsistent previous tag size")
	ErrUnknownTagType          = errors.New("flv: unknown tag type")
	ErrUnsupportedCodec        = errors.New("flv: unsupported codec")
)

// Demuxer converts an FLV file into its elementary streams: Annex-B H.264
// NAL units to the video sink and ADTS framed AAC access units to the audio
// sink. Decoded script tag values go to the metadata sink, if any.
//
// The input buffer must outlive the demux; data passed to sinks is only
// valid for the duration of the call and must be copied if retained.
type Demuxer struct {
	video io.Writer
	audio io.Writer
	meta  func([]amf.Property)

	avc      *h264.DecoderConfig
	audioCfg aac.Config
	haveASC  bool

	// Streams are switched off individually on codec or config errors so
	// that the other stream can still be extracted.
	videoOff bool
	audioOff bool

	vbuf []byte // Scratch for Annex-B conversion.

	log logging.Logger
}

// NewDemuxer returns a new Demuxer. Sinks are attached with the VideoOut,
// AudioOut and MetadataSink options; streams without a sink are parsed and
// discarded.
func NewDemuxer(log logging.Logger, options ...func(*Demuxer) error) (*Demuxer, error) {
	d := &Demuxer{
		video: io.Discard,
		audio: io.Discard,
		log:   log,
	}
	for _, option := range options {
		err := option(d)
		if err != nil {
			return nil, errors.Wrap(err, "option could not be applied")
		}
	}
	return d, nil
}

// VideoOut sets the sink for the extracted Annex-B H.264 stream.
func VideoOut(w io.Writer) func(*Demuxer) error {
	return func(d *Demuxer) error {
		if w == nil {
			return errors.New("nil video writer")
		}
		d.video = w
		return nil
	}
}

// AudioOut sets the sink for the extracted ADTS AAC stream.
func AudioOut(w io.Writer) func(*Demuxer) error {
	return func(d *Demuxer) error {
		if w == nil {
			return errors.New("nil audio writer")
		}
		d.audio = w
		return nil
	}
}

// MetadataSink sets the callback invoked with the decoded values of each
// script data tag.
func MetadataSink(f func([]amf.Property)) func(*Demuxer) error {
	return func(d *Demuxer) error {
		if f == nil {
			return errors.New("nil metadata sink")
		}
		d.meta = f
		return nil
	}
}

// Demux walks src as a complete FLV file, dispatching each tag payload and
// checking the back-pointer discipline. Framing errors abort the scan; AMF
// errors discard the script tag only; codec configuration errors switch off
// the affected stream only. Sink write errors are wrapped and returned.
func (d *Demuxer) Demux(src []byte) error {
	if len(src) < sizeofFLVHeader+sizeofPrevTagSize {
		return errors.Wrap(ErrInvalidSignature, "input shorter than header")
	}
	if src[0] != 'F' || src[1] != 'L' || src[2] != 'V' {
		return ErrInvalidSignature
	}
	if src[3] != version {
		d.log.Warning("unexpected FLV version", "version", src[3])
	}
	d.log.Debug("FLV header",
		"hasVideo", src[4]&flagVideo != 0,
		"hasAudio", src[4]&flagAudio != 0,
	)

	cur := int(order.Uint32(src[5:9]))
	if cur < sizeofFLVHeader || cur+sizeofPrevTagSize > len(src) {
		return errors.Wrapf(ErrInvalidSignature, "header offset %d", cur)
	}
	if order.Uint32(src[cur:]) != 0 {
		return errors.Wrap(ErrInconsistentBackpointer, "initial previous tag size not zero")
	}
	cur += sizeofPrevTagSize

	for len(src)-cur >= sizeofFLVTagHeader {
		h := parseTagHeader(src[cur:])
		if h.Filtered {
			return errors.Wrap(ErrUnknownTagType, "filter bit set")
		}
		if len(src)-cur < sizeofFLVTagHeader+int(h.DataSize)+sizeofPrevTagSize {
			return errors.Wrapf(ErrIncompleteTag, "tag of %d bytes at offset %d", h.DataSize, cur)
		}
		payload := src[cur+sizeofFLVTagHeader : cur+sizeofFLVTagHeader+int(h.DataSize)]

		var err error
		switch h.Type {
		case ScriptTagType:
			d.script(payload)
		case VideoTagType:
			err = d.videoTag(payload)
		case AudioTagType:
			err = d.audioTag(payload)
		default:
			return errors.Wrapf(ErrUnknownTagType, "type %d at offset %d", h.Type, cur)
		}
		if err != nil {
			return err
		}

		ptr := order.Uint32(src[cur+sizeofFLVTagHeader+int(h.DataSize):])
		if ptr != sizeofFLVTagHeader+h.DataSize {
			return errors.Wrapf(ErrInconsistentBackpointer, "got %d, want %d", ptr, sizeofFLVTagHeader+h.DataSize)
		}
		cur += sizeofFLVTagHeader + int(h.DataSize) + sizeofPrevTagSize
	}

	if cur != len(src) {
		d.log.Warning("trailing bytes after final tag", "bytes", len(src)-cur)
	}
	return nil
}

// script decodes the AMF values of a script data tag. A malformed tag is
// discarded and scanning continues.
func (d *Demuxer) script(p []byte) {
	vals, err := amf.NewDecoder(p, 0).DecodeAll()
	if err != nil {
		d.log.Warning("discarding script tag", "error", err.Error())
		return
	}
	if d.meta != nil {
		d.meta(vals)
	}
}

func (d *Demuxer) videoTag(p []byte) error {
	if d.videoOff {
		return nil
	}
	if len(p) < VideoHeaderLength {
		d.log.Warning("video tag shorter than its header", "len", len(p))
		return nil
	}

	frameType := p[0] >> 4
	codec := p[0] & 0x0f
	if codec != H264 {
		d.videoOff = true
		d.log.Error("unsupported video codec, video switched off", "codec", codec)
		return nil
	}

	packetType := p[1]
	body := p[VideoHeaderLength:]
	switch packetType {
	case SequenceHeader:
		cfg, err := h264.ParseDecoderConfig(body)
		if err != nil {
			d.videoOff = true
			d.log.Error("bad AVC sequence header, video switched off", "error", err.Error())
			return nil
		}
		d.avc = cfg
		d.log.Debug("AVC configuration",
			"profile", cfg.Profile,
			"level", cfg.Level,
			"naluLengthSize", cfg.NALULengthSize,
		)
	case AVCNALU:
		if d.avc == nil {
			d.log.Warning("video data before sequence header, tag dropped")
			return nil
		}
		cts := signExtend24(orderUint24(p[2:5]))
		if cts != 0 {
			d.log.Debug("composition time offset", "cts", cts)
		}
		buf, err := h264.AppendAnnexB(d.vbuf[:0], d.avc, body, frameType == KeyFrameType)
		d.vbuf = buf
		if err != nil {
			d.log.Warning("malformed NALU payload, tag dropped", "error", err.Error())
			return nil
		}
		_, err = d.video.Write(buf)
		if err != nil {
			return errors.Wrap(err, "could not write video frame")
		}
	case AVCEndOfSequence:
		// The stream simply ends; nothing to flush.
	default:
		d.log.Warning("unknown AVC packet type, tag dropped", "type", packetType)
	}
	return nil
}

func (d *Demuxer) audioTag(p []byte) error {
	if d.audioOff {
		return nil
	}
	if len(p) < AudioHeaderLength {
		d.log.Warning("audio tag shorter than its header", "len", len(p))
		return nil
	}

	codec := p[0] >> 4
	if codec != AACAudioFormat {
		d.audioOff = true
		d.log.Error("unsupported audio codec, audio switched off", "codec", codec)
		return nil
	}

	packetType := p[1]
	body := p[AudioHeaderLength:]
	switch packetType {
	case SequenceHeader:
		cfg, err := aac.ParseConfig(body)
		if err != nil {
			d.audioOff = true
			d.log.Error("bad audio specific config, audio switched off", "error", err.Error())
			return nil
		}
		d.audioCfg = cfg
		d.haveASC = true
		d.log.Debug("audio configuration",
			"objectType", cfg.ObjectType,
			"sampleRate", cfg.SampleRate,
			"channels", cfg.Channels,
		)
	case AACRaw:
		if !d.haveASC {
			d.log.Warning("audio data before sequence header, tag dropped")
			return nil
		}
		hdr := aac.NewADTSHeader(d.audioCfg.SampleRate, d.audioCfg.Channels, len(body))
		_, err := d.audio.Write(hdr.Bytes())
		if err != nil {
			return errors.Wrap(err, "could not write ADTS header")
		}
		_, err = d.audio.Write(body)
		if err != nil {
			return errors.Wrap(err, "could not write audio frame")
		}
	default:
		d.log.Warning("unknown AAC packet type, tag dropped", "type", packetType)
	}
	return nil
}
