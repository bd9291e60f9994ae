/*
NAME
  flvtool - inspect, demux and mux FLV files.

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


// flvtool inspects FLV files, demuxes them to raw H.264 and ADTS AAC
// elementary streams, and muxes such streams back into FLV.
//
// Usage:
//
//	flvtool -i file.flv             print stream information
//	flvtool -d file.flv             demux to <stem>-<epoch>.h264 and <stem>-<epoch>.aac
//	flvtool -m video.h264,audio.aac mux to <stem>.flv
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/flv/container/flv"
	"github.com/ausocean/flv/container/flv/amf"
	"github.com/ausocean/utils/logging"
)

// Logging configuration.
const (
	logPath      = "flvtool.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

func main() {
	var (
		infoFile  = flag.String("i", "", "print stream information for the given FLV file")
		demuxFile = flag.String("d", "", "demux the given FLV file to raw H.264 and ADTS AAC files")
		muxFiles  = flag.String("m", "", "mux the given <video.h264>,<audio.aac> pair into an FLV file")
		fps       = flag.Int("fps", 25, "video frame rate assumed when muxing")
	)
	flag.Parse()

	// Create lumberjack logger to handle logging to file.
	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(logVerbosity, io.MultiWriter(fileLog, os.Stderr), logSuppress)

	var err error
	switch {
	case *infoFile != "":
		err = runInfo(log, *infoFile)
	case *demuxFile != "":
		err = runDemux(log, *demuxFile)
	case *muxFiles != "":
		err = runMux(log, *muxFiles, *fps)
	default:
		flag.Usage()
		return
	}
	if err != nil {
		log.Error("operation failed", "error", err.Error())
		os.Exit(1)
	}
}

// countWriter counts bytes written and discards them.
type countWriter int64

func (w *countWriter) Write(p []byte) (int, error) {
	*w += countWriter(len(p))
	return len(p), nil
}

func runInfo(log logging.Logger, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var video, audio countWriter
	d, err := flv.NewDemuxer(log,
		flv.VideoOut(&video),
		flv.AudioOut(&audio),
		flv.MetadataSink(func(vals []amf.Property) {
			for _, v := range vals {
				fmt.Println(v.Dump())
			}
		}),
	)
	if err != nil {
		return err
	}

	err = d.Demux(src)
	if err != nil {
		return err
	}
	fmt.Printf("video: %d bytes of H.264\n", int64(video))
	fmt.Printf("audio: %d bytes of ADTS AAC\n", int64(audio))
	return nil
}

func runDemux(log logging.Logger, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	stem := strings.TrimSuffix(path, filepath.Ext(path))
	now := time.Now().Unix()
	videoPath := fmt.Sprintf("%s-%d.h264", stem, now)
	audioPath := fmt.Sprintf("%s-%d.aac", stem, now)

	videoOut, err := os.Create(videoPath)
	if err != nil {
		return err
	}
	defer videoOut.Close()
	audioOut, err := os.Create(audioPath)
	if err != nil {
		return err
	}
	defer audioOut.Close()

	d, err := flv.NewDemuxer(log, flv.VideoOut(videoOut), flv.AudioOut(audioOut))
	if err != nil {
		return err
	}

	// On failure partial output written so far is left in place.
	err = d.Demux(src)
	if err != nil {
		return err
	}
	log.Info("demuxed", "video", videoPath, "audio", audioPath)
	return nil
}

func runMux(log logging.Logger, arg string, fps int) error {
	videoPath, audioPath, _ := strings.Cut(arg, ",")

	var video, audio []byte
	var err error
	if videoPath != "" {
		video, err = os.ReadFile(videoPath)
		if err != nil {
			return err
		}
	}
	if audioPath != "" {
		audio, err = os.ReadFile(audioPath)
		if err != nil {
			return err
		}
	}

	stem := videoPath
	if stem == "" {
		stem = audioPath
	}
	outPath := strings.TrimSuffix(stem, filepath.Ext(stem)) + ".flv"

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	m, err := flv.NewMuxer(out, log, flv.FrameRate(fps))
	if err != nil {
		return err
	}
	err = m.Mux(video, audio)
	if err != nil {
		return err
	}
	log.Info("muxed", "output", outPath)
	return nil
}
