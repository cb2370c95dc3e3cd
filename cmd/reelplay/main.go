// reelplay is a headless RTSP client. It plays a resource for a while and
// keeps the most recent frame in cache-<session>.jpg.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"reel/internal/reel"
	"reel/pkg/rtp"
	"reel/pkg/rtsp"
)

func main() {
	server := flag.String("server", fmt.Sprintf("127.0.0.1:%d", rtsp.DefaultRTSPPort), "RTSP server address")
	resource := flag.String("resource", "movie.Mjpeg", "resource to play")
	rtpPort := flag.Int("rtp-port", rtsp.DefaultClientPort, "local RTP port")
	duration := flag.Duration("duration", 10*time.Second, "how long to play, 0 plays until interrupted")
	outDir := flag.String("out", ".", "directory for the frame cache file")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	config := reel.DefaultConfig()
	config.Logging.Level = *level
	reel.InitLogger(&config)

	if err := run(*server, *resource, *rtpPort, *duration, *outDir); err != nil {
		slog.Error("Playback failed", "err", err)
		os.Exit(1)
	}
}

func run(addr, resource string, rtpPort int, duration time.Duration, outDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cachePath atomic.Value
	var frames atomic.Int64

	receiver, err := rtp.Listen(rtpPort, func(frame []byte, pkt rtp.Packet) {
		path, _ := cachePath.Load().(string)
		if path == "" {
			return
		}
		if err := os.WriteFile(path, frame, 0o644); err != nil {
			slog.Error("Failed to write frame", "path", path, "err", err)
			return
		}
		frames.Add(1)
		slog.Debug("Frame received", "seq", pkt.Header.SequenceNumber, "ts", pkt.Header.Timestamp, "size", len(frame))
	})
	if err != nil {
		return err
	}
	receiver.Start()
	defer receiver.Close()

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := rtsp.Dial(dialCtx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Describe(resource)
	if err != nil {
		return err
	}
	if res.StatusCode != rtsp.StatusOK {
		return fmt.Errorf("DESCRIBE %s: %d %s", resource, res.StatusCode, res.StatusText)
	}
	slog.Debug("Session description", "sdp", string(res.Body))

	res, err = client.Setup(resource, receiver.Port())
	if err != nil {
		return err
	}
	if res.StatusCode != rtsp.StatusOK {
		return fmt.Errorf("SETUP %s: %d %s", resource, res.StatusCode, res.StatusText)
	}
	cachePath.Store(filepath.Join(outDir, "cache-"+client.Session()+".jpg"))
	slog.Info("Session set up", "session", client.Session(), "transport", res.GetHeader(rtsp.HeaderTransport))

	res, err = client.Play(resource)
	if err != nil {
		return err
	}
	if res.StatusCode != rtsp.StatusOK {
		return fmt.Errorf("PLAY %s: %d %s", resource, res.StatusCode, res.StatusText)
	}
	slog.Info("Playing", "resource", resource, "rtpInfo", res.GetHeader(rtsp.HeaderRTPInfo))

	var timeout <-chan time.Time
	if duration > 0 {
		timeout = time.After(duration)
	}
	select {
	case <-ctx.Done():
	case <-timeout:
	}

	res, err = client.Teardown(resource)
	if err != nil {
		return err
	}
	slog.Info("Session torn down", "status", res.StatusCode, "frames", frames.Load(), "cache", cachePath.Load())
	return nil
}
