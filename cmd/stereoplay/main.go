// Command stereoplay decodes a stereo MVC elementary-stream dump, composes
// each frame pair into the selected stereo layout, and writes the resulting
// packed YUYV surfaces to a file. It is the reference driver for the decode
// core and doubles as an offline conformance tool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zsiec/stereo/internal/config"
	"github.com/zsiec/stereo/internal/esfile"
	"github.com/zsiec/stereo/internal/pipeline"
	"github.com/zsiec/stereo/media"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "stereoplay:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "TOML configuration file")
		input       = flag.String("input", "", "MVES elementary-stream dump to play")
		output      = flag.String("output", "", "file receiving raw packed YUYV surfaces")
		layout      = flag.String("layout", "", "stereo layout: sbs, tab, or packed")
		seekFrame   = flag.Int("seek", -1, "seek to this frame index before playback")
		fps         = flag.Int("fps", 25, "declared source frame rate")
		logLevel    = flag.String("log-level", "", "log level: debug, info, warn, or error")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("stereoplay", version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *input != "" {
		cfg.Input = *input
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *layout != "" {
		cfg.Layout = *layout
	}
	if *seekFrame >= 0 {
		cfg.SeekFrame = *seekFrame
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	setupLogging(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	sink, err := newFileSink(cfg.Output)
	if err != nil {
		return err
	}
	defer sink.Close()

	p, err := pipeline.New(pipeline.Config{
		Log:           slog.Default(),
		Events:        logEvent,
		Sink:          sink,
		Layout:        cfg.ParsedLayout(),
		BlankingLines: cfg.BlankingLines,
		PairHorizonAU: cfg.PairHorizonAU,
		InterViewWait: cfg.InterViewWait(),
		PoolSize:      cfg.PoolSize,
	})
	if err != nil {
		return err
	}

	desc := media.StreamDescriptor{
		Name:         filepath.Base(cfg.Input),
		FrameRateNum: *fps,
		FrameRateDen: 1,
	}
	if err := p.Start(ctx, desc); err != nil {
		return err
	}
	defer p.Stop()

	slog.Info("stereoplay starting",
		"version", version,
		"input", cfg.Input,
		"output", cfg.Output,
		"layout", cfg.Layout,
		"frame_duration", desc.FrameDuration(),
	)

	if cfg.SeekFrame > 0 {
		target, err := framePTS(cfg.Input, cfg.SeekFrame)
		if err != nil {
			return err
		}
		if err := p.Seek(ctx, target); err != nil {
			return err
		}
		slog.Info("seeking before playback", "frame", cfg.SeekFrame, "target_pts", target)
	}

	fed, err := feed(ctx, p, cfg.Input)
	if err != nil {
		return err
	}
	if err := p.Finish(ctx); err != nil {
		return err
	}
	if err := sink.drainQuiescent(ctx, 300*time.Millisecond); err != nil {
		return err
	}
	if err := p.Stop(); err != nil {
		return err
	}

	slog.Info("playback finished", "access_units", fed, "surfaces", sink.Delivered())
	return nil
}

func setupLogging(lc config.LogConfig) {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if lc.File != "" {
		out = &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			Compress:   true,
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
}

func logEvent(ev media.Event) {
	slog.Warn("quality event", "kind", ev.Kind.String(), "pts", ev.PTS, "detail", ev.Detail)
}

// framePTS scans the dump's record headers for the presentation timestamp
// of the given frame index. One record per frame.
func framePTS(path string, frame int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r, err := esfile.NewReader(f)
	if err != nil {
		return 0, err
	}
	for i := 0; ; i++ {
		au, err := r.ReadAU()
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("seek frame %d beyond end of stream", frame)
		}
		if err != nil {
			return 0, err
		}
		if i == frame {
			return au.PTS, nil
		}
	}
}

func feed(ctx context.Context, p *pipeline.Pipeline, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r, err := esfile.NewReader(f)
	if err != nil {
		return 0, err
	}

	n := 0
	for {
		au, err := r.ReadAU()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := p.Feed(ctx, au); err != nil {
			return n, err
		}
		n++
	}
}

// fileSink writes every delivered surface's raw bytes to a file, or
// discards them when no output was configured.
type fileSink struct {
	f         *os.File
	delivered atomic.Int64
	lastNanos atomic.Int64
}

func newFileSink(path string) (*fileSink, error) {
	s := &fileSink{}
	s.lastNanos.Store(time.Now().UnixNano())
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		s.f = f
	}
	return s, nil
}

// Deliver implements pipeline.Sink.
func (s *fileSink) Deliver(surf *media.Surface) {
	defer surf.Release()
	if s.f != nil {
		if _, err := s.f.Write(surf.Data); err != nil {
			slog.Error("write surface", "pts", surf.PTS, "error", err)
		}
	}
	s.delivered.Add(1)
	s.lastNanos.Store(time.Now().UnixNano())
}

// Delivered returns the number of surfaces written so far.
func (s *fileSink) Delivered() int64 { return s.delivered.Load() }

// drainQuiescent waits until no surface has arrived for the quiet window,
// giving the pipeline's flush a chance to land before shutdown.
func (s *fileSink) drainQuiescent(ctx context.Context, quiet time.Duration) error {
	t := time.NewTicker(quiet / 4)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			last := time.Unix(0, s.lastNanos.Load())
			if time.Since(last) >= quiet {
				return nil
			}
		}
	}
}

func (s *fileSink) Close() error {
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}
