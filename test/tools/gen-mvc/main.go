// Command gen-mvc writes a synthetic stereo MVC elementary-stream dump for
// exercising stereoplay and the decode pipeline without real camera footage.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/zsiec/stereo/internal/esfile"
	"github.com/zsiec/stereo/test/tools/mvcgen"
)

func main() {
	var (
		out         = flag.String("out", "stream.mves", "output MVES file")
		frames      = flag.Int("frames", 100, "number of frames to generate")
		width       = flag.Int("width", 640, "frame width, even")
		height      = flag.Int("height", 360, "frame height, even")
		keyInterval = flag.Int("key-interval", 8, "frames between key frames")
		fps         = flag.Int("fps", 25, "frame rate (sets the PTS step at 90 kHz)")
		baseOnly    = flag.Bool("base-only", false, "generate a monoscopic stream without the dependent view")
	)
	flag.Parse()

	if err := run(*out, *frames, *width, *height, *keyInterval, *fps, *baseOnly); err != nil {
		fmt.Fprintln(os.Stderr, "gen-mvc:", err)
		os.Exit(1)
	}
}

func run(out string, frames, width, height, keyInterval, fps int, baseOnly bool) error {
	if width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("dimensions must be even, got %dx%d", width, height)
	}
	if frames <= 0 {
		return fmt.Errorf("frames must be > 0")
	}
	if fps <= 0 {
		return fmt.Errorf("fps must be > 0")
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := esfile.NewWriter(f)
	if err != nil {
		return err
	}

	enc := mvcgen.NewEncoder(mvcgen.StreamOpts{
		Width:       width,
		Height:      height,
		KeyInterval: keyInterval,
		PTSStep:     int64(90000 / fps),
		BaseOnly:    baseOnly,
	})
	for i := 0; i < frames; i++ {
		if err := w.WriteAU(enc.NextAU()); err != nil {
			return err
		}
	}
	if err := f.Sync(); err != nil {
		return err
	}

	views := 2
	if baseOnly {
		views = 1
	}
	fmt.Printf("wrote %s: %d frames, %dx%d, %d view(s), key interval %d, %d fps\n",
		out, frames, width, height, views, keyInterval, fps)
	return nil
}
