package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Target PCM format for transcription.
const (
	SampleRate = 16000
	Channels   = 1
	Codec      = "pcm_s16le"
)

// FFmpeg transcodes with the ffmpeg binary. The command line is built with
// ffmpeg-go and run under the caller's context so timeouts kill the process.
type FFmpeg struct {
	Bin string // defaults to "ffmpeg"
}

func (f FFmpeg) bin() string {
	if f.Bin == "" {
		return "ffmpeg"
	}
	return f.Bin
}

// Args returns the ffmpeg arguments for converting src into canonical WAV at dst.
func (f FFmpeg) Args(src, dst string) []string {
	args := ffmpeg.Input(src).
		Output(dst, ffmpeg.KwArgs{
			"ac":     Channels,
			"ar":     SampleRate,
			"acodec": Codec,
			"f":      "wav",
		}).
		OverWriteOutput().
		GetArgs()
	return append([]string{"-hide_banner", "-nostdin", "-loglevel", "error"}, args...)
}

// Transcode implements Transcoder.
func (f FFmpeg) Transcode(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, f.bin(), f.Args(src, dst)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Version reports the installed ffmpeg version line, used as a startup check.
func (f FFmpeg) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, f.bin(), "-version", "-hide_banner").Output()
	if err != nil {
		return "", fmt.Errorf("run %s -version: %w", f.bin(), err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}
