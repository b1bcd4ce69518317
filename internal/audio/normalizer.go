// Package audio turns recorded answers into canonical 16 kHz mono PCM files.
package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pavelanni/voicequiz/internal/metrics"
)

const defaultExt = ".webm"

// Transcoder converts the container file at src into a mono 16 kHz 16-bit WAV at dst.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string) error
}

// Mirror copies a stored artifact to secondary storage.
type Mirror interface {
	Put(ctx context.Context, name, localPath string) error
}

// Config holds Normalizer settings.
type Config struct {
	Dir     string        // storage directory for artifacts
	Timeout time.Duration // upper bound for one transcoding run; 0 means none
}

// Normalizer stores answer audio under a single directory.
type Normalizer struct {
	dir        string
	timeout    time.Duration
	transcoder Transcoder
	mirror     Mirror
	metrics    *metrics.Metrics
	now        func() time.Time

	mu       sync.Mutex
	dirReady bool
	reserved map[string]bool // artifact base names being written
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMirror uploads every stored artifact to m after it is written.
func WithMirror(m Mirror) Option {
	return func(n *Normalizer) { n.mirror = m }
}

// WithMetrics records normalization outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Normalizer) { n.metrics = m }
}

// New creates a Normalizer. The storage directory is not touched until the first write.
func New(cfg Config, t Transcoder, opts ...Option) *Normalizer {
	n := &Normalizer{
		dir:        cfg.Dir,
		timeout:    cfg.Timeout,
		transcoder: t,
		now:        time.Now,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Dir returns the storage directory.
func (n *Normalizer) Dir() string {
	return n.dir
}

// Path returns the absolute location of a stored artifact.
func (n *Normalizer) Path(filename string) string {
	return filepath.Join(n.dir, filename)
}

// Normalize decodes a base64 audio payload and stores it as WAV, returning
// the artifact filename. An empty or malformed payload yields "" without
// touching the filesystem. If transcoding fails the original bytes are kept
// under their container extension instead; an error is returned only when
// that degraded write fails too.
func (n *Normalizer) Normalize(ctx context.Context, payload string, attemptID, questionID int64) (string, error) {
	if strings.TrimSpace(payload) == "" {
		n.metrics.AudioNormalized(metrics.AudioNone)
		return "", nil
	}

	data, ext, err := decodePayload(payload)
	if err != nil {
		slog.Warn("discarding malformed audio payload",
			"attempt_id", attemptID, "question_id", questionID, "error", err)
		n.metrics.AudioNormalized(metrics.AudioMalformed)
		return "", nil
	}

	if err := n.ensureDir(); err != nil {
		return "", err
	}

	base, release := n.reserveBase(
		fmt.Sprintf("attempt_%d_q%d_%d", attemptID, questionID, n.now().UnixMilli()), ext)
	defer release()

	tmp, err := os.CreateTemp(n.dir, "tmp-"+base+"-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp audio file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}

	wavName := base + ".wav"
	if werr == nil {
		werr = n.transcode(ctx, tmpPath, n.Path(wavName))
		if werr == nil {
			n.metrics.AudioNormalized(metrics.AudioWAV)
			n.mirrorArtifact(ctx, wavName)
			return wavName, nil
		}
	}

	slog.Error("audio transcoding failed, keeping original container",
		"attempt_id", attemptID, "question_id", questionID, "ext", ext, "error", werr)
	_ = os.Remove(n.Path(wavName))

	fallback := base + ext
	if err := os.WriteFile(n.Path(fallback), data, 0o644); err != nil {
		return "", fmt.Errorf("store original audio: %w", err)
	}
	n.metrics.AudioNormalized(metrics.AudioFallback)
	n.mirrorArtifact(ctx, fallback)
	return fallback, nil
}

func (n *Normalizer) transcode(ctx context.Context, src, dst string) error {
	if n.transcoder == nil {
		return errors.New("no transcoder configured")
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	if err := n.transcoder.Transcode(ctx, src, dst); err != nil {
		return err
	}
	if fi, err := os.Stat(dst); err != nil || fi.Size() == 0 {
		return fmt.Errorf("transcoder produced no output at %s", dst)
	}
	return nil
}

func (n *Normalizer) mirrorArtifact(ctx context.Context, name string) {
	if n.mirror == nil {
		return
	}
	if err := n.mirror.Put(ctx, name, n.Path(name)); err != nil {
		slog.Warn("audio mirror upload failed", "file", name, "error", err)
	}
}

// reserveBase returns an artifact base name that no stored file and no
// in-flight Normalize call uses. Collisions within the same millisecond get
// a numeric suffix. The returned func releases the reservation.
func (n *Normalizer) reserveBase(prefix, ext string) (string, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reserved == nil {
		n.reserved = make(map[string]bool)
	}
	for i := 0; ; i++ {
		base := prefix
		if i > 0 {
			base = fmt.Sprintf("%s_%d", prefix, i)
		}
		if n.reserved[base] || n.exists(base+".wav") || n.exists(base+ext) {
			continue
		}
		n.reserved[base] = true
		return base, func() {
			n.mu.Lock()
			delete(n.reserved, base)
			n.mu.Unlock()
		}
	}
}

func (n *Normalizer) exists(name string) bool {
	_, err := os.Stat(n.Path(name))
	return err == nil
}

func (n *Normalizer) ensureDir() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.dirReady {
		return nil
	}
	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}
	n.dirReady = true
	return nil
}

// decodePayload strips an optional data URL header and decodes the base64
// body. The container extension comes from the declared MIME type, or from
// sniffing the bytes when none is declared.
func decodePayload(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	declared := ""
	if strings.HasPrefix(payload, "data:") {
		header, body, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, "", errors.New("data URL without body")
		}
		if !strings.HasSuffix(header, ";base64") {
			return nil, "", errors.New("data URL is not base64 encoded")
		}
		declared = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		if i := strings.IndexByte(declared, ';'); i >= 0 {
			declared = declared[:i]
		}
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return nil, "", fmt.Errorf("decode base64: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty audio")
	}
	return data, containerExt(declared, data), nil
}

var declaredExt = map[string]string{
	"audio/webm":  ".webm",
	"video/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/mp4":   ".m4a",
	"audio/mpeg":  ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
}

func containerExt(declared string, data []byte) string {
	if ext, ok := declaredExt[strings.ToLower(declared)]; ok {
		return ext
	}
	if declared != "" {
		if mt := mimetype.Lookup(declared); mt != nil && mt.Extension() != "" {
			return mt.Extension()
		}
	}
	mt := mimetype.Detect(data)
	if mt.Extension() == "" || mt.Is("application/octet-stream") || mt.Is("text/plain") {
		return defaultExt
	}
	return mt.Extension()
}
