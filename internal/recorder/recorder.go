// Package recorder writes the audio of one gateway session to disk, either
// through an external transcoder (MP3) or as a raw WAV container.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voxbridge/internal/audio"
)

const (
	defaultSampleRate  = 24000
	defaultTemplate    = "session_{id}.wav"
	defaultTranscoder  = "ffmpeg"
	defaultQueueFrames = 256
)

var ErrClosed = errors.New("recorder closed")

// Config configures a Recorder
type Config struct {
	Directory        string
	FilenameTemplate string
	// SampleRate is the fixed rate everything is resampled to
	SampleRate int
	// Transcoder is the executable probed on Start
	Transcoder string
	// QueueFrames bounds the frames buffered for the transcoder; oldest are dropped
	QueueFrames int
}

// Recorder records one session. It is not safe to share across sessions.
type Recorder struct {
	sessionID string
	cfg       Config
	logger    *zap.Logger

	mu            sync.Mutex
	filePath      string
	useTranscoder bool
	started       bool
	closed        bool
	totalSamples  int64
	dropped       int64

	file  *os.File
	cmd   *exec.Cmd
	queue chan []byte
}

// New creates a recorder and ensures the output directory exists
func New(sessionID string, cfg Config, logger *zap.Logger) (*Recorder, error) {
	if cfg.Directory == "" {
		cfg.Directory = "recordings"
	}
	if cfg.FilenameTemplate == "" {
		cfg.FilenameTemplate = defaultTemplate
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Transcoder == "" {
		cfg.Transcoder = defaultTranscoder
	}
	if cfg.QueueFrames <= 0 {
		cfg.QueueFrames = defaultQueueFrames
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	return &Recorder{
		sessionID: sessionID,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Start probes for the transcoder and opens the output
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.started {
		return nil
	}

	r.useTranscoder = probeTranscoder(r.cfg.Transcoder)
	ext := ".wav"
	if r.useTranscoder {
		ext = ".mp3"
	}
	r.filePath = filepath.Join(r.cfg.Directory, buildFilename(r.cfg.FilenameTemplate, r.sessionID, time.Now(), ext))

	if r.useTranscoder {
		if err := r.startTranscoder(); err != nil {
			return err
		}
	} else {
		r.logger.Warn("Transcoder not found, falling back to WAV recording",
			zap.String("sessionID", r.sessionID),
			zap.String("transcoder", r.cfg.Transcoder))

		f, err := os.Create(r.filePath)
		if err != nil {
			return fmt.Errorf("create recording file: %w", err)
		}
		if _, err := f.Write(make([]byte, WAVHeaderSize)); err != nil {
			f.Close()
			return fmt.Errorf("write placeholder header: %w", err)
		}
		r.file = f
	}

	r.started = true
	r.logger.Info("Recording started",
		zap.String("sessionID", r.sessionID),
		zap.String("path", r.filePath))
	return nil
}

func probeTranscoder(name string) bool {
	path, err := exec.LookPath(name)
	if err != nil {
		return false
	}
	return exec.Command(path, "-version").Run() == nil
}

func (r *Recorder) startTranscoder() error {
	rate := fmt.Sprint(r.cfg.SampleRate)
	cmd := exec.Command(r.cfg.Transcoder,
		"-y",
		"-f", "s16le",
		"-ar", rate,
		"-ac", "1",
		"-i", "pipe:0",
		"-af", "silenceremove=stop_periods=-1:stop_duration=1:stop_threshold=-50dB,aresample="+rate,
		"-f", "mp3",
		"-b:a", "128k",
		r.filePath,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("transcoder stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start transcoder: %w", err)
	}

	r.cmd = cmd
	r.queue = make(chan []byte, r.cfg.QueueFrames)
	go r.pump(stdin)
	return nil
}

// pump feeds the transcoder. A write failure ends recording but never the session.
func (r *Recorder) pump(stdin io.WriteCloser) {
	failed := false
	for buf := range r.queue {
		if failed {
			continue
		}
		if _, err := stdin.Write(buf); err != nil {
			failed = true
			r.logger.Error("Transcoder write failed, recording stopped",
				zap.String("sessionID", r.sessionID),
				zap.Error(err))
		}
	}

	stdin.Close()
	if err := r.cmd.Wait(); err != nil && !failed {
		r.logger.Warn("Transcoder exited with error",
			zap.String("sessionID", r.sessionID),
			zap.Error(err))
	}
}

// WriteAudio records little-endian PCM16 bytes captured at inputRate
func (r *Recorder) WriteAudio(data []byte, inputRate int) {
	r.WriteInt16(audio.BytesToInt16(data), inputRate)
}

// WriteFloat32 records float samples in [-1,1] captured at inputRate
func (r *Recorder) WriteFloat32(samples []float32, inputRate int) {
	r.WriteInt16(audio.FloatsToPCM16(samples), inputRate)
}

// WriteInt16 records PCM16 samples captured at inputRate
func (r *Recorder) WriteInt16(samples []int16, inputRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.started || len(samples) == 0 {
		return
	}

	if inputRate != r.cfg.SampleRate {
		samples = audio.ResampleInt16(samples, inputRate, r.cfg.SampleRate)
	}
	buf := audio.Int16ToBytes(samples)

	if r.useTranscoder {
		lost := r.enqueue(buf)
		r.totalSamples += int64(len(buf)-lost) / 2
		return
	}

	if _, err := r.file.Write(buf); err != nil {
		r.logger.Error("Failed to write recording",
			zap.String("sessionID", r.sessionID),
			zap.Error(err))
		return
	}
	r.totalSamples += int64(len(samples))
}

// enqueue queues buf for the transcoder, evicting the oldest frame when the
// queue is full. It returns the number of bytes that will never be written.
func (r *Recorder) enqueue(buf []byte) int {
	select {
	case r.queue <- buf:
		return 0
	default:
	}

	lost := 0
	select {
	case old := <-r.queue:
		r.dropped++
		lost += len(old)
	default:
	}
	select {
	case r.queue <- buf:
	default:
		r.dropped++
		lost += len(buf)
	}
	return lost
}

// Stop finalizes the recording. It is idempotent. On the WAV path the header
// is rewritten with the final sample count; a failure is returned but the
// file is still closed.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if !r.started {
		return nil
	}

	if r.useTranscoder {
		close(r.queue)
		if r.dropped > 0 {
			r.logger.Warn("Recording dropped frames",
				zap.String("sessionID", r.sessionID),
				zap.Int64("dropped", r.dropped))
		}
		return nil
	}

	headerErr := r.patchHeader()
	if err := r.file.Close(); err != nil && headerErr == nil {
		return fmt.Errorf("close recording: %w", err)
	}
	if headerErr != nil {
		r.logger.Error("Failed to update WAV header",
			zap.String("sessionID", r.sessionID),
			zap.Error(headerErr))
	}
	return headerErr
}

func (r *Recorder) patchHeader() error {
	header, err := NewWAVHeader(r.cfg.SampleRate, r.totalSamples).Bytes()
	if err != nil {
		return err
	}
	if _, err := r.file.WriteAt(header, 0); err != nil {
		return fmt.Errorf("rewrite WAV header: %w", err)
	}
	return nil
}

// FilePath returns the output path, known after Start
func (r *Recorder) FilePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filePath
}

// TotalSamples returns the number of samples written at the internal rate
func (r *Recorder) TotalSamples() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalSamples
}

// UsesTranscoder reports whether Start found the external transcoder
func (r *Recorder) UsesTranscoder() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.useTranscoder
}
