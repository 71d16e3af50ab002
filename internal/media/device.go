package media

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCaptureDenied means the user declined camera/microphone permission.
	// Fatal to starting a call; not retryable.
	ErrCaptureDenied = errors.New("media: capture denied")
	// ErrCaptureUnavailable means no usable capture device exists.
	ErrCaptureUnavailable = errors.New("media: capture unavailable")
)

// Frame is one encoded media sample as produced by a capture device.
type Frame struct {
	Data     []byte
	Duration time.Duration
}

// Stream is an open capture session producing paced, encoded frames.
// NextAudio and NextVideo block until the next frame is due and return an
// error once the stream is closed or the context is cancelled.
type Stream interface {
	NextAudio(ctx context.Context) (Frame, error)
	NextVideo(ctx context.Context) (Frame, error)
	Close() error
}

// Device opens capture sessions. Open reports ErrCaptureDenied or
// ErrCaptureUnavailable when capture cannot start.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

const (
	syntheticAudioInterval = 20 * time.Millisecond
	syntheticVideoInterval = 33 * time.Millisecond
)

// SyntheticDevice produces silent Opus-sized audio frames and dummy video
// frames on capture pacing. It stands in for real capture hardware in tests
// and in the headless terminal client.
type SyntheticDevice struct{}

func (SyntheticDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &syntheticStream{
		audio: time.NewTicker(syntheticAudioInterval),
		video: time.NewTicker(syntheticVideoInterval),
		done:  make(chan struct{}),
	}, nil
}

type syntheticStream struct {
	audio *time.Ticker
	video *time.Ticker

	closeOnce sync.Once
	done      chan struct{}
}

var errStreamClosed = errors.New("media: stream closed")

func (s *syntheticStream) NextAudio(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-s.done:
		return Frame{}, errStreamClosed
	case <-s.audio.C:
		// Opus frame of comfort noise; contents are irrelevant to pacing.
		return Frame{Data: make([]byte, 80), Duration: syntheticAudioInterval}, nil
	}
}

func (s *syntheticStream) NextVideo(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-s.done:
		return Frame{}, errStreamClosed
	case <-s.video.C:
		return Frame{Data: make([]byte, 1200), Duration: syntheticVideoInterval}, nil
	}
}

func (s *syntheticStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.audio.Stop()
		s.video.Stop()
	})
	return nil
}
