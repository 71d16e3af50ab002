package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

type failingDevice struct {
	err error
}

func (d failingDevice) Open(context.Context) (Stream, error) {
	return nil, d.err
}

func TestAcquire_MapsCaptureErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"denied", ErrCaptureDenied},
		{"unavailable", ErrCaptureUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Acquire(context.Background(), failingDevice{err: tt.err}, nil)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err=%v, want %v", err, tt.err)
			}
		})
	}
}

func TestAcquire_TracksAndFlags(t *testing.T) {
	s, err := Acquire(context.Background(), SyntheticDevice{}, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer s.Release()

	tracks := s.Tracks()
	if len(tracks) != 2 {
		t.Fatalf("len(Tracks())=%d, want 2", len(tracks))
	}
	kinds := map[webrtc.RTPCodecType]bool{}
	for _, tr := range tracks {
		kinds[tr.Kind()] = true
	}
	if !kinds[webrtc.RTPCodecTypeAudio] || !kinds[webrtc.RTPCodecTypeVideo] {
		t.Fatalf("tracks missing a kind: %v", kinds)
	}

	if !s.AudioEnabled() || !s.VideoEnabled() {
		t.Fatal("tracks should start enabled")
	}
	s.SetVideoEnabled(false)
	if s.VideoEnabled() {
		t.Fatal("video still enabled after SetVideoEnabled(false)")
	}
	if !s.AudioEnabled() {
		t.Fatal("audio flag changed by video toggle")
	}
	s.SetVideoEnabled(true)
	s.SetAudioEnabled(false)
	if s.AudioEnabled() || !s.VideoEnabled() {
		t.Fatal("flags are not independent")
	}
}

func TestRelease_IdempotentAndStopsPumps(t *testing.T) {
	s, err := Acquire(context.Background(), SyntheticDevice{}, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Release()
		s.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Release did not return")
	}
}

func TestSyntheticStream_PacesAndCloses(t *testing.T) {
	stream, err := SyntheticDevice{}.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	frame, err := stream.NextAudio(context.Background())
	if err != nil {
		t.Fatalf("NextAudio: %v", err)
	}
	if len(frame.Data) == 0 || frame.Duration <= 0 {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := stream.NextVideo(context.Background()); err == nil {
		t.Fatal("NextVideo after Close should fail")
	}
	// Close is idempotent.
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSyntheticDevice_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (SyntheticDevice{}).Open(ctx); err == nil {
		t.Fatal("Open with cancelled context should fail")
	}
}
