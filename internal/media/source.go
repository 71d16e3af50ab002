package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Source owns one capture stream and the pair of outbound tracks shared by
// every peer link in a call. Tracks are created once and attached read-only;
// the Source's pump goroutines are the only writers.
type Source struct {
	log    *slog.Logger
	stream Stream

	audioTrack *webrtc.TrackLocalStaticSample
	videoTrack *webrtc.TrackLocalStaticSample

	audioEnabled atomic.Bool
	videoEnabled atomic.Bool

	cancel      context.CancelFunc
	pumps       sync.WaitGroup
	releaseOnce sync.Once
}

// Acquire opens the capture device and starts pumping its frames onto the
// outbound tracks. Both tracks start enabled.
func Acquire(ctx context.Context, dev Device, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}

	stream, err := dev.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}

	streamID := "rustyclint-" + uuid.NewString()
	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", streamID,
	)
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("create video track: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s := &Source{
		log:        log,
		stream:     stream,
		audioTrack: audioTrack,
		videoTrack: videoTrack,
		cancel:     cancel,
	}
	s.audioEnabled.Store(true)
	s.videoEnabled.Store(true)

	s.pumps.Add(2)
	go s.pump(pumpCtx, "audio", stream.NextAudio, audioTrack, &s.audioEnabled)
	go s.pump(pumpCtx, "video", stream.NextVideo, videoTrack, &s.videoEnabled)

	return s, nil
}

// Tracks returns the outbound tracks to attach to a peer link.
func (s *Source) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audioTrack, s.videoTrack}
}

// SetAudioEnabled flips the audio flag. Purely local: no track is added or
// removed and no peer link is renegotiated.
func (s *Source) SetAudioEnabled(enabled bool) {
	s.audioEnabled.Store(enabled)
}

func (s *Source) AudioEnabled() bool {
	return s.audioEnabled.Load()
}

// SetVideoEnabled flips the video flag; same contract as SetAudioEnabled.
func (s *Source) SetVideoEnabled(enabled bool) {
	s.videoEnabled.Store(enabled)
}

func (s *Source) VideoEnabled() bool {
	return s.videoEnabled.Load()
}

// Release stops the pumps and closes the capture stream. Idempotent.
func (s *Source) Release() {
	s.releaseOnce.Do(func() {
		s.cancel()
		_ = s.stream.Close()
		s.pumps.Wait()
	})
}

func (s *Source) pump(ctx context.Context, kind string, next func(context.Context) (Frame, error), track *webrtc.TrackLocalStaticSample, enabled *atomic.Bool) {
	defer s.pumps.Done()

	for {
		frame, err := next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("capture stream ended", "kind", kind, "err", err)
			}
			return
		}
		if !enabled.Load() {
			// Muted: drop the frame, keep the pacing.
			continue
		}
		if err := track.WriteSample(pionmedia.Sample{Data: frame.Data, Duration: frame.Duration}); err != nil {
			s.log.Warn("write sample", "kind", kind, "err", err)
		}
	}
}
