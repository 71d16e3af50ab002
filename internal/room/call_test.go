package room

import (
	"context"
	"errors"
	"testing"

	"github.com/spayyavula/azrustyclint/internal/media"
	"github.com/spayyavula/azrustyclint/internal/signaling"
)

type deniedDevice struct {
	err error
}

func (d deniedDevice) Open(context.Context) (media.Stream, error) {
	return nil, d.err
}

func validOptions() Options {
	return Options{
		ServerURL:     "ws://127.0.0.1:9",
		RoomID:        "room-1",
		ParticipantID: "alice",
		Device:        media.SyntheticDevice{},
	}
}

func TestStartCall_RequiresOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"server url", func(o *Options) { o.ServerURL = "" }},
		{"room id", func(o *Options) { o.RoomID = "" }},
		{"participant id", func(o *Options) { o.ParticipantID = "" }},
		{"device", func(o *Options) { o.Device = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.mutate(&opts)
			if _, err := StartCall(context.Background(), opts); !errors.Is(err, errMissingOption) {
				t.Fatalf("err=%v, want %v", err, errMissingOption)
			}
		})
	}
}

func TestStartCall_SurfacesCaptureErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"denied", media.ErrCaptureDenied},
		{"unavailable", media.ErrCaptureUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			opts.Device = deniedDevice{err: tt.err}
			opts.Logger = quietLogger()
			if _, err := StartCall(context.Background(), opts); !errors.Is(err, tt.err) {
				t.Fatalf("err=%v, want %v", err, tt.err)
			}
		})
	}
}

func TestStartCall_SurfacesChannelUnavailable(t *testing.T) {
	opts := validOptions()
	// Port 9 (discard) refuses the dial immediately.
	opts.Logger = quietLogger()
	if _, err := StartCall(context.Background(), opts); !errors.Is(err, signaling.ErrChannelUnavailable) {
		t.Fatalf("err=%v, want %v", err, signaling.ErrChannelUnavailable)
	}
}
