package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/spayyavula/azrustyclint/internal/media"
	"github.com/spayyavula/azrustyclint/internal/metrics"
	"github.com/spayyavula/azrustyclint/internal/room"
)

var (
	flagServer      string
	flagParticipant string
	flagNoAudio     bool
	flagNoVideo     bool
	flagVerbose     bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room call and stay in it until interrupted",
	Long: `Join a room call as a synthetic participant.

Examples:
  rustyclint-call join design-review --server ws://localhost:8080
  rustyclint-call join design-review --participant alice --no-video`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(cmd.Context(), args[0])
	},
}

func joinRoom(parent context.Context, roomID string) error {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	participantID := flagParticipant
	if participantID == "" {
		participantID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	call, err := room.StartCall(ctx, room.Options{
		ServerURL:     flagServer,
		RoomID:        roomID,
		ParticipantID: participantID,
		Device:        media.SyntheticDevice{},
		Logger:        logger,
		Metrics:       metrics.New(),
		OnRemoteTrack: func(peer string, track *webrtc.TrackRemote) {
			fmt.Printf("receiving %s from %s\n", track.Kind(), peer)
		},
	})
	if err != nil {
		return err
	}

	call.SetAudioEnabled(!flagNoAudio)
	call.SetVideoEnabled(!flagNoVideo)

	fmt.Printf("joined room %s as %s (ctrl-c to leave)\n", roomID, participantID)

	for {
		select {
		case snap, ok := <-call.Roster():
			if !ok {
				if err := call.Err(); err != nil {
					return fmt.Errorf("call ended: %w", err)
				}
				return nil
			}
			fmt.Println("roster:", formatRoster(snap, participantID))
		case <-ctx.Done():
			fmt.Println("leaving room")
			call.End()
			return nil
		}
	}
}

func formatRoster(snap room.Snapshot, self string) string {
	parts := make([]string, 0, len(snap))
	for _, p := range snap {
		label := p.ID
		switch {
		case p.ID == self:
			label += " (you)"
		case p.Connected:
			label += " (connected)"
		default:
			label += " (negotiating)"
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, ", ")
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagServer, "server", "s", "ws://127.0.0.1:8080", "Signaling relay URL")
	joinCmd.Flags().StringVarP(&flagParticipant, "participant", "p", "", "Participant ID (default: random UUID)")
	joinCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "Join with audio disabled")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "Join with video disabled")
	joinCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")
}
