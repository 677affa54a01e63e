// The agent joins a room from the participant side: it drives a local mpv
// instance (started with --input-ipc-server) and runs the host or listener
// reconciler against the room service.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vidsync/internal/config"
	"vidsync/internal/player/mpv"
	"vidsync/internal/rooms"
	"vidsync/internal/session"
	"vidsync/internal/syncer"
	"vidsync/internal/wsclient"
)

func main() {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		serverURL = flag.String("server", "http://localhost:8080", "room service base URL")
		roomID    = flag.String("room", "", "room to join as listener")
		videoID   = flag.String("create", "", "create a room for this media reference and host it")
		name      = flag.String("name", "agent", "display name")
		mpvSocket = flag.String("mpv-socket", "/tmp/mpv.sock", "mpv --input-ipc-server socket path")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	if (*roomID == "") == (*videoID == "") {
		log.Fatal().Msg("exactly one of -room or -create is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := session.NewRegistry()

	var sess *rooms.Session
	if *videoID != "" {
		sess, err = wsclient.CreateRoom(ctx, *serverURL, *name, *videoID)
	} else {
		sess, err = wsclient.JoinRoom(ctx, *serverURL, *roomID, *name)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("room bootstrap failed")
	}
	registry.Bind(sess.RoomID, session.Binding{
		ParticipantID: sess.UserID,
		Token:         sess.Token,
		Role:          sess.Role,
	})

	log.Info().
		Str("room_id", sess.RoomID).
		Str("role", string(sess.Role)).
		Str("video_id", sess.State.VideoID).
		Msg("joined room")

	opts := syncer.Options{
		HeartbeatInterval:   cfg.Sync.HeartbeatInterval,
		TickInterval:        cfg.Sync.TickInterval,
		MaxDrift:            cfg.Sync.MaxDrift,
		BufferingGraceTicks: cfg.Sync.BufferingGraceTicks,
	}

	switch registry.RoleFor(sess.RoomID, sess.State.HostID) {
	case session.RoleHost:
		err = runHost(ctx, *serverURL, *mpvSocket, sess, opts)
	default:
		err = runListener(ctx, *serverURL, *mpvSocket, sess, opts)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("agent exited")
	}
}

func runHost(ctx context.Context, serverURL, mpvSocket string, sess *rooms.Session, opts syncer.Options) error {
	client, err := wsclient.Dial(ctx, serverURL, sess.RoomID, sess.UserID, sess.Token)
	if err != nil {
		return err
	}
	defer client.Close()
	client.Prime(sess.State)

	p, err := mpv.Connect(mpvSocket)
	if err != nil {
		return err
	}
	defer p.Close()

	host := syncer.NewHost(sess.RoomID, client, p, opts)

	// Detached: Scan blocks on stdin, and a lost connection must not wait
	// for the user to press Enter before the process exits.
	go commandLoop(ctx, host)

	err = host.Run(ctx)
	if errors.Is(err, syncer.ErrFeedLost) {
		log.Warn().Msg("connection to room service lost")
	}
	return err
}

// commandLoop reads explicit host commands from stdin: play, pause, seek <s>.
// Organic mpv interactions are picked up by the reconciler through player
// events, so the loop is only for driving playback without touching mpv.
func commandLoop(ctx context.Context, host *syncer.Host) {
	fmt.Println("commands: play | pause | seek <seconds>")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "play":
			err = host.Play(ctx)
		case "pause":
			err = host.Pause(ctx)
		case "seek":
			if len(fields) != 2 {
				fmt.Println("usage: seek <seconds>")
				continue
			}
			var target float64
			if target, err = strconv.ParseFloat(fields[1], 64); err == nil {
				err = host.Seek(ctx, target)
			}
		default:
			fmt.Println("commands: play | pause | seek <seconds>")
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("command", fields[0]).Msg("command failed")
		}
	}
}

// runListener reconciles until the room's media changes, then rebuilds the
// player adapter and reconciler for the new media.
func runListener(ctx context.Context, serverURL, mpvSocket string, sess *rooms.Session, opts syncer.Options) error {
	client, err := wsclient.Dial(ctx, serverURL, sess.RoomID, sess.UserID, sess.Token)
	if err != nil {
		return err
	}
	defer client.Close()
	client.Prime(sess.State)

	engaged := make(chan struct{})
	go func() {
		fmt.Println("press Enter to start synchronized playback")
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(engaged)
	}()

	for {
		p, err := mpv.Connect(mpvSocket)
		if err != nil {
			return err
		}

		listener := syncer.NewListener(sess.RoomID, client, p, opts)

		mediaChanged := make(chan string, 1)
		listener.OnMediaChanged(func(videoID string) {
			mediaChanged <- videoID
		})

		go func() {
			select {
			case <-engaged:
				listener.Engage()
			case <-ctx.Done():
			}
		}()

		runErr := listener.Run(ctx)
		_ = p.Close()

		select {
		case videoID := <-mediaChanged:
			log.Info().Str("video_id", videoID).Msg("room media changed, load it in mpv to continue")
			continue
		default:
		}

		if errors.Is(runErr, syncer.ErrFeedLost) {
			log.Warn().Msg("connection to room service lost")
		}
		return runErr
	}
}
