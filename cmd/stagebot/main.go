// Command stagebot is a headless stage participant. It takes a seat and
// broadcasts looping media files, following admin control like any client.
package main

import (
	"context"
	"errors"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/adapters/livekit"
	"github.com/dkeye/Stage/internal/adapters/rtc"
	"github.com/dkeye/Stage/internal/adapters/seatapi"
	"github.com/dkeye/Stage/internal/adapters/wsclient"
	"github.com/dkeye/Stage/internal/app/media"
	"github.com/dkeye/Stage/internal/app/orch"
	"github.com/dkeye/Stage/internal/app/roster"
	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && cfg.Log.Level != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	bot := cfg.Bot

	room, err := domain.NewRoomName(bot.Room)
	if err != nil {
		log.Fatal().Err(err).Str("room", bot.Room).Msg("bad room")
	}

	api := seatapi.New(bot.ServerURL, bot.BearerToken, nil)
	actor, err := api.Me(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("resolve bot identity")
	}
	log.Info().Str("identity", actor.Identity).Str("user_id", actor.UserID).Msg("authenticated")

	wsURL, err := syncURL(bot.ServerURL)
	if err != nil {
		log.Fatal().Err(err).Msg("bad server url")
	}
	syncCh, err := wsclient.Dial(ctx, wsURL, wsclient.Options{Bearer: bot.BearerToken, PingPeriod: cfg.Sync.PingPeriod})
	if err != nil {
		log.Fatal().Err(err).Msg("sync channel")
	}
	defer syncCh.Close()

	mc := media.NewClient(cfg.LiveKit.URL, livekit.NewTransport(), api, rtc.NewFileCapturer(bot.VideoFile, bot.AudioFile))
	rs := roster.New(api, room)
	defer rs.Close()

	o := orch.New(mc, rs, syncCh, orch.Options{
		Room:                 room,
		Actor:                actor,
		AutoPublish:          bot.AutoPublish,
		MaxParticipants:      bot.MaxParticipants,
		MaxReconnectAttempts: bot.MaxReconnectAttempts,
		ReconnectBackoff:     bot.ReconnectBackoff,
		SessionRetry:         bot.SessionRetry,
	})
	notices := o.Notices(16)
	if err := o.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start orchestrator")
	}

	go func() {
		for n := range notices.C() {
			log.Warn().Str("kind", string(n.Kind)).Msg(n.Text)
		}
	}()

	if bot.Seat > 0 {
		_, err := o.ClaimSeat(ctx, domain.SeatIndex(bot.Seat))
		switch {
		case errors.Is(err, domain.ErrSeatOccupied):
			log.Warn().Int("seat", bot.Seat).Msg("seat taken, watching only")
		case err != nil:
			log.Error().Err(err).Int("seat", bot.Seat).Msg("claim seat")
		default:
			log.Info().Int("seat", bot.Seat).Msg("on stage")
		}
	} else if err := o.JoinAndPublish(ctx); err != nil {
		log.Error().Err(err).Msg("join room")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer leaveCancel()
	if err := o.LeaveSeat(leaveCtx); err != nil {
		log.Error().Err(err).Msg("leave seat")
	}
	o.Close()
	log.Info().Msg("Bot exited gracefully")
}

// syncURL maps the server base URL onto the sync websocket endpoint.
func syncURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws/sync"
	return u.String(), nil
}
