// Copyright 2024-2026 Aiku AI

// Command chat-federation runs the Matrix federation bridge for a local chat
// server: it receives homeserver events through the appservice API, applies
// them to local state, and performs outbound actions under per-user intents.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/aiku/chat-federation/pkg/federation"
	"github.com/aiku/chat-federation/pkg/matrixgw"
	"github.com/aiku/chat-federation/pkg/store"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	noSaveConfig := flag.Bool("no-update", false, "don't write the upgraded config back")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Starting chat-federation")

	cfg, err := federation.LoadConfig(*configPath, !*noSaveConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	db, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	gateway, err := matrixgw.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize gateway")
	}

	users := store.NewUsers(db)
	rooms := store.NewRooms(db)
	messages := store.NewMessages(db)
	files := store.NewFiles(db, cfg.FileUploadPath)

	resolver := federation.NewResolver(users, gateway, cfg.HomeDomain, log)
	resolver.SetDisplaynameFormatter(cfg.FormatDisplayname)
	adapter := federation.NewMessageAdapter(cfg.HomeDomain)
	notifier := federation.NewTypingNotifier(rooms, users,
		federation.TypingSinkFunc(func(roomID, username string, typing bool) {
			log.Debug().
				Str("room_id", roomID).
				Str("username", username).
				Bool("typing", typing).
				Msg("Typing state changed")
		}), log)

	var queue *federation.Queue
	receiver := federation.NewReceiver(federation.ReceiverParams{
		Rooms:    rooms,
		Users:    users,
		Messages: messages,
		Files:    files,
		Resolver: resolver,
		Adapter:  adapter,
		Notifier: notifier,
		Gateway:  gateway,
		Queue:    queueRef{&queue},

		HomeDomain:  cfg.HomeDomain,
		ServerURL:   cfg.ServerURL,
		MaxFileSize: cfg.MaxFileSizeBytes(),
		Log:         log,
	})
	defer receiver.Close()
	queue = federation.NewQueue(receiver, cfg.QueueWorkers, cfg.EventTimeout(), log)

	listener := matrixgw.NewListener(gateway, queue, notifier, log)
	listener.Start(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	// Intake stops first so the queue drain is bounded.
	listener.Stop()
	queue.Stop()
}

// queueRef defers queue resolution so the receiver can re-enqueue events even
// though the queue is constructed after it.
type queueRef struct {
	q **federation.Queue
}

func (r queueRef) AddToQueue(evt federation.Event) {
	if *r.q != nil {
		(*r.q).AddToQueue(evt)
	}
}
