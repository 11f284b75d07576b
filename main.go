package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/keygrove/keyserver/internal/config"
	"github.com/keygrove/keyserver/internal/logging"
	"github.com/keygrove/keyserver/internal/mail"
	"github.com/keygrove/keyserver/internal/pgpkey"
	"github.com/keygrove/keyserver/internal/pubkey"
	"github.com/keygrove/keyserver/internal/server"
	"github.com/keygrove/keyserver/internal/storage"
)

var (
	debugMode   = flag.Bool("debug", false, "Enable debug logging")
	consoleLogs = flag.Bool("console", false, "Pretty-print logs instead of JSON")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	err = logging.Init(logging.Config{
		Debug:      *debugMode || cfg.Debug,
		Console:    *consoleLogs,
		SyslogHost: cfg.Syslog.Host,
		SyslogPort: cfg.Syslog.Port,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}
	log := logging.WithComponent("main")

	db, err := storage.Connect(cfg.Mongo)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer db.Close()

	store := storage.NewPublicKeys(db)
	if err := store.EnsureIndexes(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create indexes")
	}

	var purifier *pgpkey.Purifier
	if cfg.Purify.PurifyKey {
		purifier = pgpkey.NewPurifier(pgpkey.Bounds{
			MaxNumUserEmail: cfg.Purify.MaxNumUserEmail,
			MaxNumSubkey:    cfg.Purify.MaxNumSubkey,
			MaxNumCert:      cfg.Purify.MaxNumCert,
			MaxSizeUserID:   cfg.Purify.MaxSizeUserID,
			MaxSizePacket:   cfg.Purify.MaxSizePacket,
			MaxSizeKey:      cfg.Purify.MaxSizeKey,
		})
	}
	codec := pgpkey.NewCodec(purifier)

	transport := mail.NewTransport(cfg.Email)
	mailer := mail.NewMailer(cfg.Email, transport)

	svc := pubkey.NewService(store, codec, mailer, pubkey.Options{
		PurgeTimeInDays: cfg.PublicKey.PurgeTimeInDays,
		UploadRateLimit: cfg.PublicKey.UploadRateLimit,
		PGPEncryption:   cfg.Email.PGP,
	})

	srv, err := server.New(cfg.Server, svc, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up HTTP server")
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Key server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
}
