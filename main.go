package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"inksprint/server/internal/blob"
	"inksprint/server/internal/config"
	"inksprint/server/internal/httpapi"
	"inksprint/server/internal/mail"
	"inksprint/server/internal/registry"
	"inksprint/server/internal/server"
	"inksprint/server/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// Flags override the environment for the common knobs.
	host := flag.String("host", cfg.Host, "TCP listen host")
	port := flag.Int("port", cfg.Port, "TCP listen port")
	dbPath := flag.String("db", cfg.DBPath, "sqlite database path")
	httpAddr := flag.String("http", cfg.HTTPAddr, "operational HTTP listen address")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()
	cfg.Host, cfg.Port, cfg.DBPath, cfg.HTTPAddr = *host, *port, *dbPath, *httpAddr
	if *debug {
		cfg.LogLevel = "debug"
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	w := os.Stderr
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(w.Fd()),
	}))
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	avatars, err := blob.NewAvatars(cfg.AvatarsDir)
	if err != nil {
		return err
	}

	var mailer mail.Sender
	if cfg.MailConfigured() {
		mailer, err = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return err
		}
	} else {
		log.Warn("smtp not configured, send_code is disabled")
	}

	reg := registry.New()
	srv, err := server.New(server.Deps{
		Store:    st,
		Registry: reg,
		Codes:    registry.NewCodes(),
		Avatars:  avatars,
		Mail:     mailer,
		Log:      log,
	})
	if err != nil {
		return err
	}

	api := httpapi.New(reg, log)
	errCh := make(chan error, 2)
	go func() { errCh <- srv.ListenAndServe(ctx, cfg.ListenAddr()) }()
	go func() { errCh <- api.Start(ctx, cfg.HTTPAddr) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}
