package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/npezzotti/go-readroom/internal/client"
	"github.com/npezzotti/go-readroom/internal/config"
)

var (
	configPath string
	tokenFile  string
	serverURL  string
	debug      bool
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&tokenFile, "token-file", "", "file holding the access token (overrides config)")
	flag.StringVar(&serverURL, "server", "", "server base URL (overrides config)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	cfg, err := config.LoadClient(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	if tokenFile != "" {
		cfg.TokenFile = tokenFile
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}

	token, err := config.LoadToken(cfg.TokenFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("token")
	}

	sess, err := client.NewSession(token)
	if err != nil {
		logger.Fatal().Err(err).Msg("session")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := client.NewAPIClient(cfg.ServerURL, sess, cfg.HistoryLimit)
	conn := client.NewConnManager(sess, cfg.WebsocketURL(), logger)

	ctrl := client.NewController(client.ControllerConfig{
		Session:  sess,
		Channel:  conn,
		Rooms:    api,
		History:  api,
		Audio:    api,
		Chapters: api,
		Player:   newLogPlayer(logger),
		Listener: &printer{out: os.Stdout},
		Logger:   logger,
	})

	r := &repl{ctrl: ctrl, out: os.Stdout}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintln(os.Stdout, "type 'help' for commands")
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case line, ok := <-lines:
			if !ok {
				r.shutdown()
				return
			}
			if !r.exec(ctx, line) {
				r.shutdown()
				return
			}
		}
	}
}
