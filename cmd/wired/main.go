package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aeolun/wired/pkg/client"
	"github.com/aeolun/wired/pkg/logging"
	"github.com/aeolun/wired/pkg/protocol"
	"github.com/aeolun/wired/pkg/spec"
)

func main() {
	configPath := flag.String("config", getEnvOrDefault("WIRED_CONFIG", client.DefaultConfigPath), "Config file path (env: WIRED_CONFIG)")
	chatID := flag.Uint("chat", 0, "Join this chat after login (1 is the public chat, 0 joins none)")
	say := flag.String("say", "", "Say this in the joined chat")
	quit := flag.Bool("quit", false, "Disconnect once the chat message has been sent")
	logLevel := flag.String("log-level", getEnvOrDefault("WIRED_LOG_LEVEL", "warn"), "Log level: debug, info, warn, error")
	jsonLogs := flag.Bool("json", false, "Log JSON instead of console output")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] wired://[user[:password]@]host[:port]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if *say != "" && *chatID == 0 {
		fmt.Fprintln(os.Stderr, "-say requires -chat")
		os.Exit(2)
	}
	target := flag.Arg(0)

	logger := logging.New("wired", *logLevel, !*jsonLogs)
	verbose := logger.GetLevel() <= zerolog.DebugLevel

	config, err := client.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
	}

	catalog, err := loadCatalog(config.Client.Spec)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load protocol specification")
	}

	opts, err := config.SessionOptions()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	opts = append(opts, client.WithLogger(logger))

	if config.Client.StatePath != "" {
		path, err := client.ExpandPath(config.Client.StatePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid state path")
		}
		state, err := client.OpenState(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Failed to open state")
		}
		defer state.Close()
		opts = append(opts, client.WithState(state))
	}

	session := client.NewSession(catalog, opts...)
	observer := client.NewChannelObserver(64)
	session.Subscribe(observer)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = session.Connect(ctx, target)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connect failed: %v\n", err)
		os.Exit(1)
	}

	printServerInfo(session)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	joined := make(chan error, 1)
	if *chatID != 0 {
		if err := joinChat(session, uint32(*chatID), joined); err != nil {
			fmt.Fprintf(os.Stderr, "Join failed: %v\n", err)
			go session.Disconnect()
		}
	}

	// Disconnect blocks until OnDisconnected is delivered, so it never runs
	// on this loop.
	said := make(chan error, 1)
	for {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Disconnecting")
			go session.Disconnect()

		case err := <-joined:
			if err != nil {
				fmt.Fprintf(os.Stderr, "Join failed: %v\n", err)
				go session.Disconnect()
				continue
			}
			fmt.Printf("Joined chat %d\n", *chatID)
			if *say != "" {
				if err := sayInChat(session, uint32(*chatID), *say, said); err != nil {
					fmt.Fprintf(os.Stderr, "Say failed: %v\n", err)
				}
			}

		case err := <-said:
			if err != nil {
				fmt.Fprintf(os.Stderr, "Say failed: %v\n", err)
			}
			if *quit {
				go session.Disconnect()
			}

		case ev := <-observer.Events():
			if done := printEvent(ev, verbose); done {
				if ev.Err != nil {
					os.Exit(1)
				}
				return
			}
		}
	}
}

func loadCatalog(source string) (*spec.Catalog, error) {
	if source != "" {
		path, err := client.ExpandPath(source)
		if err != nil {
			return nil, err
		}
		source = path
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return spec.LoadSource(ctx, source)
}

func printServerInfo(s *client.Session) {
	info, ok := s.ServerInfo()
	if !ok {
		return
	}
	fmt.Printf("Connected to %s (%s %s)\n", info.Name, info.Application.Name, info.Application.Version)
	if info.Description != "" {
		fmt.Printf("  %s\n", info.Description)
	}
	if !info.StartTime.IsZero() {
		fmt.Printf("  up since %s\n", info.StartTime.Format(time.RFC1123))
	}
	if id, ok := s.UserID(); ok {
		fmt.Printf("  user id %d\n", id)
	}

	var granted []string
	for _, name := range s.Catalog().Privileges() {
		if s.Privileges().Has(name) {
			granted = append(granted, strings.TrimPrefix(name, "wired.account."))
		}
	}
	if len(granted) > 0 {
		fmt.Printf("  privileges: %s\n", strings.Join(granted, ", "))
	}
}

// printEvent writes ev to stdout and reports whether the session has ended.
// Sent messages are only echoed when verbose.
func printEvent(ev client.Event, verbose bool) bool {
	switch ev.Type {
	case client.EventDisconnected:
		if ev.Err != nil {
			fmt.Printf("Disconnected: %v\n", ev.Err)
		} else {
			fmt.Println("Disconnected")
		}
		return true

	case client.EventMessage:
		printMessage(ev.Message)

	case client.EventError:
		fmt.Println(client.ServerErrorFromMessage(ev.Message))

	case client.EventSpecError:
		fmt.Printf("Unreadable message: %v\n", ev.Err)

	case client.EventSent:
		if verbose {
			fmt.Printf("> %s\n", ev.Message.Describe())
		}
	}
	return false
}

func printMessage(m *protocol.Message) {
	switch m.Name() {
	case "wired.chat.say":
		id, _ := m.Uint32("wired.user.id")
		text, _ := m.String("wired.chat.say")
		fmt.Printf("<%d> %s\n", id, text)
	case "wired.chat.me":
		id, _ := m.Uint32("wired.user.id")
		text, _ := m.String("wired.chat.me")
		fmt.Printf("* %d %s\n", id, text)
	case "wired.send_ping", "wired.chat.user_list", "wired.chat.user_list.done", "wired.okay":
	default:
		fmt.Printf("< %s\n", m.Describe())
	}
}

func joinChat(s *client.Session, chatID uint32, done chan<- error) error {
	m, err := protocol.NewMessage(s.Catalog(), "wired.chat.join_chat")
	if err != nil {
		return err
	}
	if err := m.Set("wired.chat.id", chatID); err != nil {
		return err
	}
	return s.SendTransaction(m,
		func(m *protocol.Message) {
			if m.Name() == "wired.chat.user_list" {
				user := client.ParseUserInfo(m)
				fmt.Printf("  %s\n", user.DisplayName())
			}
		},
		func(_ *protocol.Message, err error) { done <- err },
	)
}

func sayInChat(s *client.Session, chatID uint32, text string, done chan<- error) error {
	m, err := protocol.NewMessage(s.Catalog(), "wired.chat.send_say")
	if err != nil {
		return err
	}
	m.MustSet("wired.chat.id", chatID).MustSet("wired.chat.say", text)
	return s.SendTransaction(m, nil, func(_ *protocol.Message, err error) { done <- err })
}

func getEnvOrDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
