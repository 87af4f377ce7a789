package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"gamechat/internal/client"
	"gamechat/internal/config"
	"gamechat/internal/log"
)

func main() {
	apiURL := flag.String("api", "", "chat server URL (overrides API_URL)")
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		log.L().Fatal().Err(err).Msg("failed to load config")
	}
	if *apiURL != "" {
		cfg.APIURL = config.NormalizeAPIURL(*apiURL)
	}
	log.Init(cfg.Log)
	logger := log.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewHTTPClient(cfg.APIURL)

	// 1. Sign in: restore the saved session or run the code flow
	authenticator := client.NewAuthenticator(api, client.FileStore{Path: cfg.AuthStorePath}, cfg.VerificationPollInterval)
	if err := authenticator.Restore(ctx); err != nil {
		if !errors.Is(err, client.ErrNotLoggedIn) {
			logger.Warn().Err(err).Msg("saved session could not be restored")
		}
		sess, err := authenticator.Login(ctx, func(p client.Prompt) {
			fmt.Printf("Join place %s and enter code %s (expires %s)\n", p.PlaceID, p.Code, p.ExpiresAt.Format(time.Kitchen))
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("login failed")
		}
		fmt.Printf("Signed in as %s (@%s)\n", sess.User.DisplayName, sess.User.Username)
	}
	go authenticator.RunRefresh(ctx, cfg.RefreshInterval)

	// 2. Channel tracking and the message session
	session := client.NewSession(api, authenticator)
	defer session.Close()

	source := client.NewLogSource(cfg.LogsPath)
	tracker := client.NewTracker(source, cfg.ChannelPollInterval)
	session.WithResolver(tracker.Resolver())

	joiner := client.NewAutoJoiner(api, authenticator, func() string { return cfg.JoinMessage })
	defer joiner.Stop()

	printer := newPrinter(session)
	session.OnChange(printer.update)

	tracker.OnChange(func(c client.ChannelChange) {
		session.SetChannel(c.Current)
		fmt.Printf("-- now chatting in %s\n", c.Current)
	})
	tracker.OnChange(joiner.HandleChange)

	session.SetChannel(client.DefaultChannel)
	if err := source.Watch(ctx, func() {
		if _, err := tracker.Refresh(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to sync channel")
		}
	}); err != nil {
		logger.Warn().Err(err).Msg("log watcher unavailable, polling only")
	}
	go tracker.Run(ctx)

	// 3. Read lines from stdin and send them
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text, replyTo := parseLine(line)
			if !session.SendMessage(text, replyTo) {
				if msg := session.SendError(); msg != "" {
					fmt.Println("!", msg)
				}
			}
		}
	}
}

// parseLine accepts "/reply <id> text" for replies.
func parseLine(line string) (string, *string) {
	if rest, ok := strings.CutPrefix(line, "/reply "); ok {
		id, text, found := strings.Cut(strings.TrimSpace(rest), " ")
		if found && id != "" {
			return text, &id
		}
	}
	return line, nil
}

// printer writes each confirmed or failed message once.
type printer struct {
	session *client.Session

	mu      sync.Mutex
	channel string
	printed map[string]client.Status
}

func newPrinter(s *client.Session) *printer {
	return &printer{session: s, printed: make(map[string]client.Status)}
}

func (p *printer) update() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ch := p.session.Channel(); ch != p.channel {
		p.channel = ch
		clear(p.printed)
	}

	for _, m := range p.session.Messages() {
		prev, seen := p.printed[m.ClientID]
		if seen && prev == m.Status {
			continue
		}
		switch m.Status {
		case client.StatusConfirmed:
			reply := ""
			if m.ReplyToID != nil {
				reply = " (reply to " + *m.ReplyToID + ")"
			}
			fmt.Printf("[%s] %s%s: %s\n", m.ID, m.Author.DisplayName, reply, m.Content)
		case client.StatusFailed:
			fmt.Printf("! not sent: %s\n", m.Content)
		}
		p.printed[m.ClientID] = m.Status
	}
}
