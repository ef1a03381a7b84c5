package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/rickgao/sns-ws/internal/chat"
	"github.com/rickgao/sns-ws/internal/notification"
)

func runChat(c *cli.Context) error {
	circleID := c.Args().First()
	if circleID == "" {
		return errors.New("chat: circle id is required")
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.registry.Teardown()

	ctx, stop := signalContext(c.Context)
	defer stop()

	room := chat.NewRoom(a.registry, circleID, a.logger)
	room.OnMessage(func(m chat.Message) {
		fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Username, m.Text)
	})

	joinCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ConnectTimeout*2)
	err = room.Join(joinCtx, a.cfg.Server.Username)
	cancel()
	if err != nil {
		return err
	}
	defer room.Leave()

	fmt.Fprintf(os.Stdout, "joined %s, type /quit to leave\n", room.Key())

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !room.SendMessage(line) {
				fmt.Fprintln(os.Stderr, "not sent:", room.LastError())
			}
			room.SendStopTyping()
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func runNotifications(c *cli.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.registry.Teardown()

	ctx, stop := signalContext(c.Context)
	defer stop()

	feed := notification.NewFeed(a.registry, 100, a.logger)
	feed.OnNotification(func(n notification.Notification) {
		fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", n.Timestamp.Format("2006-01-02 15:04"), n.CircleName, n.Message)
	})

	subCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ConnectTimeout*2)
	err = feed.Subscribe(subCtx, a.cfg.Server.Username)
	cancel()
	if err != nil {
		return err
	}
	defer feed.Unsubscribe()

	<-ctx.Done()
	return nil
}
