package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/zhouzirui/z-chat/internal/client/app"
	"github.com/zhouzirui/z-chat/internal/client/push"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

func formatMessage(m chat.Message) string {
	author := m.AuthorName
	if author == "" {
		author = m.AuthorID.String()
	}
	ts := "--:--"
	if !m.CreatedAt.IsZero() {
		ts = m.CreatedAt.Local().Format("15:04")
	}
	return fmt.Sprintf("[%s] %s: %s", ts, author, m.Content)
}

// render prints one controller event.
func render(w io.Writer, ev app.Event) {
	switch ev := ev.(type) {
	case app.ChannelsLoaded:
		names := make([]string, 0, len(ev.Channels))
		for _, ch := range ev.Channels {
			names = append(names, fmt.Sprintf("#%s (%s)", ch.Name, ch.ID))
		}
		fmt.Fprintf(w, "-- channels: %s\n", strings.Join(names, ", "))
	case app.HistoryLoaded:
		fmt.Fprintf(w, "-- #%s, %d messages\n", ev.Channel.Name, len(ev.Messages))
		for _, m := range ev.Messages {
			fmt.Fprintln(w, formatMessage(m))
		}
	case app.Appended:
		fmt.Fprintln(w, formatMessage(ev.Message))
	case app.BackgroundMessage:
		fmt.Fprintf(w, "-- new message in #%s from %s\n", ev.ChannelName, ev.Message.AuthorName)
	case app.ConnectionStateChanged:
		switch ev.State {
		case push.Connected:
			fmt.Fprintln(w, "-- connected")
		case push.Reconnecting:
			fmt.Fprintln(w, "-- connection lost, reconnecting")
		}
	case app.AuthInvalid:
		fmt.Fprintf(w, "-- session ended: %v\n", ev.Reason)
	case app.Notice:
		if ev.Err != nil {
			fmt.Fprintf(w, "-- %s: %v\n", ev.Text, ev.Err)
		} else {
			fmt.Fprintf(w, "-- %s\n", ev.Text)
		}
	}
}

// input is one parsed line typed in tail mode.
type input struct {
	command string // "", "join", "channels", "reload", "quit", "help"
	arg     string
}

func parseInput(line string) input {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return input{arg: line}
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	name = strings.ToLower(name)
	switch name {
	case "join", "channels", "reload", "quit", "help":
		return input{command: name, arg: strings.TrimSpace(arg)}
	case "q", "exit":
		return input{command: "quit"}
	}
	return input{command: "help"}
}

const helpText = `commands:
  /join <channel-id>  switch the active channel
  /channels           list channels
  /reload             reload channels from the server
  /quit               leave
anything else is sent to the active channel`
