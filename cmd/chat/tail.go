package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-chat/internal/client/app"
	"github.com/zhouzirui/z-chat/internal/client/history"
	"github.com/zhouzirui/z-chat/internal/client/push"
	"github.com/zhouzirui/z-chat/internal/client/sender"
	"github.com/zhouzirui/z-chat/internal/client/syncerr"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

var errQuit = errors.New("quit")

func newTailCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Follow your channels live and chat from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := e.client(true)
			if err != nil {
				return err
			}

			opts := history.DefaultOptions()
			opts.PageSize = e.cfg.HistoryPageSize
			pushCfg := push.DefaultConfig(e.cfg.PushURL)
			pushCfg.ReconnectDelay = e.cfg.ReconnectDelay
			pushCfg.ReconnectMaxDelay = e.cfg.ReconnectMaxDelay
			pushCfg.Strategy = e.cfg.ReconnectStrategy
			pushCfg.HeartbeatOutgoing = e.cfg.HeartbeatOutgoing
			pushCfg.HeartbeatIncoming = e.cfg.HeartbeatIncoming

			ctrl := app.New(app.Deps{
				Profile:     client,
				History:     history.New(client, opts),
				Push:        push.NewManager(pushCfg),
				Sender:      sender.New(client, nil),
				Credentials: e.holder,
			})

			err = runTail(cmd.Context(), ctrl, cmd.InOrStdin(), cmd.OutOrStdout())
			switch {
			case err == nil, errors.Is(err, errQuit), errors.Is(err, context.Canceled):
				return nil
			case syncerr.IsAuth(err):
				return e.explain(err)
			}
			return err
		},
	}
}

func runTail(ctx context.Context, ctrl *app.Controller, in io.Reader, out io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ctrl.Run(gctx) })

	g.Go(func() error {
		renderLoop(gctx, ctrl.Events(), out)
		return nil
	})

	// The scanner cannot be interrupted, so it lives outside the group.
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := handleLine(gctx, ctrl, out, line); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}

// renderLoop prints events until ctx ends, then prints whatever is still
// buffered so a final AuthInvalid is not lost.
func renderLoop(ctx context.Context, events <-chan app.Event, out io.Writer) {
	for {
		select {
		case ev := <-events:
			render(out, ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-events:
					render(out, ev)
				default:
					return
				}
			}
		}
	}
}

func handleLine(ctx context.Context, ctrl *app.Controller, out io.Writer, line string) error {
	in := parseInput(line)
	switch in.command {
	case "quit":
		return errQuit
	case "help":
		fmt.Fprintln(out, helpText)
	case "join":
		if in.arg == "" {
			fmt.Fprintln(out, "-- usage: /join <channel-id>")
			return nil
		}
		if err := ctrl.Select(ctx, chat.ID(in.arg)); err != nil {
			fmt.Fprintf(out, "-- cannot join %s: %v\n", in.arg, err)
		}
	case "channels":
		chs, err := ctrl.Channels(ctx)
		if err != nil {
			return err
		}
		active, _, _ := ctrl.Active(ctx)
		for _, ch := range chs {
			marker := " "
			if ch.ID == active.ID {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %-6s #%s\n", marker, ch.ID, ch.Name)
		}
	case "reload":
		if err := ctrl.Reload(ctx); err != nil {
			fmt.Fprintf(out, "-- reload failed: %v\n", err)
		}
	default:
		if in.arg == "" {
			return nil
		}
		if ch, ok, _ := ctrl.Active(ctx); ok {
			ctrl.Draft().Set(ch.ID, in.arg)
		}
		if err := ctrl.Send(ctx, in.arg); err != nil {
			if syncerr.IsAuth(err) {
				return err
			}
			fmt.Fprintf(out, "-- not sent: %v\n", err)
		}
	}
	return nil
}
