package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-chat/internal/client/history"
	"github.com/zhouzirui/z-chat/internal/client/sender"
	"github.com/zhouzirui/z-chat/internal/client/session"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

func newLoginCmd(e *env) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and store the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.Wrap(err, "read password")
				}
				password = strings.TrimRight(line, "\r\n")
			}

			client, err := e.client(false)
			if err != nil {
				return err
			}
			token, err := client.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			e.holder.Set(session.Session{Token: token, Username: args[0], APIURL: client.BaseURL()})

			profile, err := client.Me(cmd.Context())
			if err != nil {
				return err
			}
			e.holder.SetUser(profile.ID, profile.Username)
			if err := e.holder.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%d channels)\n", profile.Username, len(profile.Channels))
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when empty)")
	return cmd
}

func newLogoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := e.client(true)
			if err != nil {
				return err
			}
			if err := client.Logout(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "server logout failed: %v\n", err)
			}
			if err := e.holder.Remove(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newChannelsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List the channels you belong to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := e.client(true)
			if err != nil {
				return err
			}
			profile, err := client.Me(cmd.Context())
			if err != nil {
				return e.explain(err)
			}
			out := cmd.OutOrStdout()
			for _, ch := range profile.Channels {
				fmt.Fprintf(out, "%-6s #%s\n", ch.ID, ch.Name)
			}
			return nil
		},
	}
}

func newHistoryCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "history <channel-id>",
		Short: "Print a channel's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := e.client(true)
			if err != nil {
				return err
			}
			opts := history.DefaultOptions()
			opts.PageSize = e.cfg.HistoryPageSize
			msgs, err := history.New(client, opts).Fetch(cmd.Context(), chat.ID(args[0]))
			if err != nil {
				return e.explain(err)
			}
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				fmt.Fprintln(out, formatMessage(m))
			}
			return nil
		},
	}
}

func newSendCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "send <channel-id> <text>...",
		Short: "Post a message to a channel",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := e.client(true)
			if err != nil {
				return err
			}
			content := strings.Join(args[1:], " ")
			if err := sender.New(client, nil).Send(cmd.Context(), chat.ID(args[0]), content); err != nil {
				return e.explain(err)
			}
			return nil
		},
	}
}
