package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	arena "github.com/putto11262002/arena/app"
	"github.com/putto11262002/arena/core"
	"github.com/putto11262002/arena/pkg/conversation"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "arena",
		Short:        "Real-time conversation rooms organized by topic",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), tokenCmd(), joinCmd())
	return root
}

func loadConfig(envFile string) (*arena.Config, error) {
	loader := &arena.DotEnvConfigLoader{}
	if envFile != "" {
		loader.Files = []string{envFile}
	}
	config, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.New(arena.FormatValidationErrors(err))
	}
	return config, nil
}

func serveCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the conversation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(envFile)
			if err != nil {
				return err
			}
			app, err := arena.New(nil, config)
			if err != nil {
				return err
			}
			return app.Start()
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load before the environment (default .env)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "token <uid>",
		Short: "Issue an access token for uid signed with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(envFile)
			if err != nil {
				return err
			}
			token, exp, err := core.NewToken(args[0], config.Auth.TokenTTL, config.Auth.Secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", exp.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load before the environment (default .env)")
	return cmd
}

func joinCmd() *cobra.Command {
	var (
		uid   string
		token string
		topic int
	)
	cmd := &cobra.Command{
		Use:   "join <roomID>",
		Short: "Join a room, print live messages and send every line read from stdin",
		Long: "Join a room, print live messages and send every line read from stdin.\n" +
			"The server is read from " + conversation.ServerURLEnv + ".",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return join(ctx, cmd, args[0], uid, token, topic)
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "user id the token was issued for")
	cmd.Flags().StringVar(&token, "token", os.Getenv("ARENA_TOKEN"), "access token (default $ARENA_TOKEN)")
	cmd.Flags().IntVar(&topic, "topic", core.IntroductionTopicIndex, "topic index to send to, -1 is the introduction")
	cmd.MarkFlagRequired("uid")
	return cmd
}

func join(ctx context.Context, cmd *cobra.Command, roomID, uid, token string, topic int) error {
	logger := arena.NewLogger(slog.LevelWarn)
	out := cmd.OutOrStdout()

	base, err := conversation.ServerURLFromEnv()
	if err != nil {
		return err
	}
	streamURL, err := conversation.StreamURL(base)
	if err != nil {
		return err
	}
	api := conversation.NewClient(conversation.APIURL(base), conversation.WithBearerToken(token))
	room, err := api.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	transport, err := conversation.NewTransport(streamURL,
		conversation.WithToken(token), conversation.WithTransportLogger(logger))
	if err != nil {
		return err
	}
	defer transport.Close()

	session, err := conversation.NewSession(conversation.SessionConfig{
		Room:      room,
		UserID:    uid,
		Transport: transport,
		API:       api,
		Logger:    logger,
		OnMessage: func(m core.MessageReceive) {
			label, _ := room.TopicLabel(m.TopicIndex)
			fmt.Fprintf(out, "[%s] %s: %s\n", label, m.Sender.UID, m.Content)
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()
	if err := session.Topics.SelectTopic(topic); err != nil {
		return err
	}
	if err := session.Start(ctx); err != nil {
		return err
	}
	for _, m := range session.Messages() {
		fmt.Fprintf(out, "%s: %s\n", m.Sender.UID, m.Content)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			session.Composer.SetContent(line)
			if err := session.Send(); err != nil && !errors.Is(err, conversation.ErrEmptyDraft) {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
		}
	}
}
