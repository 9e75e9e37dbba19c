package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"studychat/internal/app"
	"studychat/internal/chat"
	"studychat/internal/client"
	"studychat/internal/config"
	"studychat/internal/console"
	"studychat/internal/models"
)

var (
	userID      int64
	groupID     int64
	moderator   bool
	username    string
	fullName    string
	chunkSize   int
	downloadDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Terminal participant for a study group chat",
		RunE:  runClient,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().Int64VarP(&userID, "user", "u", 0, "your user id (required)")
	rootCmd.Flags().Int64VarP(&groupID, "group", "g", 0, "study group id (required)")
	rootCmd.Flags().BoolVar(&moderator, "moderator", false, "allow deleting other participants' messages")
	rootCmd.Flags().StringVar(&username, "username", "", "display name stored with your messages")
	rootCmd.Flags().StringVar(&fullName, "full-name", "", "full name stored with your messages")
	rootCmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "file chunk size in bytes (0 picks the largest default that fits CHAT_MAX_LINE)")
	rootCmd.Flags().StringVar(&downloadDir, "download-dir", "", "directory for received files")
	_ = rootCmd.MarkFlagRequired("user")
	_ = rootCmd.MarkFlagRequired("group")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DBDriver == config.DriverMemory {
		log.Printf("warning: memory store is private to this process; history is not shared")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	if username != "" || fullName != "" {
		if err := stores.Users.UpsertUser(ctx, models.UserProfile{ID: userID, Username: username, FullName: fullName}); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
	}

	var term *console.Console
	conn := client.New(func(env models.Envelope) { term.HandleEnvelope(env) }, client.WithMaxLine(cfg.MaxLine))
	session := chat.NewSession(stores.Messages, conn)
	term = console.New(session, conn, cmd.OutOrStdout(), console.Config{
		UserID:      userID,
		GroupID:     groupID,
		Moderator:   moderator,
		ChunkSize:   chunkSize,
		DownloadDir: downloadDir,
	})

	if err := conn.Connect(ctx, cfg.ChatHost, cfg.ChatPort); err != nil {
		return err
	}
	defer conn.Disconnect()

	done := make(chan error, 1)
	go func() { done <- term.Run(ctx, cmd.InOrStdin()) }()

	select {
	case err := <-done:
		return err
	case <-conn.Done():
		return fmt.Errorf("connection to %s closed", cfg.ChatAddr())
	case <-ctx.Done():
		return nil
	}
}
