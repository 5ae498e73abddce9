package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valbows/domo-webhooks/internal/clientstate"
	"github.com/valbows/domo-webhooks/internal/logging"
)

var watchCmd = &cobra.Command{
	Use:   "watch <demo-id>",
	Short: "Subscribe to a demo and print state changes",
	Long: `Subscribe to a demo's realtime channel and print every state change.

Type "close" to dismiss a playing video and "quit" to exit.

Examples:
  # Follow a demo on the local service
  viewer watch 0b3f1c9e-6a1d-4a55-9f7e-1b2c3d4e5f60

  # Follow a demo on another host
  viewer watch --server https://demos.example.com my-demo`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	demoID := args[0]

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(level, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	client := newAPIClient(serverURL)

	session := clientstate.NewSession(demoID,
		clientstate.NewWebsocketSubscriber(serverURL, logger),
		clientstate.WithLogger(logger),
		clientstate.WithOnTransition(func(_, to clientstate.State) {
			printState(out, to)
		}),
		clientstate.WithRefresh(func(ctx context.Context) {
			a, err := client.analytics(ctx, demoID)
			if err != nil {
				logger.Warn("analytics refresh failed", zap.Error(err))
				return
			}
			printAnalytics(out, a)
		}),
	)
	if err := session.Mount(ctx); err != nil {
		return err
	}
	defer session.Unmount()

	fmt.Fprintf(out, "watching %s\n", demoID)
	printState(out, session.State())

	return readCommands(ctx, cmd.InOrStdin(), out, session)
}

// readCommands handles stdin until quit, EOF or ctx is done.
func readCommands(ctx context.Context, in io.Reader, out io.Writer, session *clientstate.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			switch line {
			case "":
			case "close":
				session.Dispatch(ctx, clientstate.ClosePlayer{})
			case "quit", "exit":
				return nil
			default:
				fmt.Fprintf(out, "unknown command %q (close, quit)\n", line)
			}
		}
	}
}

func printState(w io.Writer, s clientstate.State) {
	switch s.Phase {
	case clientstate.PhaseVideoPlaying:
		fmt.Fprintf(w, "[%s] %s\n", s.Phase, s.VideoURL)
	default:
		fmt.Fprintf(w, "[%s]\n", s.Phase)
	}
}
