package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/consumer"
	"github.com/praxislabs/scout/internal/stream"
)

var (
	serverURL string
	threadID  string
)

var rootCmd = &cobra.Command{
	Use:   "scout",
	Short: "Client for the scout research service",
}

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Submit a research query and stream the answer",
	Long: `Submit a research query and stream the answer.

When the workflow pauses for plan review, type "approve" to run the
planned searches, "skip" to finish without searching, or anything else
as feedback to revise the plan.

Examples:
  scout ask "What is the weather in SF?"
  scout ask --thread 6f1c... "And tomorrow?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var stateCmd = &cobra.Command{
	Use:   "state [thread-id]",
	Short: "Print a thread's conversation state",
	Args:  cobra.ExactArgs(1),
	RunE:  runState,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "scout server base URL")
	askCmd.Flags().StringVar(&threadID, "thread", "", "continue an existing thread")
	rootCmd.AddCommand(askCmd, stateCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newConsumer() *consumer.Consumer {
	logger := zap.NewNop()
	return consumer.New(consumer.Config{
		BaseURL: serverURL,
		OnFrame: renderFrame,
	}, logger)
}

// renderFrame prints progress as it streams. Answer deltas print inline;
// everything else gets its own line.
func renderFrame(f stream.Frame) {
	switch f.Type {
	case stream.FrameAnswer:
		if text, err := f.Text(); err == nil {
			fmt.Print(text)
		}
	case stream.FrameStatus, stream.FramePlanningSummary, stream.FramePlannedQuery,
		stream.FrameSummarizationStart, stream.FrameStart:
		if text, err := f.Text(); err == nil {
			fmt.Println(text)
		}
	case stream.FrameSearchResults:
		if results, err := f.SearchResults(); err == nil {
			for _, r := range results {
				fmt.Printf("  • %s (%s)\n", r.Title, r.URL)
			}
		}
	case stream.FrameError:
		if text, err := f.Text(); err == nil {
			fmt.Fprintln(os.Stderr, text)
		}
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	c := newConsumer()
	ctx := cmd.Context()

	if threadID != "" {
		if err := c.Attach(ctx, threadID); err != nil {
			return err
		}
	} else {
		id, err := c.CreateThread(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("thread: %s\n", id)
	}

	if err := c.Ask(ctx, query); err != nil {
		return err
	}

	// Review loop: the workflow may pause more than once when feedback
	// produces a revised plan.
	stdin := bufio.NewScanner(os.Stdin)
	for {
		conv := c.Conversation()
		if !conv.AwaitingFeedback {
			break
		}
		fmt.Printf("\n%s\n", conv.ReviewPrompt.Prompt)
		for i, q := range conv.ReviewPrompt.PlannedQueries {
			fmt.Printf("  %d. %s\n", i+1, q)
		}
		fmt.Print("review> ")
		if !stdin.Scan() {
			return nil
		}
		var err error
		switch input := strings.TrimSpace(stdin.Text()); input {
		case "approve":
			err = c.Approve(ctx)
		case "skip":
			err = c.Skip(ctx)
		case "":
			continue
		default:
			err = c.SendFeedback(ctx, input)
		}
		if err != nil {
			return err
		}
	}

	fmt.Println()
	if conv := c.Conversation(); conv.LastError != "" {
		return fmt.Errorf("%s", conv.LastError)
	}
	return nil
}

func runState(cmd *cobra.Command, args []string) error {
	c := newConsumer()
	if err := c.Attach(cmd.Context(), args[0]); err != nil {
		return err
	}
	conv := c.Conversation()
	fmt.Printf("stage: %s\n", conv.Stage)
	for _, m := range conv.Messages {
		switch m.Role {
		case "tool":
			fmt.Printf("[tool] %s\n", m.Content)
		default:
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}
	}
	if len(conv.SearchResults) > 0 {
		fmt.Println("sources:")
		for _, r := range conv.SearchResults {
			fmt.Printf("  • %s (%s)\n", r.Title, r.URL)
		}
	}
	return nil
}
