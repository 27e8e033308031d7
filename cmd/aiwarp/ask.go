package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
	"github.com/Simon-Lind-glitch/ai-warp/sse"
)

var askFlags struct {
	models      []string
	stream      bool
	system      string
	temperature float64
	maxTokens   int
	session     string
}

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send a prompt and print the answer",
	Long: `Send a prompt to the first candidate that answers.

Candidates are tried in order. Without --model the default list from the
config file is used.

Examples:
  aiwarp ask "What is a circuit breaker?"
  aiwarp ask --stream -m ollama:llama3 -m openai:gpt-4o-mini "Hi"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringArrayVarP(&askFlags.models, "model", "m", nil, "provider:model candidate, repeatable, in priority order")
	askCmd.Flags().BoolVarP(&askFlags.stream, "stream", "s", false, "stream the answer")
	askCmd.Flags().StringVar(&askFlags.system, "system", "", "system prompt")
	askCmd.Flags().Float64Var(&askFlags.temperature, "temperature", -1, "sampling temperature (unset when negative)")
	askCmd.Flags().IntVar(&askFlags.maxTokens, "max-tokens", 0, "maximum tokens to generate (unset when 0)")
	askCmd.Flags().StringVar(&askFlags.session, "session", "", "session id sent to the provider")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, logger, err := loadRouter()
	if err != nil {
		return err
	}
	defer router.Close(context.Background())

	req := &aiwarp.Request{
		Prompt: strings.Join(args, " "),
		Models: askFlags.models,
		Options: aiwarp.RequestOptions{
			Context:   askFlags.system,
			Stream:    askFlags.stream,
			SessionID: askFlags.session,
		},
	}
	if askFlags.temperature >= 0 {
		req.Options.Temperature = &askFlags.temperature
	}
	if askFlags.maxTokens > 0 {
		req.Options.MaxTokens = &askFlags.maxTokens
	}

	res, err := router.Request(ctx, req)
	if err != nil {
		return err
	}
	logger.Debug("answered", "candidate", res.Candidate.String())

	out := cmd.OutOrStdout()
	if res.Stream != nil {
		defer res.Stream.Close()
		return printStream(out, res.Stream)
	}
	fmt.Fprintln(out, res.Response.Text)
	if res.Response.Result != aiwarp.ResultComplete {
		fmt.Fprintf(cmd.ErrOrStderr(), "result: %s\n", res.Response.Result)
	}
	return nil
}

// printStream writes content events to w as they arrive. An error event
// becomes the returned error.
func printStream(w io.Writer, r io.Reader) error {
	var dec sse.Decoder
	buf := make([]byte, 4096)
	for {
		n, readErr := r.Read(buf)
		records := dec.Feed(buf[:n])
		if errors.Is(readErr, io.EOF) {
			records = append(records, dec.Flush()...)
		}
		for _, rec := range records {
			done, err := printRecord(w, rec)
			if err != nil || done {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				fmt.Fprintln(w)
				return nil
			}
			return readErr
		}
	}
}

func printRecord(w io.Writer, rec sse.Record) (bool, error) {
	switch aiwarp.EventKind(rec.Event) {
	case aiwarp.EventContent:
		var data aiwarp.ContentData
		if err := json.Unmarshal([]byte(rec.Data), &data); err != nil {
			return true, fmt.Errorf("decode content event: %w", err)
		}
		fmt.Fprint(w, data.Response)
	case aiwarp.EventEnd:
		fmt.Fprintln(w)
		return true, nil
	case aiwarp.EventError:
		var data aiwarp.ErrorData
		if err := json.Unmarshal([]byte(rec.Data), &data); err != nil {
			return true, fmt.Errorf("decode error event: %w", err)
		}
		fmt.Fprintln(w)
		return true, fmt.Errorf("%s: %s", data.Code, data.Message)
	}
	return false, nil
}
