// councilctl is a small client for the relay server. Its ask command
// records the request id locally before waiting, so an interrupted ask
// can be picked up later with resume.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"llm-council-relay/internal/recovery"
	"llm-council-relay/internal/store"
)

type cli struct {
	relayURL string
	dataDir  string
	tier     string
	timeout  time.Duration
}

type synthesis struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

func main() {
	c := &cli{}

	root := &cobra.Command{
		Use:   "councilctl",
		Short: "Query an LLM council through a relay server",
	}
	root.PersistentFlags().StringVar(&c.relayURL, "relay", "http://localhost:8787", "relay server base URL")
	root.PersistentFlags().StringVar(&c.dataDir, "data-dir", defaultDataDir(), "directory for local state")

	ask := &cobra.Command{
		Use:   "ask [query]",
		Short: "Run a council query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ask(cmd.Context(), args[0])
		},
	}
	ask.Flags().StringVar(&c.tier, "tier", "", "model tier (pro or normal)")
	ask.Flags().DurationVar(&c.timeout, "timeout", 2*time.Minute, "how long to wait for the answer")

	resume := &cobra.Command{
		Use:   "resume",
		Short: "Pick up a run that was interrupted mid-wait",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.resume(cmd.Context())
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show relay health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.status(cmd.Context())
		},
	}

	root.AddCommand(ask, resume, status)

	if err := root.Execute(); err != nil {
		log.Printf("councilctl: %v", err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".councilctl"
	}
	return filepath.Join(home, ".councilctl")
}

func (c *cli) tracker() (*recovery.Tracker, error) {
	kv, err := store.NewFileKV(c.dataDir)
	if err != nil {
		return nil, err
	}
	return recovery.NewTracker(kv), nil
}

// ask dispatches the query and waits. The request id is persisted before
// the wait starts; on clean completion it is cleared again.
func (c *cli) ask(ctx context.Context, query string) error {
	tracker, err := c.tracker()
	if err != nil {
		return err
	}

	body, _ := json.Marshal(map[string]interface{}{
		"query":   query,
		"tier":    c.tier,
		"timeout": c.timeout.Milliseconds(),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: c.timeout + 30*time.Second}
	resp, err := client.Do(req)
	if err != nil {
		// The request may have been dispatched before the connection died.
		// Stash whatever the relay thinks is active so resume can finish.
		fmt.Fprintln(os.Stderr, "connection lost, checking for an active run...")
		poller := recovery.NewPoller(c.relayURL, nil, 0)
		id, aerr := poller.ActiveRequestID(ctx)
		if aerr != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if serr := tracker.Save(ctx, recovery.PendingRecord{RequestID: id, Query: query}); serr != nil {
			return serr
		}
		fmt.Printf("run %s is still in progress, finish it with: councilctl resume\n", id)
		return nil
	}
	defer resp.Body.Close()

	var result struct {
		Success   bool        `json:"success"`
		RequestID string      `json:"requestId"`
		Error     string      `json:"error"`
		ErrorCode string      `json:"errorCode"`
		Stage3    []synthesis `json:"stage3"`
		Duration  int64       `json:"duration"`
	}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("unexpected relay response: %s", data)
	}

	if result.ErrorCode == "TIMEOUT" && result.RequestID != "" {
		if err := tracker.Save(ctx, recovery.PendingRecord{RequestID: result.RequestID, Query: query}); err != nil {
			return err
		}
		fmt.Printf("run %s is still in progress, finish it with: councilctl resume\n", result.RequestID)
		return nil
	}
	if !result.Success {
		return fmt.Errorf("council run failed: %s", result.Error)
	}

	_ = tracker.Clear(ctx)
	printStage3(result.Stage3, result.Duration)
	return nil
}

// resume finds the pending run, locally stashed or still active on the
// relay, and polls it to completion.
func (c *cli) resume(ctx context.Context) error {
	tracker, err := c.tracker()
	if err != nil {
		return err
	}
	poller := recovery.NewPoller(c.relayURL, nil, 0)

	requestID := ""
	if rec, err := tracker.Load(ctx); err == nil {
		requestID = rec.RequestID
		fmt.Printf("resuming run %s (%q)\n", rec.RequestID, rec.Query)
	} else if !errors.Is(err, recovery.ErrNoPending) {
		return err
	}

	if requestID == "" {
		id, err := poller.ActiveRequestID(ctx)
		if err != nil {
			if errors.Is(err, recovery.ErrNoPending) {
				fmt.Println("nothing to resume")
				return nil
			}
			return err
		}
		requestID = id
		fmt.Printf("resuming active run %s\n", id)
	}

	rec, err := poller.Wait(ctx, requestID)
	if err != nil {
		return err
	}

	_ = tracker.Clear(ctx)

	if rec.Status == store.StatusError {
		return fmt.Errorf("council run failed: %s", rec.Error)
	}

	out := make([]synthesis, 0, len(rec.Stage3))
	for _, s := range rec.Stage3 {
		out = append(out, synthesis{Model: s.Model, Response: s.Response})
	}
	printStage3(out, rec.Duration)
	return nil
}

func (c *cli) status(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.relayURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	fmt.Println(string(data))
	return nil
}

func printStage3(stage3 []synthesis, duration int64) {
	if len(stage3) == 0 {
		fmt.Println("no synthesis returned")
		return
	}
	for _, s := range stage3 {
		fmt.Printf("=== %s ===\n%s\n", s.Model, s.Response)
	}
	if duration > 0 {
		fmt.Printf("(completed in %.1fs)\n", float64(duration)/1000)
	}
}
