package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var apiBase string

func main() {
	root := &cobra.Command{
		Use:           "pipectl",
		Short:         "Inspect and nudge the file processing queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", envOr("PIPELINE_API", "http://localhost:8080"), "operator API base URL")

	root.AddCommand(statsCmd(), jobsCmd(), retryCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-state job counts and queue health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body struct {
				Counts map[string]int64 `json:"counts"`
				Health string           `json:"health"`
			}
			if err := getJSON("/queue/stats", nil, &body); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, state := range []string{"waiting", "active", "completed", "failed", "delayed", "total"} {
				fmt.Fprintf(w, "%s\t%d\n", state, body.Counts[state])
			}
			fmt.Fprintf(w, "health\t%s\n", body.Health)
			return w.Flush()
		},
	}
}

func jobsCmd() *cobra.Command {
	var status string
	var offset, limit int64

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs in a given state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body struct {
				Jobs []struct {
					ID           string          `json:"id"`
					Name         string          `json:"name"`
					Data         json.RawMessage `json:"data"`
					Timestamp    time.Time       `json:"timestamp"`
					FailedReason string          `json:"failedReason"`
					AttemptsMade int             `json:"attemptsMade"`
				} `json:"jobs"`
			}
			q := url.Values{}
			q.Set("status", status)
			q.Set("offset", strconv.FormatInt(offset, 10))
			q.Set("limit", strconv.FormatInt(limit, 10))
			if err := getJSON("/queue/jobs", q, &body); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tCREATED\tATTEMPTS\tREASON")
			for _, j := range body.Jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					j.ID, j.Name, j.Timestamp.Format(time.RFC3339), j.AttemptsMade, j.FailedReason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "failed", "job state to list (waiting|active|completed|failed|delayed)")
	cmd.Flags().Int64Var(&offset, "offset", 0, "pagination offset")
	cmd.Flags().Int64Var(&limit, "limit", 50, "page size")
	return cmd
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a failed job back to the waiting queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(apiBase+"/queue/jobs/"+url.PathEscape(args[0])+"/retry", "application/json", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return fmt.Errorf("retry %s: %s", args[0], firstLine(string(msg)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s re-queued\n", args[0])
			return nil
		},
	}
}

func getJSON(path string, query url.Values, out any) error {
	u := apiBase + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := http.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s", path, firstLine(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
