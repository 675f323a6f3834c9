// Command flowctl is an operator CLI for a running workflow engine.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var addr string

func main() {
	root := &cobra.Command{
		Use:   "flowctl",
		Short: "Operate a running workflow engine",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "engine base URL")

	runCmd := &cobra.Command{Use: "run", Short: "Inspect workflow runs"}
	runCmd.AddCommand(
		&cobra.Command{
			Use:   "get <run-id>",
			Short: "Show a run with per-step status",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return get("/api/v1/runs/" + args[0])
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List runs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return get("/api/v1/runs")
			},
		},
		&cobra.Command{
			Use:   "cancel <run-id>",
			Short: "Cancel a non-terminal run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return post("/api/v1/runs/"+args[0]+"/cancel", nil)
			},
		},
	)

	var comments string
	decideCmd := &cobra.Command{
		Use:   "decide <run-id> <step-id> <approve|reject>",
		Short: "Resolve an approval gate",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return post("/api/v1/runs/"+args[0]+"/steps/"+args[1]+"/decision", map[string]any{
				"decision": args[2],
				"comments": comments,
			})
		},
	}
	decideCmd.Flags().StringVar(&comments, "comments", "", "reviewer comments")

	eventCmd := &cobra.Command{
		Use:   "event <name>",
		Short: "Emit an event to fire subscribed workflows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return post("/api/v1/events", map[string]any{"name": args[0]})
		},
	}

	defsCmd := &cobra.Command{
		Use:   "definitions",
		Short: "List registered workflow definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return get("/api/v1/definitions")
		},
	}

	root.AddCommand(runCmd, decideCmd, eventCmd, defsCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func get(path string) error {
	resp, err := http.Get(addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return print(resp)
}

func post(path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(addr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return print(resp)
}

func print(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(raw) > 0 {
		var pretty bytes.Buffer
		if json.Indent(&pretty, raw, "", "  ") == nil {
			raw = pretty.Bytes()
		}
		fmt.Println(string(raw))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}
