package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"roomsignal/pkg/validation"

	"github.com/spf13/cobra"
)

type roomsOptions struct {
	api     string
	timeout time.Duration
}

func newRoomsCmd(root *rootOptions) *cobra.Command {
	opts := &roomsOptions{}
	cmd := &cobra.Command{
		Use:   "rooms [room-id]",
		Short: "List rooms, or show one room, from the directory API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateURL(opts.api); err != nil {
				return fmt.Errorf("--api: %w", err)
			}
			path := "/api/v1/rooms"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return fetchJSON(ctx, strings.TrimRight(opts.api, "/")+path, root.token, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.api, "api", "http://localhost:3000", "server base URL")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

// fetchJSON GETs target and prints the decoded body. Non-2xx responses are
// returned as errors carrying the server's message.
func fetchJSON(ctx context.Context, target, token string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("invalid response (%s): %w", resp.Status, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %v", resp.Status, body["message"])
	}
	return printJSON(out, body)
}
