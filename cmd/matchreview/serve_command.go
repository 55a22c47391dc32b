package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"matchreview/internal/control"
	"matchreview/internal/deeplink"
	"matchreview/internal/logging"
	"matchreview/internal/preflight"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local activation server for matchreview:// links",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			bind = firstNonEmpty(bind, cfg.Control.Bind)

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if check := preflight.CheckBackend(runCtx, cfg.Backend.BaseURL); !check.Passed {
				return fmt.Errorf("backend not ready: %s", check.Detail)
			}

			ws, err := ctx.newWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			if req, err := ctx.projectRequest(runCtx, ws.journal); err == nil {
				if err := ws.session.Open(runCtx, req); err != nil {
					logging.WarnWithContext(ws.logger, "could not reopen last project", "serve_reopen_failed",
						logging.String("root", req.Root),
						logging.Error(err),
						logging.String(logging.FieldImpact, "server starts with no project loaded"))
				}
			}

			srv, err := control.NewServer(ws.session, cfg.LockPath(), ws.logger)
			if err != nil {
				return err
			}
			if err := srv.Start(runCtx, bind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s (Ctrl+C to stop)\n", srv.Addr())

			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (defaults to [control] bind)")
	return cmd
}

func newOpenURLCommand(ctx *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "open-url <link>",
		Short: "Hand a matchreview:// link to the running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := deeplink.Parse(args[0]); err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			addr = firstNonEmpty(addr, cfg.Control.Bind)
			status, err := activate(cmd.Context(), addr, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Opened %s (%d segments)\n", status.Root, status.Segments)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Server address (defaults to [control] bind)")
	return cmd
}

func activate(ctx context.Context, addr, link string) (control.StatusResponse, error) {
	body, err := json.Marshal(control.ActivateRequest{URL: link})
	if err != nil {
		return control.StatusResponse{}, err
	}
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(base, "/")+"/activate", bytes.NewReader(body))
	if err != nil {
		return control.StatusResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return control.StatusResponse{}, fmt.Errorf("connect to server at %s: %w; start it with `matchreview serve`", addr, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return control.StatusResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			return control.StatusResponse{}, errors.New(apiErr.Error)
		}
		return control.StatusResponse{}, fmt.Errorf("server returned %s", resp.Status)
	}
	var status control.StatusResponse
	if err := json.Unmarshal(payload, &status); err != nil {
		return control.StatusResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return status, nil
}
