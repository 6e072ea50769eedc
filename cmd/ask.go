package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/noorlatif/portfolio-assistant/pkg/assistant"
	"github.com/noorlatif/portfolio-assistant/pkg/catalog"
	"github.com/noorlatif/portfolio-assistant/pkg/config"
	"github.com/spf13/cobra"
)

var (
	askClientConfigPath string
	askServerURL        string
	askProjectID        string
	askContext          string
)

// errTruncated reports an answer that ended without a clean end of stream.
var errTruncated = errors.New("answer truncated by server")

func init() {
	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a running server about a project and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := askServerURL
			if !cmd.Flags().Changed("server") {
				cfg, err := config.LoadClientConfig(askClientConfigPath)
				switch {
				case err == nil:
					base = cfg.ServerURL
				case !errors.Is(err, os.ErrNotExist):
					return fmt.Errorf("load client config: %w", err)
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			c := &askClient{base: strings.TrimRight(base, "/"), http: &http.Client{}}
			q := assistant.Query{
				ProjectID: askProjectID,
				Question:  strings.Join(args, " "),
				Context:   askContext,
			}
			if err := c.ask(ctx, cmd.OutOrStdout(), q); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	askCmd.Flags().StringVar(&askClientConfigPath, "config", config.DefaultClientConfigPath(), "Client config TOML path")
	askCmd.Flags().StringVar(&askServerURL, "server", config.NewDefaultClientConfig().ServerURL, "Assistant server base URL")
	askCmd.Flags().StringVarP(&askProjectID, "project", "p", "", "Project id (see /api/projects)")
	askCmd.Flags().StringVar(&askContext, "context", "", "Project context; fetched from the server when empty")
	_ = askCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(askCmd)
}

type askClient struct {
	base string
	http *http.Client
}

// ask streams the answer to q into out as it arrives.
func (c *askClient) ask(ctx context.Context, out io.Writer, q assistant.Query) error {
	if strings.TrimSpace(q.Context) == "" {
		p, err := c.project(ctx, q.ProjectID)
		if err != nil {
			return err
		}
		q.Context = p.Context
	}
	body, err := json.Marshal(q)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/ai-assistant", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", errTruncated, err)
	}
	return nil
}

func (c *askClient) project(ctx context.Context, id string) (catalog.Project, error) {
	var p catalog.Project
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/projects/"+neturl.PathEscape(id), nil)
	if err != nil {
		return p, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return p, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return p, fmt.Errorf("fetch project %q: %w", id, responseError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return p, fmt.Errorf("decode project %q: %w", id, err)
	}
	return p, nil
}

func responseError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	msg := strings.TrimSpace(string(b))
	if code := resp.Header.Get("X-Error-Code"); code != "" {
		msg = code + ": " + msg
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		msg += " (retry after " + ra + "s)"
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
}
