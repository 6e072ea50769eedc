// Package wizard walks an operator through the server config on a terminal.
package wizard

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/noorlatif/portfolio-assistant/pkg/config"
)

// RunServerWizard prompts on out for each setting, reading answers from in.
// An empty answer keeps the current value. The result is validated and saved
// to path.
func RunServerWizard(in io.Reader, out io.Writer, path string, cfg *config.ServerConfig) error {
	w := &prompter{in: bufio.NewScanner(in), out: out}
	fmt.Fprintln(out, "Portfolio assistant server setup")

	cfg.ListenAddr = w.ask("Listen address", cfg.ListenAddr)

	p := &cfg.Provider
	p.Type = w.ask("Provider type (openai/sse)", p.Type)
	p.Name = w.ask("Provider name", p.Name)
	p.BaseURL = w.ask("Provider base URL", p.BaseURL)
	p.Model = w.ask("Model", p.Model)
	p.APIKeyEnv = w.ask("API key environment variable", p.APIKeyEnv)
	p.APIKey = w.ask("API key (blank to read from the environment)", p.APIKey)
	if v, err := strconv.ParseFloat(w.ask("Temperature", strconv.FormatFloat(p.Temperature, 'f', -1, 64)), 64); err == nil {
		p.Temperature = v
	}
	p.PromptMode = w.ask("Prompt mode (single/multi)", p.PromptMode)

	origins := w.ask("Allowed CORS origins (comma-separated)", strings.Join(cfg.CORS.AllowedOrigins, ","))
	cfg.CORS.AllowedOrigins = splitCSV(origins)

	if n, err := strconv.Atoi(w.ask("Requests per client per window", strconv.Itoa(cfg.RateLimit.MaxRequests))); err == nil && n > 0 {
		cfg.RateLimit.MaxRequests = n
	}

	cfg.TLS.Enabled = yes(w.ask("Enable Let's Encrypt TLS? (y/N)", boolStr(cfg.TLS.Enabled)))
	if cfg.TLS.Enabled {
		cfg.TLS.Domain = w.ask("TLS domain", cfg.TLS.Domain)
		cfg.TLS.Email = w.ask("ACME email", cfg.TLS.Email)
		cfg.TLS.CacheDir = w.ask("ACME cache dir", cfg.TLS.CacheDir)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %s\n", path)
	return nil
}

type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func (p *prompter) ask(label, def string) string {
	if def == "" {
		fmt.Fprintf(p.out, "%s: ", label)
	} else {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	}
	if !p.in.Scan() {
		return def
	}
	txt := strings.TrimSpace(p.in.Text())
	if txt == "" {
		return def
	}
	return txt
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func yes(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "y", "yes", "true":
		return true
	}
	return false
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
