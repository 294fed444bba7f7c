package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	vegeta "github.com/tsenart/vegeta/lib"

	"convodb/pkg/api/auth"
)

type benchConfig struct {
	Host        string
	BackendKey  string
	FrontendKey string
	Sender      string
	Peer        string
	RPS         int
	Duration    time.Duration
	BodySize    int
	Pattern     string
}

var benchPatterns = []string{"send", "read", "mixed"}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newBenchCmd() *cobra.Command {
	cfg := benchConfig{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Load-test message send and read against a running server",
		Long: `bench registers two users, opens a direct conversation between them
and then attacks the message endpoints at a constant rate.

Patterns:
  send   POST /v1/conversations/{id}/messages
  read   GET  /v1/conversations/{id}/messages
  mixed  alternates the two`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.Host = strings.TrimRight(envOr("CONVODB_HOST", cfg.Host), "/")
			cfg.BackendKey = envOr("CONVODB_BACKEND_KEY", cfg.BackendKey)
			cfg.FrontendKey = envOr("CONVODB_FRONTEND_KEY", cfg.FrontendKey)
			if err := cfg.validate(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			convID, err := prepareBench(&http.Client{Timeout: 10 * time.Second}, cfg)
			if err != nil {
				return fmt.Errorf("prepare: %w", err)
			}
			fmt.Fprintf(out, "Attacking %s: pattern=%s rate=%d/s duration=%s conversation=%s\n",
				cfg.Host, cfg.Pattern, cfg.RPS, cfg.Duration, convID)

			m := runBench(cfg, convID)
			printBenchReport(out, m)
			if m.Requests > 0 && m.Success == 0 {
				return fmt.Errorf("every request failed: %s", strings.Join(m.Errors, "; "))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Host, "host", "http://localhost:8080", "server base URL (CONVODB_HOST)")
	f.StringVar(&cfg.BackendKey, "backend-key", "", "backend API key; also the signing key (CONVODB_BACKEND_KEY)")
	f.StringVar(&cfg.FrontendKey, "frontend-key", "", "frontend API key (CONVODB_FRONTEND_KEY)")
	f.StringVar(&cfg.Sender, "user", "bench-sender", "external id of the sending user")
	f.StringVar(&cfg.Peer, "peer", "bench-peer", "external id of the other participant")
	f.IntVar(&cfg.RPS, "rps", 100, "requests per second")
	f.DurationVar(&cfg.Duration, "duration", 10*time.Second, "attack duration")
	f.IntVar(&cfg.BodySize, "body-size", 64, "message body size in bytes")
	f.StringVar(&cfg.Pattern, "pattern", "mixed", "one of "+strings.Join(benchPatterns, ", "))
	return cmd
}

func (c benchConfig) validate() error {
	if c.BackendKey == "" || c.FrontendKey == "" {
		return fmt.Errorf("backend and frontend keys are required")
	}
	if c.RPS <= 0 || c.Duration <= 0 {
		return fmt.Errorf("rps and duration must be positive")
	}
	if c.BodySize <= 0 {
		return fmt.Errorf("body-size must be positive")
	}
	if c.Sender == c.Peer {
		return fmt.Errorf("user and peer must differ")
	}
	for _, p := range benchPatterns {
		if p == c.Pattern {
			return nil
		}
	}
	return fmt.Errorf("unknown pattern %q", c.Pattern)
}

// prepareBench upserts both users and opens their direct conversation.
func prepareBench(client *http.Client, cfg benchConfig) (string, error) {
	var peer struct {
		ID string `json:"id"`
	}
	for _, ext := range []string{cfg.Sender, cfg.Peer} {
		body := map[string]string{"external_id": ext, "name": ext}
		if err := benchCall(client, cfg, http.MethodPost, "/v1/users", cfg.BackendKey, "", body, &peer); err != nil {
			return "", fmt.Errorf("upsert %s: %w", ext, err)
		}
	}
	var conv struct {
		ID string `json:"id"`
	}
	body := map[string]string{"user_id": peer.ID}
	if err := benchCall(client, cfg, http.MethodPost, "/v1/conversations", cfg.FrontendKey, cfg.Sender, body, &conv); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return conv.ID, nil
}

func benchCall(client *http.Client, cfg benchConfig, method, path, key, user string, body, dst any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, cfg.Host+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header = benchHeader(cfg, key, user)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.Unmarshal(raw, dst)
}

func benchHeader(cfg benchConfig, key, user string) http.Header {
	h := http.Header{
		"Authorization": {"Bearer " + key},
		"Content-Type":  {"application/json"},
	}
	if user != "" {
		h.Set("X-User-ID", user)
		h.Set("X-User-Signature", auth.CreateHMACSignature(user, cfg.BackendKey))
	}
	return h
}

// benchTargets pre-generates n requests for the configured pattern. Each
// send carries a distinct body.
func benchTargets(cfg benchConfig, convID string, n int) []vegeta.Target {
	url := fmt.Sprintf("%s/v1/conversations/%s/messages", cfg.Host, convID)
	header := benchHeader(cfg, cfg.FrontendKey, cfg.Sender)
	filler := strings.Repeat("x", cfg.BodySize)

	targets := make([]vegeta.Target, 0, n)
	for i := 0; i < n; i++ {
		send := cfg.Pattern == "send" || (cfg.Pattern == "mixed" && i%2 == 0)
		if !send {
			targets = append(targets, vegeta.Target{Method: http.MethodGet, URL: url, Header: header.Clone()})
			continue
		}
		text := fmt.Sprintf("%d:%s", i, filler)[:cfg.BodySize]
		body, _ := json.Marshal(map[string]string{"body": text})
		targets = append(targets, vegeta.Target{Method: http.MethodPost, URL: url, Header: header.Clone(), Body: body})
	}
	return targets
}

func runBench(cfg benchConfig, convID string) *vegeta.Metrics {
	n := cfg.RPS * int(math.Ceil(cfg.Duration.Seconds()))
	targeter := vegeta.NewStaticTargeter(benchTargets(cfg, convID, n)...)
	rate := vegeta.Rate{Freq: cfg.RPS, Per: time.Second}
	attacker := vegeta.NewAttacker(vegeta.Workers(uint64(runtime.NumCPU())))

	m := &vegeta.Metrics{}
	for res := range attacker.Attack(targeter, rate, cfg.Duration, "convodb-"+cfg.Pattern) {
		m.Add(res)
	}
	m.Close()
	return m
}

func printBenchReport(out io.Writer, m *vegeta.Metrics) {
	fmt.Fprintf(out, "\nRequests:   %d (%.1f/s)\n", m.Requests, m.Rate)
	fmt.Fprintf(out, "Success:    %.2f%%\n", m.Success*100)
	fmt.Fprintf(out, "Throughput: %.1f/s\n", m.Throughput)
	fmt.Fprintf(out, "Latency:    mean=%s p50=%s p95=%s p99=%s max=%s\n",
		m.Latencies.Mean, m.Latencies.P50, m.Latencies.P95, m.Latencies.P99, m.Latencies.Max)
	fmt.Fprintf(out, "Bytes:      in=%s out=%s\n",
		humanize.IBytes(m.BytesIn.Total), humanize.IBytes(m.BytesOut.Total))

	codes := make([]string, 0, len(m.StatusCodes))
	for code := range m.StatusCodes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	fmt.Fprint(out, "Status:    ")
	for _, code := range codes {
		fmt.Fprintf(out, " %s=%d", code, m.StatusCodes[code])
	}
	fmt.Fprintln(out)
	for _, e := range m.Errors {
		fmt.Fprintf(out, "Error:      %s\n", e)
	}
}
