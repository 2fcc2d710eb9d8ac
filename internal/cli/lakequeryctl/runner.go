// Package lakequeryctl implements the lakequery command line client.
package lakequeryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type Options struct {
	BaseURL      string
	APIKey       string
	TenantID     string
	Timeout      time.Duration
	PollInterval time.Duration
	HTTPClient   *http.Client
	Stdout       io.Writer
	Stderr       io.Writer
}

type client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	tenantID string
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("lakequeryctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "lakequery API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	tenantID := fs.String("tenant-id", defaults.TenantID, "Tenant ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	httpClient := defaults.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: *timeout}
	}
	c := &client{
		http:     httpClient,
		baseURL:  strings.TrimRight(*baseURL, "/"),
		apiKey:   strings.TrimSpace(*apiKey),
		tenantID: strings.TrimSpace(*tenantID),
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	var (
		code int
		body []byte
		err  error
	)
	switch command {
	case "health":
		code, body, err = c.do(ctx, http.MethodGet, "/v1/health", nil)
	case "ready":
		code, body, err = c.do(ctx, http.MethodGet, "/v1/ready", nil)
	case "janitor-run":
		code, body, err = c.do(ctx, http.MethodPost, "/v1/janitor/run", nil)
	case "status":
		if len(rest) != 1 || strings.TrimSpace(rest[0]) == "" {
			_, _ = fmt.Fprintln(stderr, "usage: lakequeryctl status <request_id>")
			return 2
		}
		code, body, err = c.do(ctx, http.MethodGet, "/v1/query/"+url.PathEscape(rest[0]), nil)
	case "submit":
		request, ok := parseQueryFlags("submit", rest, stderr, nil)
		if !ok {
			return 2
		}
		code, body, err = c.submit(ctx, request)
	case "fetch":
		var output, format string
		var poll, maxWait time.Duration
		request, ok := parseQueryFlags("fetch", rest, stderr, func(sub *flag.FlagSet) {
			sub.StringVar(&output, "output", "", "file the result is written to (required)")
			sub.StringVar(&format, "format", "parquet", "result format: parquet or json")
			sub.DurationVar(&poll, "poll-interval", durationOr(defaults.PollInterval, 2*time.Second), "delay between result polls")
			sub.DurationVar(&maxWait, "max-wait", 10*time.Minute, "give up after this long")
		})
		if !ok {
			return 2
		}
		if strings.TrimSpace(output) == "" || (format != "parquet" && format != "json") {
			_, _ = fmt.Fprintln(stderr, "fetch requires -output and -format parquet|json")
			return 2
		}
		return c.fetch(ctx, request, fetchOptions{output: output, format: format, poll: poll, maxWait: maxWait}, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	return report(code, body, err, stdout, stderr)
}

type queryRequest struct {
	Query     string `json:"query"`
	TablePath string `json:"table_path,omitempty"`
}

// parseQueryFlags parses -query and -table-path plus any extra flags
// registered by extra.
func parseQueryFlags(name string, args []string, stderr io.Writer, extra func(*flag.FlagSet)) (queryRequest, bool) {
	sub := flag.NewFlagSet(name, flag.ContinueOnError)
	sub.SetOutput(stderr)
	var request queryRequest
	sub.StringVar(&request.Query, "query", "", "SQL query to run (required)")
	sub.StringVar(&request.TablePath, "table-path", "", "s3:// URI backing the table named in the query")
	if extra != nil {
		extra(sub)
	}
	if err := sub.Parse(args); err != nil {
		return queryRequest{}, false
	}
	if strings.TrimSpace(request.Query) == "" {
		_, _ = fmt.Fprintf(stderr, "%s requires -query\n", name)
		return queryRequest{}, false
	}
	return request, true
}

func (c *client) submit(ctx context.Context, request queryRequest) (int, []byte, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return 0, nil, err
	}
	return c.do(ctx, http.MethodPost, "/v1/query", payload)
}

type fetchOptions struct {
	output  string
	format  string
	poll    time.Duration
	maxWait time.Duration
}

type submitted struct {
	RequestID     string `json:"request_id"`
	ResultParquet string `json:"result_parquet"`
	ResultJSON    string `json:"result_json"`
}

type jobStatus struct {
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// fetch submits the query, then polls the presigned result URL until it
// serves a non-empty object and writes that object to the output file. The
// job status is checked between polls so a failed job ends the wait.
func (c *client) fetch(ctx context.Context, request queryRequest, opts fetchOptions, stdout, stderr io.Writer) int {
	code, body, err := c.submit(ctx, request)
	if err != nil || code >= 400 {
		return report(code, body, err, stdout, stderr)
	}
	var accepted submitted
	if err := json.Unmarshal(body, &accepted); err != nil {
		_, _ = fmt.Fprintf(stderr, "decode submit response: %v\n", err)
		return 1
	}
	resultURL := accepted.ResultParquet
	if opts.format == "json" {
		resultURL = accepted.ResultJSON
	}
	_, _ = fmt.Fprintf(stderr, "submitted %s, waiting for result\n", accepted.RequestID)

	waitCtx, cancel := context.WithTimeout(ctx, opts.maxWait)
	defer cancel()
	ticker := time.NewTicker(opts.poll)
	defer ticker.Stop()

	for {
		data, ready, err := c.download(waitCtx, resultURL)
		if err != nil && waitCtx.Err() == nil {
			_, _ = fmt.Fprintf(stderr, "poll result: %v\n", err)
		}
		if ready {
			if err := os.WriteFile(opts.output, data, 0o644); err != nil {
				_, _ = fmt.Fprintf(stderr, "write %s: %v\n", opts.output, err)
				return 1
			}
			_, _ = fmt.Fprintf(stdout, "wrote %d bytes to %s\n", len(data), opts.output)
			return 0
		}

		if failed, message := c.jobFailed(waitCtx, accepted.RequestID); failed {
			_, _ = fmt.Fprintf(stderr, "query %s failed: %s\n", accepted.RequestID, message)
			return 1
		}

		select {
		case <-waitCtx.Done():
			_, _ = fmt.Fprintf(stderr, "query %s: result not ready: %v\n", accepted.RequestID, waitCtx.Err())
			return 1
		case <-ticker.C:
		}
	}
}

// download reports ready only for a 200 with a non-empty body.
func (c *client) download(ctx context.Context, resultURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return data, len(data) > 0, nil
}

func (c *client) jobFailed(ctx context.Context, requestID string) (bool, string) {
	code, body, err := c.do(ctx, http.MethodGet, "/v1/query/"+url.PathEscape(requestID), nil)
	if err != nil || code != http.StatusOK {
		return false, ""
	}
	var status jobStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return false, ""
	}
	switch status.Status {
	case "failed":
		if status.Error != nil {
			return true, fmt.Sprintf("%s: %s", status.Error.Code, status.Error.Message)
		}
		return true, "unknown error"
	case "expired":
		return true, "result expired"
	}
	return false, ""
}

func (c *client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func report(code int, body []byte, err error, stdout, stderr io.Writer) int {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			_, _ = fmt.Fprintln(stderr, "request timed out")
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(body)))
		return 1
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(body))
	}
	return 0
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: lakequeryctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                                   GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                                    GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  submit -query SQL [-table-path URI]      POST /v1/query")
	_, _ = fmt.Fprintln(w, "  status <request_id>                      GET /v1/query/{request_id}")
	_, _ = fmt.Fprintln(w, "  fetch -query SQL -output FILE [-format]  submit and download the result")
	_, _ = fmt.Fprintln(w, "  janitor-run                              POST /v1/janitor/run")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
