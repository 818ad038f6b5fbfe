package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sitewire/sitewire/internal/apiclient"
	"github.com/sitewire/sitewire/internal/observability"
	"github.com/sitewire/sitewire/internal/output"
)

var (
	requestData       string
	requestHeaders    []string
	requestRepeat     int
	requestConcurrent bool
	requestSessionID  string
	requestBody       bool
	requestPath       string
)

var requestCmd = &cobra.Command{
	Use:   "request METHOD PATH",
	Short: "Issue an API request through the session",
	Long: `Issue an API request through the shared client: the stored bearer token is
attached, identical requests are spaced by the throttle delay, and failures
are classified.

Examples:
  sitewire request GET /posts
  sitewire request POST /leads --data '{"email":"a@example.com"}'
  sitewire request GET /posts --repeat 3 --concurrent`,
	Args: cobra.ExactArgs(2),
	RunE: runRequest,
}

func init() {
	rootCmd.AddCommand(requestCmd)

	requestCmd.Flags().StringVarP(&requestData, "data", "d", "", "JSON request body ('@file' reads a file)")
	requestCmd.Flags().StringArrayVarP(&requestHeaders, "header", "H", nil, "extra header as key=value (repeatable)")
	requestCmd.Flags().IntVar(&requestRepeat, "repeat", 1, "number of times to issue the request")
	requestCmd.Flags().BoolVar(&requestConcurrent, "concurrent", false, "submit repeated requests at once instead of one after another")
	requestCmd.Flags().StringVar(&requestSessionID, "session-id", "", "value for the X-Session-Id header (default: the session id)")
	requestCmd.Flags().BoolVar(&requestBody, "body", false, "print the last response body")
	requestCmd.Flags().StringVar(&requestPath, "from", "", "route the session is on when the request is made")
}

func runRequest(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	if requestRepeat < 1 {
		return errors.New("--repeat must be at least 1")
	}

	body, err := parseRequestBody(requestData)
	if err != nil {
		return err
	}
	headers, err := parseHeaders(requestHeaders)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sess, err := openSession(ctx, currentConfig(), sessionOptions{path: requestPath})
	if err != nil {
		return err
	}
	defer sess.Close() // nolint:errcheck // best-effort cleanup

	sessionID := requestSessionID
	if sessionID == "" {
		sessionID = sess.SessionID
	}
	opts := []apiclient.Option{apiclient.WithSessionID(sessionID)}
	for key, value := range headers {
		opts = append(opts, apiclient.WithHeader(key, value))
	}

	method, path := args[0], args[1]
	results := make([]output.RequestResult, requestRepeat)
	dispatched := make([]time.Time, requestRepeat)
	errs := make([]error, requestRepeat)

	issue := func(i int) {
		started := time.Now()
		resp, err := sess.Request(ctx, method, path, body, opts...)
		res := output.RequestResult{
			Index:     i + 1,
			Method:    strings.ToUpper(method),
			Path:      path,
			Latency:   time.Since(started),
			Signature: apiclient.NewDescriptor(method, path, nil).Signature,
		}
		if err != nil {
			var reqErr *apiclient.Error
			if errors.As(err, &reqErr) {
				res.Status = reqErr.StatusCode
				res.Category = string(reqErr.Category)
				resp = reqErr.Response
			} else {
				res.Category = "error"
			}
			res.Error = err.Error()
			errs[i] = err
		}
		if resp != nil {
			res.Status = resp.StatusCode
			res.Body = resp.String()
			res.Waited = resp.Dispatch.Waited
			res.Latency = resp.Duration
			dispatched[i] = resp.Dispatch.At
		}
		results[i] = res
	}

	if requestConcurrent {
		var g errgroup.Group
		for i := 0; i < requestRepeat; i++ {
			g.Go(func() error {
				issue(i)
				return nil
			})
			// Keeps submission order stable for the ledger queue.
			time.Sleep(time.Millisecond)
		}
		_ = g.Wait()
	} else {
		for i := 0; i < requestRepeat; i++ {
			issue(i)
		}
	}

	dispatchOffsets(results, dispatched)

	rendered, err := output.Render(format, output.RequestResults{Results: results, ShowBody: requestBody})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), rendered)

	failed := errors.Join(errs...)
	if failed != nil {
		observability.CLILogger.Debug("Request run finished with failures",
			zap.Int("requests", requestRepeat),
			zap.Error(failed))
		// The first failure decides the exit code.
		for _, e := range errs {
			if e != nil {
				return e
			}
		}
	}
	return nil
}

// dispatchOffsets sets each result's offset from the earliest dispatch.
func dispatchOffsets(results []output.RequestResult, dispatched []time.Time) {
	var first time.Time
	for _, at := range dispatched {
		if !at.IsZero() && (first.IsZero() || at.Before(first)) {
			first = at
		}
	}
	for i, at := range dispatched {
		if !at.IsZero() {
			results[i].Offset = at.Sub(first)
		}
	}
}

func parseRequestBody(data string) (any, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, nil
	}
	raw := []byte(data)
	if strings.HasPrefix(data, "@") {
		content, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		raw = content
	}
	if !json.Valid(raw) {
		return nil, errors.New("--data must be valid JSON")
	}
	return json.RawMessage(raw), nil
}

func parseHeaders(values []string) (map[string]string, error) {
	headers := make(map[string]string, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		if !ok {
			key, val, ok = strings.Cut(value, ":")
		}
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q (expected key=value)", value)
		}
		headers[key] = strings.TrimSpace(val)
	}
	return headers, nil
}
