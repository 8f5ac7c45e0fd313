package cli

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bufbuild/connect-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"github.com/vollocare/autocoder/internal/rpc"
	"github.com/vollocare/autocoder/internal/rpc/connectjson"
	generaterpc "github.com/vollocare/autocoder/internal/rpc/generate"
)

// NewSubmitCmd streams a generation session run by the daemon.
func NewSubmitCmd(opts *Options) *cobra.Command {
	var output string
	var maxIterations int

	cmd := &cobra.Command{
		Use:   "submit SPEC",
		Short: "Run a generation session on the daemon and stream its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read specification: %w", err)
			}
			dir, err := filepath.Abs(output)
			if err != nil {
				return err
			}

			sessionID := "cli-" + uuid.NewString()
			reqBody := rpc.GenerateRequest{
				SessionID:     sessionID,
				CorrelationID: sessionID + "-corr",
				Spec:          string(content),
				OutputDir:     dir,
				MaxIterations: maxIterations,
			}

			ctx, cancel := context.WithCancel(commandContext(cmd))
			defer cancel()

			baseURL := daemonURL(cfg.Server.Addr)
			switch strings.ToLower(strings.TrimSpace(cfg.Server.Transport)) {
			case "ndjson":
				return submitNDJSON(ctx, cmd, baseURL+"/generate", reqBody)
			default:
				return submitConnect(ctx, cmd, baseURL+generaterpc.ConnectGenerateProcedure, reqBody)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "output", "Output directory (as seen by the daemon)")
	cmd.Flags().IntVarP(&maxIterations, "max-iterations", "n", 0, "Maximum generate/test iterations (default: daemon configuration)")
	return cmd
}

func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func submitNDJSON(ctx context.Context, cmd *cobra.Command, url string, reqBody rpc.GenerateRequest) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r eventRenderer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var evt rpc.GenerateEvent
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := r.render(cmd.OutOrStdout(), evt); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return r.result()
}

func submitConnect(ctx context.Context, cmd *cobra.Command, url string, reqBody rpc.GenerateRequest) error {
	client := connect.NewClient[rpc.GenerateStreamRequest, rpc.GenerateEvent](buildH2CClient(), url, connect.WithCodec(connectjson.Codec{}))
	stream := client.CallBidiStream(ctx)

	if err := stream.Send(&rpc.GenerateStreamRequest{Generate: &reqBody}); err != nil {
		return err
	}

	// propagate cancellation to the daemon.
	go func() {
		<-ctx.Done()
		_ = stream.Send(&rpc.GenerateStreamRequest{Cancel: true, SessionID: reqBody.SessionID, CorrelationID: reqBody.CorrelationID})
		_ = stream.CloseRequest()
	}()

	var r eventRenderer
	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := r.render(cmd.OutOrStdout(), *evt); err != nil {
			return err
		}
	}
	if err := stream.CloseResponse(); err != nil {
		return err
	}
	return r.result()
}

// eventRenderer prints daemon events and remembers how the session ended.
type eventRenderer struct {
	done    bool
	success bool
}

func (r *eventRenderer) render(out io.Writer, evt rpc.GenerateEvent) error {
	switch evt.Type {
	case "iteration":
		fmt.Fprintf(out, "[iteration %d] temperature=%.2f\n", evt.Iteration, evt.Temperature)
	case "generated":
		fmt.Fprintf(out, "[generated] %s\n", evt.Message)
	case "extracted":
		fmt.Fprintf(out, "[extracted] %s\n", strings.Join(evt.Files, ", "))
	case "written":
		fmt.Fprintf(out, "[written] %d file(s)\n", len(evt.Files))
	case "test":
		status := "fail"
		if evt.Passed {
			status = "ok"
		}
		fmt.Fprintf(out, "[test %s]\n", status)
		if len(evt.FailingTests) > 0 {
			fmt.Fprintf(out, "Failing: %s\n", strings.Join(evt.FailingTests, ", "))
		}
		if evt.Message != "" {
			fmt.Fprintf(out, "Summary: %s\n", evt.Message)
		}
	case "refine":
		fmt.Fprintln(out, "[refine] retrying with the test diagnostic")
	case "done":
		r.done, r.success = true, evt.Success
		fmt.Fprintf(out, "[done] state=%s success=%v\n", evt.State, evt.Success)
		if !evt.Success && evt.Diagnostic != "" {
			fmt.Fprintf(out, "Last error:\n%s\n", evt.Diagnostic)
		}
	case "error":
		if evt.Done {
			return fmt.Errorf("daemon error: %s", evt.Error)
		}
		fmt.Fprintf(out, "[error] %s\n", evt.Error)
	}
	return nil
}

func (r *eventRenderer) result() error {
	switch {
	case !r.done:
		return errors.New("daemon closed the stream before the session finished")
	case !r.success:
		return errors.New("generation did not produce passing code")
	}
	return nil
}

func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
