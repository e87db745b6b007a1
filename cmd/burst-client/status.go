package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/spf13/cobra"
)

func statusCommand() *cobra.Command {
	var (
		url      string
		useHTTP3 bool
		insecure bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch the server's HTTP status API",
		Long:  "Fetch a status endpoint such as /api/v1/stats over HTTP/1.1 or HTTP/3.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newHTTPClient(useHTTP3, insecure, timeout)
			if closer, ok := client.Transport.(io.Closer); ok {
				defer closer.Close()
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderStatusLine(resp.Proto, resp.Status))
			fmt.Fprintln(out, strings.TrimSpace(string(body)))
			if resp.StatusCode >= 400 {
				return fmt.Errorf("server answered %s", resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:8080/api/v1/stats", "Status URL")
	cmd.Flags().BoolVar(&useHTTP3, "http3", false, "Use HTTP/3 (requires an https URL)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}

func newHTTPClient(useHTTP3, insecure bool, timeout time.Duration) *http.Client {
	tlsConfig := &tls.Config{InsecureSkipVerify: insecure}
	if useHTTP3 {
		return &http.Client{
			Transport: &http3.RoundTripper{TLSClientConfig: tlsConfig},
			Timeout:   timeout,
		}
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
		Timeout:   timeout,
	}
}
