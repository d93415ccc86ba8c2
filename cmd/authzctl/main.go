package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// authzctl drives the AUTHZ-CORE admin endpoints from the command line:
//
//	authzctl sweep                    run the expired-grant sweep now
//	authzctl matrix-refresh           recompute the matrix for active users
//	authzctl matrix-user <profileId>  recompute one user's matrix rows
//	authzctl cache-flush              drop every cached check result
//	authzctl catalog-rebuild          reindex the permission catalog
//	authzctl check <profileId> <resource> <action> [scope]
//	authzctl health                   print the aggregated system status
//
// AUTHZ_ADDR sets the base URL (default http://localhost:8080) and
// AUTHZ_TOKEN the bearer token.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient() *client {
	return &client{
		base:  getenv("AUTHZ_ADDR", "http://localhost:8080"),
		token: os.Getenv("AUTHZ_TOKEN"),
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, _ := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(payload))
	}
	if out != nil && len(payload) > 0 {
		return json.Unmarshal(payload, out)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	c := newClient()

	var err error
	switch args[0] {
	case "sweep":
		err = post(ctx, c, "/api/v1/admin/sweep")
	case "matrix-refresh":
		err = post(ctx, c, "/api/v1/admin/matrix/refresh")
	case "matrix-user":
		if len(args) < 2 {
			usage()
			os.Exit(2)
		}
		err = post(ctx, c, "/api/v1/admin/matrix/users/"+args[1])
	case "cache-flush":
		err = post(ctx, c, "/api/v1/admin/cache/flush")
	case "catalog-rebuild":
		err = post(ctx, c, "/api/v1/admin/catalog/rebuild")
	case "check":
		if len(args) < 4 {
			usage()
			os.Exit(2)
		}
		body := map[string]string{
			"userId":   args[1],
			"resource": args[2],
			"action":   args[3],
		}
		if len(args) > 4 {
			body["scope"] = args[4]
		}
		var result map[string]any
		if err = c.do(ctx, http.MethodPost, "/api/v1/permissions/check", body, &result); err == nil {
			err = printJSON(result)
		}
	case "health":
		var status map[string]any
		if err = c.do(ctx, http.MethodGet, "/health", nil, &status); err == nil {
			err = printJSON(status)
		}
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func post(ctx context.Context, c *client, path string) error {
	var result map[string]any
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: authzctl <command> [args]

commands:
  sweep                          run the expired-grant sweep now
  matrix-refresh                 recompute the matrix for active users
  matrix-user <profileId>        recompute one user's matrix rows
  cache-flush                    drop every cached check result
  catalog-rebuild                reindex the permission catalog
  check <profileId> <resource> <action> [scope]
  health                         print the aggregated system status`)
}
