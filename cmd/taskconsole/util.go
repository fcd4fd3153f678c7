package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/loykin/taskconsole"
	"github.com/loykin/taskconsole/internal/logger"
	"github.com/loykin/taskconsole/pkg/client"
)

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// loadConfig reads path, or defaults plus environment when path is empty.
func loadConfig(path string) (*taskconsole.Config, error) {
	cfg, err := taskconsole.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *taskconsole.Config) (*slog.Logger, io.Closer, error) {
	return logger.New(cfg.Log.Logger(), os.Stderr)
}

func newClient(f APIFlags) *client.Client {
	return client.New(client.Config{
		BaseURL:  f.APIUrl,
		Timeout:  f.APITimeout,
		CACert:   f.CACert,
		Insecure: f.Insecure,
	})
}

// newSuffix returns the part of cur not yet shown. Once the server's
// buffer rolls over, cur starts somewhere inside prev; the longest line
// aligned overlap is skipped.
func newSuffix(prev, cur string) string {
	for i := 0; i < len(prev); {
		if rest := prev[i:]; strings.HasPrefix(cur, rest) {
			return cur[len(rest):]
		}
		nl := strings.IndexByte(prev[i:], '\n')
		if nl < 0 {
			break
		}
		i += nl + 1
	}
	return cur
}
