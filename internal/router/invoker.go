// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/traylinx/planwatch/internal/provider"
)

// Invoker runs one request against one provider.
type Invoker interface {
	Invoke(ctx context.Context, d provider.Descriptor, req provider.Request) (string, error)
}

// CLIInvoker runs provider CLIs as child processes. The request object is
// written to stdin and a {"success": bool, "output": string} object is
// expected on stdout.
type CLIInvoker struct {
	// Runner launches the CLI, e.g. "node". Empty executes CLIPath directly.
	Runner string
	// Timeout bounds each call.
	Timeout time.Duration
}

// waitDelay bounds how long output pipes may stay open after the CLI is killed.
const waitDelay = 5 * time.Second

// NewCLIInvoker returns an invoker using runner and timeout.
func NewCLIInvoker(runner string, timeout time.Duration) *CLIInvoker {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &CLIInvoker{Runner: runner, Timeout: timeout}
}

// BuildRequest encodes the provider request object.
func BuildRequest(d provider.Descriptor, prompt string) ([]byte, error) {
	payload := []byte(`{}`)
	var err error
	if payload, err = sjson.SetBytes(payload, "prompt", prompt); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "model", d.Model); err != nil {
		return nil, err
	}
	for _, key := range d.FlagKeys() {
		if payload, err = sjson.SetBytes(payload, escapeKey(key), d.Flags[key]); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// ParseResponse extracts the output from CLI stdout.
func ParseResponse(stdout []byte) (string, error) {
	block := extractJSONBlock(stdout)
	if block == nil || !gjson.ValidBytes(block) {
		return "", fmt.Errorf("%w: no JSON response on stdout", provider.ErrProviderError)
	}
	res := gjson.ParseBytes(block)
	if !res.Get("success").Bool() {
		msg := res.Get("error").String()
		if msg == "" {
			msg = "success=false"
		}
		return "", fmt.Errorf("%w: %s", provider.ErrProviderError, msg)
	}
	output := res.Get("output")
	if !output.Exists() || strings.TrimSpace(output.String()) == "" {
		return "", fmt.Errorf("%w: empty output", provider.ErrProviderError)
	}
	return output.String(), nil
}

// Invoke runs the CLI for d.
func (c *CLIInvoker) Invoke(ctx context.Context, d provider.Descriptor, req provider.Request) (string, error) {
	prompt, tokens := FitContext(req.Prompt, d.ContextTokens)
	entry := log.WithFields(log.Fields{"provider": d.ID, "tokens": tokens})
	if tokens > d.ContextTokens && d.ContextTokens > 0 {
		entry.Warnf("prompt exceeds context hint of %d tokens, truncated from the front", d.ContextTokens)
	} else {
		entry.Debug("prompt token estimate")
	}

	payload, err := BuildRequest(d, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: failed to build request: %v", provider.ErrProviderError, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	name, args := d.CLIPath, []string(nil)
	if c.Runner != "" {
		name, args = c.Runner, []string{d.CLIPath}
	}
	cmd := exec.CommandContext(callCtx, name, args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugf("Executing provider CLI: %s %v", name, args)

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", provider.ErrProviderTimeout, c.Timeout)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", provider.ErrProviderUnreachable, err)
		}
		msg := lastLines(stderr.String(), 5)
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: %s", provider.ErrProviderError, msg)
	}

	return ParseResponse(stdout.Bytes())
}

// extractJSONBlock returns the outermost {...} region, tolerating banner
// noise printed by some CLIs around the response.
func extractJSONBlock(out []byte) []byte {
	start := bytes.IndexByte(out, '{')
	end := bytes.LastIndexByte(out, '}')
	if start < 0 || end < start {
		return nil
	}
	return out[start : end+1]
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// escapeKey guards sjson path syntax in flag names.
func escapeKey(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(key)
}
