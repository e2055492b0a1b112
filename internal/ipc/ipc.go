// Package ipc is the document channel between phases. A phase that
// wants another phase to act drops a markdown request into the state
// directory; the target phase picks it up on its next turn and
// acknowledges it when handled.
package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Request is one cross-phase message.
type Request struct {
	From      string
	To        string
	Subject   string
	Body      string
	CreatedAt time.Time
	// Path of the backing file, set when loaded from disk.
	Path string
}

// Channel reads and writes requests under stateDir/ipc.
type Channel struct {
	dir string
}

// NewChannel returns a channel rooted at the state directory.
func NewChannel(stateDir string) *Channel {
	return &Channel{dir: filepath.Join(stateDir, "ipc")}
}

// Send writes a request for the target phase.
func (c *Channel) Send(req Request) error {
	if req.To == "" || req.Subject == "" {
		return fmt.Errorf("ipc request needs a target phase and a subject")
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create ipc dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.md", strings.ToUpper(req.To), time.Now().UTC().Format("20060102_150405.000"))
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", req.Subject)
	fmt.Fprintf(&b, "From: %s\n\n", req.From)
	b.WriteString(req.Body)
	b.WriteString("\n")
	if err := os.WriteFile(filepath.Join(c.dir, name), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write ipc request: %w", err)
	}
	return nil
}

// PendingFor lists unacknowledged requests addressed to a phase,
// oldest first.
func (c *Channel) PendingFor(phase string) ([]Request, error) {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ipc dir: %w", err)
	}

	prefix := strings.ToUpper(phase) + "_"
	var out []Request
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		req := parseRequest(string(data))
		req.To = phase
		req.Path = path
		if info, err := e.Info(); err == nil {
			req.CreatedAt = info.ModTime()
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// HasPendingFor reports whether any request is waiting for the phase.
func (c *Channel) HasPendingFor(phase string) bool {
	reqs, err := c.PendingFor(phase)
	return err == nil && len(reqs) > 0
}

// Ack moves a handled request into the handled/ subdirectory so it is
// kept for the audit trail but no longer pending.
func (c *Channel) Ack(req Request) error {
	if req.Path == "" {
		return fmt.Errorf("request has no backing file")
	}
	handled := filepath.Join(c.dir, "handled")
	if err := os.MkdirAll(handled, 0755); err != nil {
		return err
	}
	dst := filepath.Join(handled, filepath.Base(req.Path))
	if err := os.Rename(req.Path, dst); err != nil {
		return fmt.Errorf("failed to ack ipc request: %w", err)
	}
	return nil
}

func parseRequest(content string) Request {
	var req Request
	lines := strings.Split(content, "\n")
	var bodyStart int
	for i, line := range lines {
		if strings.HasPrefix(line, "# ") && req.Subject == "" {
			req.Subject = strings.TrimPrefix(line, "# ")
			continue
		}
		if strings.HasPrefix(line, "From: ") {
			req.From = strings.TrimPrefix(line, "From: ")
			bodyStart = i + 1
			break
		}
	}
	if bodyStart > 0 && bodyStart < len(lines) {
		req.Body = strings.TrimSpace(strings.Join(lines[bodyStart:], "\n"))
	}
	return req
}
