package phase

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/nao1215/arbiter/internal/config"
)

// Names of the external tools a scan can use.
const (
	ToolSubfinder = "subfinder"
	ToolNaabu     = "naabu"
	ToolNuclei    = "nuclei"
	ToolS3Enum    = "s3enum"
)

// ToolRunner executes an external command and returns its standard output.
type ToolRunner interface {
	Run(ctx context.Context, tool config.Tool, args []string, stdin io.Reader) ([]byte, error)
}

// ExecRunner runs tools as child processes.
type ExecRunner struct{}

// Run implements ToolRunner. A binary that cannot be found returns
// ErrToolMissing. On a non-zero exit the partial output is returned along
// with the error; tools like nuclei exit non-zero after printing results.
func (ExecRunner) Run(ctx context.Context, tool config.Tool, args []string, stdin io.Reader) ([]byte, error) {
	path, err := exec.LookPath(tool.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, tool.Path)
	}

	args = append(args, tool.Args...)
	cmd := exec.CommandContext(ctx, path, args...) //nolint:gosec // tool paths come from the operator's settings file
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return out, fmt.Errorf("%s failed: %w: %s", tool.Path, err, msg)
	}
	return out, nil
}

// runTool runs a named tool under the configured tool timeout and returns
// its non-empty output lines.
//
// A missing tool is logged and yields no lines, unless the settings mark
// it required, in which case ErrRequiredTool is returned.
func (d *Deps) runTool(ctx context.Context, cfg *config.Config, name string, args []string, stdin io.Reader) ([]string, error) {
	tool := cfg.Settings.Tool(name)

	tctx, cancel := context.WithTimeout(ctx, cfg.ToolTimeout)
	defer cancel()

	out, err := d.Tools.Run(tctx, tool, args, stdin)
	if errors.Is(err, ErrToolMissing) {
		if tool.Required {
			return nil, fmt.Errorf("%w: %s", ErrRequiredTool, name)
		}
		d.Logger.Warn("external tool not installed, skipping", "tool", name, "path", tool.Path)
		return nil, nil
	}
	if err != nil {
		d.Logger.Warn("external tool failed", "tool", name, "error", err)
	}
	return splitLines(out), nil
}

func splitLines(out []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
