// Package calc executes short Go snippets in an embedded interpreter so the
// verification step can check back-of-envelope numbers (QPS, storage,
// bandwidth) instead of trusting the model's arithmetic. Each run gets a
// fresh interpreter with the standard library available and stdout captured.
package calc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	ometrics "github.com/designdrill/orchestrator/internal/metrics"
	"github.com/designdrill/orchestrator/internal/util"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxScriptBytes = 8 * 1024
)

var mainFuncPattern = regexp.MustCompile(`(?m)^func main\(\)`)

// Runner evaluates calculation scripts. Safe for concurrent use; every Run
// builds its own interpreter so scripts cannot observe each other.
type Runner struct {
	timeout        time.Duration
	maxScriptBytes int
	logger         *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds a single script execution.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithMaxScriptSize caps accepted script length in bytes.
func WithMaxScriptSize(n int) Option {
	return func(r *Runner) { r.maxScriptBytes = n }
}

// WithLogger attaches a logger; defaults to a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a Runner with sensible limits.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		timeout:        DefaultTimeout,
		maxScriptBytes: DefaultMaxScriptBytes,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes script and returns whatever it printed to stdout, trimmed.
// Scripts are statement sequences with optional leading imports, the shape
// the verification prompt asks the model for; a stray package clause or a
// full program with func main is tolerated.
func (r *Runner) Run(ctx context.Context, script string) (string, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return "", errors.New("empty script")
	}
	if len(script) > r.maxScriptBytes {
		return "", fmt.Errorf("script is %d bytes, limit is %d", len(script), r.maxScriptBytes)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Debug("Running calculation script",
		zap.String("script", util.TruncateString(script, 500, false)),
	)

	imports, body := splitImports(script)
	callMain := mainFuncPattern.MatchString(body)

	start := time.Now()
	var stdout bytes.Buffer
	i := interp.New(interp.Options{Stdout: &stdout, Stderr: &stdout})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("load interpreter symbols: %w", err)
	}

	var evalErr error
	for _, imp := range imports {
		if _, evalErr = i.EvalWithContext(ctx, imp); evalErr != nil {
			break
		}
	}
	if evalErr == nil && body != "" {
		_, evalErr = i.EvalWithContext(ctx, body)
	}
	if evalErr == nil && callMain {
		_, evalErr = i.EvalWithContext(ctx, "main()")
	}
	elapsed := time.Since(start)

	if evalErr != nil {
		status := "error"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = "timeout"
		}
		ometrics.RecordCalcExecution(status, elapsed.Seconds())
		return "", evalErr
	}

	ometrics.RecordCalcExecution("ok", elapsed.Seconds())
	return strings.TrimSpace(stdout.String()), nil
}

// ScriptImports returns the package paths a script imports, in order of
// appearance. The policy guard checks these against its allowlist before the
// script runs.
func ScriptImports(script string) []string {
	imports, _ := splitImports(strings.TrimSpace(script))
	paths := make([]string, 0, len(imports))
	for _, imp := range imports {
		spec := strings.TrimSpace(strings.TrimPrefix(imp, "import"))
		if idx := strings.LastIndex(spec, " "); idx >= 0 {
			spec = spec[idx+1:]
		}
		paths = append(paths, strings.Trim(spec, `"`))
	}
	return paths
}

// splitImports peels leading import statements off a script so they can be
// evaluated ahead of the statement body. A leading package clause is dropped.
func splitImports(script string) (imports []string, body string) {
	lines := strings.Split(script, "\n")
	idx := 0
	for idx < len(lines) {
		line := strings.TrimSpace(lines[idx])
		switch {
		case line == "" || strings.HasPrefix(line, "//"):
			idx++
		case strings.HasPrefix(line, "package "):
			idx++
		case strings.HasPrefix(line, "import ("):
			idx++
			for idx < len(lines) {
				inner := strings.TrimSpace(lines[idx])
				idx++
				if inner == ")" {
					break
				}
				if inner != "" && !strings.HasPrefix(inner, "//") {
					imports = append(imports, "import "+inner)
				}
			}
		case strings.HasPrefix(line, "import "):
			imports = append(imports, line)
			idx++
		default:
			return imports, strings.Join(lines[idx:], "\n")
		}
	}
	return imports, ""
}
