// Package policy guards the calculation scripts the verification step asks
// the sandbox to run. Scripts come out of model output, so before execution
// each one is checked against rego policies (import allowlist, size caps).
package policy

import (
	"container/list"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

const decisionQuery = "data.designdrill.calc.decision"

// Engine is the script guard evaluation interface.
type Engine interface {
	Evaluate(ctx context.Context, input *Input) (*Decision, error)
	LoadPolicies() error
	IsEnabled() bool
	Environment() string
	Mode() Mode
}

// Input carries one calculation script for evaluation.
type Input struct {
	InterviewID string    `json:"interview_id"`
	Node        string    `json:"node"`
	Script      string    `json:"script"`
	ScriptBytes int       `json:"script_bytes"`
	Imports     []string  `json:"imports,omitempty"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

// Decision is the guard's verdict on a script.
type Decision struct {
	Allow         bool              `json:"allow"`
	Reason        string            `json:"reason,omitempty"`
	PolicyVersion string            `json:"policy_version,omitempty"`
	AuditTags     map[string]string `json:"audit_tags,omitempty"`
}

// OPAEngine implements Engine using compiled rego policies.
type OPAEngine struct {
	config   *Config
	logger   *zap.Logger
	compiled *rego.PreparedEvalQuery
	version  string
	enabled  bool
	cache    *decisionCache
}

// NewOPAEngine creates a script guard from config. In fail-open mode a load
// failure downgrades the guard to disabled instead of blocking startup.
func NewOPAEngine(config *Config, logger *zap.Logger) (*OPAEngine, error) {
	config.normalize()
	engine := &OPAEngine{
		config:  config,
		logger:  logger,
		enabled: config.Enabled && config.Mode != ModeOff,
		cache:   newDecisionCache(1000, 5*time.Minute),
	}

	if engine.enabled {
		if err := engine.LoadPolicies(); err != nil {
			if config.FailClosed {
				return nil, fmt.Errorf("load policies in fail-closed mode: %w", err)
			}
			logger.Warn("Failed to load script policies, running fail-open", zap.Error(err))
			engine.enabled = false
		}
	}

	return engine, nil
}

// LoadPolicies compiles all .rego files under the configured directory.
func (e *OPAEngine) LoadPolicies() error {
	if !e.config.Enabled {
		return nil
	}

	policies := make(map[string]string)
	err := filepath.Walk(e.config.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read policy file %s: %w", path, err)
		}
		relPath, _ := filepath.Rel(e.config.Path, path)
		policies[strings.TrimSuffix(relPath, ".rego")] = string(content)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk policy directory %s: %w", e.config.Path, err)
	}

	if len(policies) == 0 {
		e.logger.Warn("No script policy files found", zap.String("path", e.config.Path))
		if e.config.FailClosed {
			return fmt.Errorf("no policies found in fail-closed mode")
		}
		return nil
	}

	regoOptions := []func(*rego.Rego){rego.Query(decisionQuery)}
	for moduleName, content := range policies {
		regoOptions = append(regoOptions, rego.Module(moduleName, content))
	}
	compiled, err := rego.New(regoOptions...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("compile script policies: %w", err)
	}

	e.compiled = &compiled
	e.version = policyVersion(policies)
	recordPolicyLoad(len(policies), e.version)

	e.logger.Info("Script policies loaded",
		zap.Int("policy_count", len(policies)),
		zap.String("version", e.version),
		zap.String("decision_query", decisionQuery),
	)
	return nil
}

// Evaluate checks one script against the loaded policies, honoring the
// configured mode. In dry-run a denial is logged and rewritten as an allow.
func (e *OPAEngine) Evaluate(ctx context.Context, input *Input) (*Decision, error) {
	start := time.Now()

	defaultDecision := &Decision{
		Allow:  !e.config.FailClosed,
		Reason: "script guard disabled or no policies loaded",
		AuditTags: map[string]string{
			"guard_enabled": fmt.Sprintf("%t", e.enabled),
			"mode":          string(e.config.Mode),
		},
	}
	if !e.enabled || e.compiled == nil {
		return defaultDecision, nil
	}

	if d, ok := e.cache.Get(input); ok {
		recordCacheLookup(true)
		return d, nil
	}
	recordCacheLookup(false)

	inputMap, err := toMap(input)
	if err != nil {
		e.logger.Error("Failed to convert script guard input", zap.Error(err))
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "input conversion failed"}, err
		}
		return defaultDecision, nil
	}

	results, err := e.compiled.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		e.logger.Error("Script policy evaluation failed", zap.Error(err))
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "policy evaluation error"}, err
		}
		return defaultDecision, nil
	}

	decision := e.parseResults(results, input)
	decision = e.applyMode(decision, input)

	duration := time.Since(start)
	recordEvaluation(decision, string(e.config.Mode), duration.Seconds())

	e.logger.Debug("Script guard evaluated",
		zap.Bool("allow", decision.Allow),
		zap.String("reason", decision.Reason),
		zap.String("interview_id", input.InterviewID),
		zap.String("node", input.Node),
		zap.Duration("duration", duration),
	)

	e.cache.Set(input, decision)
	return decision, nil
}

// IsEnabled reports whether the guard is active with compiled policies.
func (e *OPAEngine) IsEnabled() bool {
	return e.enabled && e.compiled != nil
}

// Environment returns the configured environment.
func (e *OPAEngine) Environment() string { return e.config.Environment }

// Mode returns the configured enforcement mode.
func (e *OPAEngine) Mode() Mode { return e.config.Mode }

func toMap(input *Input) (map[string]interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *OPAEngine) parseResults(results rego.ResultSet, input *Input) *Decision {
	decision := &Decision{
		Allow:         false,
		Reason:        "no matching policy rules",
		PolicyVersion: e.version,
		AuditTags: map[string]string{
			"interview_id": input.InterviewID,
			"node":         input.Node,
		},
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision
	}

	value := results[0].Expressions[0].Value
	if valueMap, ok := value.(map[string]interface{}); ok {
		if allow, ok := valueMap["allow"].(bool); ok {
			decision.Allow = allow
		}
		if reason, ok := valueMap["reason"].(string); ok {
			decision.Reason = reason
		}
	} else if allow, ok := value.(bool); ok {
		decision.Allow = allow
		if allow {
			decision.Reason = "allowed by policy"
		} else {
			decision.Reason = "denied by policy"
		}
	}
	return decision
}

func (e *OPAEngine) applyMode(decision *Decision, input *Input) *Decision {
	if decision.AuditTags == nil {
		decision.AuditTags = make(map[string]string)
	}
	decision.AuditTags["mode"] = string(e.config.Mode)

	switch e.config.Mode {
	case ModeEnforce:
		return decision
	case ModeDryRun:
		original := *decision
		decision.Allow = true
		if original.Allow {
			decision.Reason = fmt.Sprintf("DRY-RUN: would have been allowed - %s", original.Reason)
		} else {
			decision.Reason = fmt.Sprintf("DRY-RUN: would have been denied - %s", original.Reason)
			recordDryRunDivergence()
			e.logger.Info("Dry-run script denial",
				zap.String("interview_id", input.InterviewID),
				zap.String("node", input.Node),
				zap.String("original_reason", original.Reason),
			)
		}
		return decision
	case ModeOff:
		decision.Allow = !e.config.FailClosed
		decision.Reason = "script guard disabled"
		return decision
	default:
		decision.Allow = true
		decision.Reason = fmt.Sprintf("unknown mode %s, defaulting to allow", e.config.Mode)
		return decision
	}
}

func policyVersion(policies map[string]string) string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	h := md5.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(policies[name]))
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:4])
}

// --- decision cache (LRU with TTL) ---

// Scripts repeat across retry cycles of the same interview, so decisions are
// cached on a hash of the script plus environment and mode.

type decisionCache struct {
	cap  int
	ttl  time.Duration
	mu   sync.Mutex
	list *list.List
	m    map[string]*list.Element
}

type cacheEntry struct {
	key       string
	expiresAt time.Time
	decision  *Decision
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	if cap <= 0 {
		cap = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &decisionCache{
		cap:  cap,
		ttl:  ttl,
		list: list.New(),
		m:    make(map[string]*list.Element),
	}
}

func (c *decisionCache) makeKey(input *Input) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(input.Script))
	return fmt.Sprintf("%s|%s|%x", input.Environment, input.Node, h.Sum64())
}

func (c *decisionCache) Get(input *Input) (*Decision, bool) {
	key := c.makeKey(input)
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		ce := el.Value.(cacheEntry)
		if ce.expiresAt.After(now) {
			c.list.MoveToFront(el)
			return ce.decision, true
		}
		c.list.Remove(el)
		delete(c.m, key)
	}
	return nil, false
}

func (c *decisionCache) Set(input *Input, d *Decision) {
	key := c.makeKey(input)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		el.Value = cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d}
		c.list.MoveToFront(el)
		return
	}
	el := c.list.PushFront(cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d})
	c.m[key] = el
	if c.list.Len() > c.cap {
		if lru := c.list.Back(); lru != nil {
			ce := lru.Value.(cacheEntry)
			delete(c.m, ce.key)
			c.list.Remove(lru)
		}
	}
}
