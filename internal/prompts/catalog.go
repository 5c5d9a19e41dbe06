// Package prompts maintains the prompt templates used by the reasoning
// activities and the simulated interviewer. Templates use single-brace
// {name} placeholders and can be overridden from a YAML file without
// code changes.
package prompts

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Template names understood by the catalog.
const (
	GenerateHypotheses   = "generate_hypotheses"
	GenerateSolution     = "generate_solution"
	CriticReview         = "critic_review"
	VerifyAnalysis       = "verify_analysis"
	ExtractVerdicts      = "extract_verdicts"
	InterviewerAnswers   = "interviewer_answers"
	InterviewerChallenge = "interviewer_challenge"
	ScoreReport          = "score_report"
)

// Template pairs a prompt text with the placeholders it must retain.
type Template struct {
	Name     string
	Text     string
	Required []string
}

// Catalog is a concurrency-safe set of named prompt templates.
// Construct with Default(); the zero value has no templates.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// Default returns a catalog seeded with the built-in prompt texts.
func Default() *Catalog {
	c := &Catalog{templates: make(map[string]Template)}
	for _, tpl := range builtins() {
		c.templates[tpl.Name] = tpl
	}
	return c
}

func builtins() []Template {
	return []Template{
		{Name: GenerateHypotheses, Text: generateHypothesesText, Required: []string{"initial_request", "question", "history"}},
		{Name: GenerateSolution, Text: generateSolutionText, Required: []string{"history", "hypothesis", "questions", "answers", "draft"}},
		{Name: CriticReview, Text: criticReviewText, Required: []string{"history", "hypothesis", "questions", "answers", "solution"}},
		{Name: VerifyAnalysis, Text: verifyAnalysisText, Required: []string{"hypotheses", "questions", "answers", "history"}},
		{Name: ExtractVerdicts, Text: extractVerdictsText, Required: []string{"analysis", "hypotheses", "questions", "answers", "history"}},
		{Name: InterviewerAnswers, Text: interviewerAnswersText, Required: []string{"context", "questions"}},
		{Name: InterviewerChallenge, Text: interviewerChallengeText, Required: []string{"context"}},
		{Name: ScoreReport, Text: scoreReportText, Required: []string{"report", "ideal_outcome"}},
	}
}

// Get returns the template registered under name.
func (c *Catalog) Get(name string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tpl, ok := c.templates[name]
	return tpl, ok
}

// Names lists the registered template names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render substitutes vars into the named template. Every placeholder the
// template declares must be present in vars; extra vars are ignored.
func (c *Catalog) Render(name string, vars map[string]string) (string, error) {
	tpl, ok := c.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown prompt template '%s'", name)
	}
	for _, ph := range tpl.Required {
		if _, ok := vars[ph]; !ok {
			return "", fmt.Errorf("prompt '%s' missing value for placeholder '{%s}'", name, ph)
		}
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl.Text), nil
}

type overrideFile struct {
	Prompts map[string]string `yaml:"prompts"`
}

// LoadOverrides replaces built-in texts with the ones found in the YAML file
// at path. An override must keep every placeholder its template declares;
// on any validation failure the catalog is left unchanged.
func (c *Catalog) LoadOverrides(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open prompt overrides: %w", err)
	}
	defer f.Close()
	return c.loadOverrides(f, path)
}

func (c *Catalog) loadOverrides(r io.Reader, source string) error {
	var file overrideFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("decode prompt overrides %s: %w", source, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	staged := make(map[string]Template, len(file.Prompts))
	for name, text := range file.Prompts {
		tpl, ok := c.templates[name]
		if !ok {
			return fmt.Errorf("unknown prompt '%s' in %s", name, source)
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("prompt '%s' override in %s is empty", name, source)
		}
		for _, ph := range tpl.Required {
			if !strings.Contains(text, "{"+ph+"}") {
				return fmt.Errorf("prompt '%s' override drops placeholder '{%s}'", name, ph)
			}
		}
		tpl.Text = text
		staged[name] = tpl
	}
	for name, tpl := range staged {
		c.templates[name] = tpl
	}
	return nil
}
