// Package evaluation is the offline harness: it drives full interviews
// against a running worker through the same signal/query contract the HTTP
// API uses, playing the interviewer side with a second model, and scores the
// resulting reports against per-task ideal outcomes.
package evaluation

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Task is one evaluation case. ContextPhase1 answers the first round of
// verification questions; ContextPhase2 seeds the mid-interview challenge
// and answers the second round.
type Task struct {
	TaskID        string
	InitialPrompt string
	ContextPhase1 string
	ContextPhase2 string
	IdealOutcome  string
}

// Result is one scored interview.
type Result struct {
	TaskID      string
	Score       int
	Reasoning   string
	FinalReport string
}

// LoadTasks reads a header-keyed task CSV. Column order does not matter and
// extra columns are ignored; task_id and initial_prompt are required.
func LoadTasks(path string) ([]Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tasks file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read tasks header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"task_id", "initial_prompt"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("tasks file missing %q column", required)
		}
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var tasks []Task
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tasks row: %w", err)
		}
		t := Task{
			TaskID:        field(row, "task_id"),
			InitialPrompt: field(row, "initial_prompt"),
			ContextPhase1: field(row, "context_phase_1"),
			ContextPhase2: field(row, "context_phase_2"),
			IdealOutcome:  field(row, "ideal_outcome"),
		}
		if t.TaskID == "" || t.InitialPrompt == "" {
			return nil, fmt.Errorf("tasks row %d missing task_id or initial_prompt", len(tasks)+2)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// WriteResults writes the results CSV in the fixed column order downstream
// tooling expects.
func WriteResults(path string, results []Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"task_id", "score", "reasoning", "final_report"}); err != nil {
		return err
	}
	for _, res := range results {
		row := []string{res.TaskID, strconv.Itoa(res.Score), res.Reasoning, res.FinalReport}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}
