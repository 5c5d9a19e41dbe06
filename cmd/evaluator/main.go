// Command evaluator replays a CSV of interview tasks against a running
// worker, plays the interviewer side with a second model, and scores each
// final report on the 0-5 rubric. Results land in a CSV and, unless
// disabled, a local SQLite history for cross-run comparison.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/config"
	"github.com/designdrill/orchestrator/internal/evaluation"
	"github.com/designdrill/orchestrator/internal/llm"
	"github.com/designdrill/orchestrator/internal/temporal"
)

func main() {
	tasksPath := flag.String("tasks", "", "Tasks CSV with task_id, initial_prompt, context_phase_1, context_phase_2, ideal_outcome columns")
	outPath := flag.String("out", "", "Results CSV path (default results_<timestamp>.csv)")
	dbPath := flag.String("db", "evaluation.db", "SQLite file keeping run history; empty disables it")
	limit := flag.Int("limit", 0, "Evaluate only the first N tasks (0 = all)")
	model := flag.String("model", "", "Interviewer/judge model (default: evaluator model from config)")
	candidateModel := flag.String("candidate-model", "", "Model the worker uses for the candidate (default: worker's own)")
	temporalHost := flag.String("temporal", "", "Temporal host:port (default from config)")
	timeout := flag.Duration("timeout", 10*time.Minute, "Per-task time budget")
	flag.Parse()

	if *tasksPath == "" {
		fmt.Fprintln(os.Stderr, "usage: evaluator -tasks /path/to/tasks.csv [-out results.csv] [-limit N]")
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if *temporalHost != "" {
		cfg.Temporal.HostPort = *temporalHost
	}
	judgeModel := *model
	if judgeModel == "" {
		judgeModel = cfg.LLM.EvaluatorModel
	}

	tasks, err := evaluation.LoadTasks(*tasksPath)
	if err != nil {
		logger.Fatal("Failed to load tasks", zap.Error(err))
	}
	if *limit > 0 && *limit < len(tasks) {
		tasks = tasks[:*limit]
	}
	if len(tasks) == 0 {
		logger.Fatal("Tasks file contains no tasks", zap.String("path", *tasksPath))
	}
	logger.Info("Starting evaluation",
		zap.Int("tasks", len(tasks)),
		zap.String("judge_model", judgeModel),
		zap.String("candidate_model", *candidateModel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tc, err := temporal.Dial(ctx, cfg.Temporal, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer tc.Close()

	llmOpts := []llm.Option{llm.WithModel(judgeModel), llm.WithLogger(logger)}
	if cfg.LLM.Endpoint != "" {
		llmOpts = append(llmOpts, llm.WithEndpoint(cfg.LLM.Endpoint))
	}
	interviewer := evaluation.NewInterviewer(llm.New(llmOpts...), logger)

	runner := evaluation.NewRunner(tc, interviewer, evaluation.Options{
		TaskQueue:      cfg.Temporal.TaskQueue,
		CandidateModel: *candidateModel,
		TaskTimeout:    *timeout,
	}, logger)

	var (
		store *evaluation.Store
		runID int64
	)
	if *dbPath != "" {
		store, err = evaluation.OpenStore(*dbPath)
		if err != nil {
			logger.Fatal("Failed to open evaluation store", zap.Error(err))
		}
		defer store.Close()
		runID, err = store.BeginRun(ctx, *tasksPath, *candidateModel, judgeModel)
		if err != nil {
			logger.Fatal("Failed to begin evaluation run", zap.Error(err))
		}
		runner.AttachStore(store, runID)
	}

	results, runErr := runner.RunAll(ctx, tasks)

	if store != nil && len(results) > 0 {
		if err := store.FinishRun(context.Background(), runID); err != nil {
			logger.Warn("Failed to finalize evaluation run", zap.Error(err))
		}
	}
	out := *outPath
	if out == "" {
		out = fmt.Sprintf("results_%s.csv", time.Now().Format("20060102_150405"))
	}
	if len(results) > 0 {
		if err := evaluation.WriteResults(out, results); err != nil {
			logger.Fatal("Failed to write results", zap.Error(err))
		}
	}

	printSummary(results, out)
	if runErr != nil {
		logger.Fatal("Evaluation stopped early", zap.Error(runErr))
	}
}

func printSummary(results []evaluation.Result, out string) {
	if len(results) == 0 {
		fmt.Println("No results produced.")
		return
	}
	total := 0
	for _, r := range results {
		total += r.Score
	}
	fmt.Printf("Evaluated %d tasks, mean score %.2f\n", len(results), float64(total)/float64(len(results)))
	for _, r := range results {
		fmt.Printf("  %-24s %d\n", r.TaskID, r.Score)
	}
	fmt.Printf("Results written to %s\n", out)
}
