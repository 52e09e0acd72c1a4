package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"habitat-backend/internal/analyses"
	"habitat-backend/internal/bootstrap"
	"habitat-backend/internal/shared/config"
)

// imageList collects repeated -image flags.
type imageList []string

func (l *imageList) String() string { return strings.Join(*l, ",") }

func (l *imageList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	cfg := config.Load()

	var images imageList
	flag.Var(&images, "image", "Image reference or URL (repeatable)")
	comment := flag.String("comment", "", "Surveyor comment")
	outPath := flag.String("out", "", "Path to write the status JSON (optional)")
	provider := flag.String("provider", cfg.LLMProvider, "LLM provider (openai or gemini)")
	model := flag.String("model", cfg.LLMModel, "LLM model")
	wait := flag.Duration("wait", cfg.LLMTimeout+cfg.LLMGrace+10*time.Second, "How long to wait for the job")
	flag.Parse()

	if len(images) == 0 {
		exitErr("at least one -image is required")
	}

	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(*provider))
	cfg.LLMModel = *model
	cfg.StoreBackend = "memory"
	cfg.QueueBackend = "memory"
	cfg.MaxInFlight = 1

	ctx := context.Background()
	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleWorker)
	if err != nil {
		exitErr(fmt.Sprintf("bootstrap: %v", err))
	}
	defer app.Close()

	job, err := app.Orchestrator.Submit(ctx, analyses.Input{Images: images, Comment: *comment})
	if err != nil {
		exitErr(fmt.Sprintf("submit: %v", err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()
	if err := app.Pool.Shutdown(waitCtx); err != nil {
		exitErr(fmt.Sprintf("job %s did not finish: %v", job.ID, err))
	}

	job, err = app.Orchestrator.Get(ctx, job.ID)
	if err != nil {
		exitErr(fmt.Sprintf("load job: %v", err))
	}
	raw, err := json.Marshal(analyses.ViewOf(job))
	if err != nil {
		exitErr(fmt.Sprintf("encode view: %v", err))
	}

	pretty, err := prettyJSON(raw)
	if err != nil {
		exitErr(fmt.Sprintf("format json: %v", err))
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, pretty, 0o644); err != nil {
			exitErr(fmt.Sprintf("write output: %v", err))
		}
	}

	if _, err := os.Stdout.Write(pretty); err != nil {
		exitErr(fmt.Sprintf("write stdout: %v", err))
	}
	if len(pretty) == 0 || pretty[len(pretty)-1] != '\n' {
		_, _ = os.Stdout.Write([]byte("\n"))
	}
	if job.Status != analyses.StatusCompleted {
		os.Exit(2)
	}
}

func prettyJSON(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
