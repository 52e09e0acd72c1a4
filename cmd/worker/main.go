package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"habitat-backend/internal/bootstrap"
	"habitat-backend/internal/shared/config"
	"habitat-backend/internal/shared/telemetry"
	"habitat-backend/internal/workerproc"
)

const (
	defaultVisibilitySeconds = 300
	receiveWaitSeconds       = 20
	receiveBatch             = 10
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// spawner starts fn once a run slot is free.
type spawner interface {
	Go(ctx context.Context, requestID string, fn func(ctx context.Context)) error
}

func main() {
	cfg := config.Load()
	if cfg.QueueBackend != "sqs" || strings.TrimSpace(cfg.SQSQueueURL) == "" {
		fatal("worker.config_invalid", errors.New("worker requires QUEUE_BACKEND=sqs and SQS_QUEUE_URL"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleWorker)
	if err != nil {
		fatal("worker.bootstrap_failed", err)
	}
	defer app.Close()

	awsCfg, err := app.AWS(ctx)
	if err != nil {
		fatal("worker.aws_config_failed", err)
	}
	client := sqs.NewFromConfig(awsCfg)

	w := &worker{
		client:     client,
		queueURL:   cfg.SQSQueueURL,
		visibility: envInt("SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds),
		runner:     app.Orchestrator,
		pool:       app.Pool,
	}
	telemetry.Info("worker.started", map[string]any{
		"queue_url":   cfg.SQSQueueURL,
		"concurrency": cfg.WorkerConcurrency,
		"visibility":  w.visibility,
	})

	w.poll(ctx)

	telemetry.Info("worker.draining", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.Pool.Shutdown(drainCtx); err != nil {
		telemetry.Warn("worker.drain_incomplete", map[string]any{"error": err.Error()})
	}
	telemetry.Info("worker.stopped", nil)
}

type worker struct {
	client     sqsAPI
	queueURL   string
	visibility int
	runner     workerproc.Runner
	pool       spawner
}

// poll receives batches until ctx ends. Each message waits for a pool slot,
// so a full pool stops the loop from pulling more work.
func (w *worker) poll(ctx context.Context) {
	for ctx.Err() == nil {
		resp, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: receiveBatch,
			WaitTimeSeconds:     receiveWaitSeconds,
			VisibilityTimeout:   int32(w.visibility),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			telemetry.Warn("worker.receive_failed", map[string]any{"error": err.Error()})
			sleep(ctx, time.Second)
			continue
		}
		for _, msg := range resp.Messages {
			m := msg
			err := w.pool.Go(ctx, "", func(runCtx context.Context) {
				w.handle(runCtx, m)
			})
			if err != nil {
				// The message becomes visible again once its timeout lapses.
				return
			}
		}
	}
}

func (w *worker) handle(ctx context.Context, msg sqstypes.Message) {
	decoded, meta, err := workerproc.ParseMessage(aws.ToString(msg.Body))
	if err != nil {
		fields := baseFields(msg, decoded.JobID, decoded.RequestID)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.message_rejected", fields)
		w.delete(ctx, msg, decoded.JobID, decoded.RequestID)
		return
	}

	received := baseFields(msg, decoded.JobID, decoded.RequestID)
	if wait, ok := decoded.QueuedFor(time.Now()); ok {
		received["queue_wait_ms"] = wait.Milliseconds()
	}
	telemetry.Info("worker.message_received", received)
	if err := workerproc.HandleMessage(ctx, w.runner, decoded); err != nil {
		fields := baseFields(msg, decoded.JobID, decoded.RequestID)
		fields["error"] = err.Error()
		if workerproc.Unrecoverable(err) {
			telemetry.Error("worker.message_dropped", fields)
			w.delete(ctx, msg, decoded.JobID, decoded.RequestID)
			return
		}
		telemetry.Error("worker.message_failed", fields)
		return
	}
	w.delete(ctx, msg, decoded.JobID, decoded.RequestID)
}

func (w *worker) delete(ctx context.Context, msg sqstypes.Message, jobID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, jobID, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.delete_failed", fields)
		return false
	}
	if _, err := w.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, jobID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, jobID, requestID string) map[string]any {
	fields := map[string]any{
		"job_id":         jobID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}

func fatal(msg string, err error) {
	telemetry.Error(msg, map[string]any{"error": err.Error()})
	os.Exit(1)
}
