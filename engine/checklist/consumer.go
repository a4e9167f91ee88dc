package checklist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/nats-io/nats.go"
)

const (
	// JobSubject is the NATS subject cmd/server publishes to after creating
	// a ChecklistRun against a completed IndexingRun.
	JobSubject = "ragcore.checklist.run"
	// DLQSubject receives jobs that failed MaxRetries times.
	DLQSubject = "ragcore.checklist.dlq"
	// CompletionSubject is published once per run, terminal status only.
	CompletionSubject = "ragcore.checklist.completed"
	// MaxRetries before a job is moved to the DLQ.
	MaxRetries = 3
)

// Job is the NATS payload describing one checklist analysis run to execute.
type Job struct {
	Run        domain.ChecklistRun `json:"run"`
	Language   string              `json:"language"`
	EmbedModel string              `json:"embed_model"`
	ChatModel  string              `json:"chat_model"`
}

// CompletionEvent is published to CompletionSubject when a run reaches a
// terminal status, letting cmd/server relay a webhook to the run's owner.
type CompletionEvent struct {
	RunID  string          `json:"run_id"`
	Status domain.RunStatus `json:"status"`
	Error  string          `json:"error,omitempty"`
}

type dlqMessage struct {
	Job     Job    `json:"job"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// StartConsumer subscribes to JobSubject and runs each Job through orch,
// re-queuing a failed run whatever the error until it has failed MaxRetries
// times and then routing it to the DLQ, and publishing a CompletionEvent
// once the run reaches a terminal status.
func StartConsumer(nc *nats.Conn, orch *Orchestrator, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(JobSubject, func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Error("checklist: unmarshal job failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		ctx := context.Background()
		run := job.Run
		err := orch.Run(ctx, &run, job.Language, job.EmbedModel, job.ChatModel)
		event := CompletionEvent{RunID: run.ID, Status: run.Status}
		if err != nil {
			retries++
			log.Error("checklist: run failed", "run_id", run.ID, "error", err, "retry", retries)
			event.Error = err.Error()

			if retries >= MaxRetries {
				data, _ := json.Marshal(dlqMessage{Job: job, Error: err.Error(), Retries: retries})
				if pubErr := nc.Publish(DLQSubject, data); pubErr != nil {
					log.Error("checklist: DLQ publish failed", "error", pubErr)
				}
			} else {
				retryMsg := nats.NewMsg(JobSubject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
				if pubErr := nc.PublishMsg(retryMsg); pubErr != nil {
					log.Error("checklist: retry publish failed", "error", pubErr)
				}
			}
		} else {
			log.Info("checklist: run completed", "run_id", run.ID, "status", run.Status)
		}

		if err == nil || retries >= MaxRetries {
			if data, mErr := json.Marshal(event); mErr == nil {
				if pubErr := nc.Publish(CompletionSubject, data); pubErr != nil {
					log.Error("checklist: completion publish failed", "error", pubErr)
				}
			}
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}
