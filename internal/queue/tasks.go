package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"school-copilot/internal/database"
	"school-copilot/internal/logger"

	"github.com/hibiken/asynq"
)

const (
	TaskIndexDocument   = "document:index"
	TaskReindexDocument = "document:reindex"

	QueueIndexing = "indexing"
	taskTimeout   = 10 * time.Minute
)

type DocumentPayload struct {
	DocumentID string `json:"document_id"`
}

// DocumentIndexer is the work behind the indexing tasks
type DocumentIndexer interface {
	IndexDocumentByID(ctx context.Context, documentID string) error
	ReindexDocumentByID(ctx context.Context, documentID string) error
}

// Dispatcher hands indexing work off. The document status is the
// completion signal either way.
type Dispatcher interface {
	DispatchIndex(ctx context.Context, documentID string) error
	DispatchReindex(ctx context.Context, documentID string) error
}

// Task creators

// Indexing failures are recorded on the document, so tasks are not retried
func newDocumentTask(taskType, documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DocumentPayload{DocumentID: documentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		taskType,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(taskTimeout),
		asynq.Queue(QueueIndexing),
	), nil
}

func NewIndexDocumentTask(documentID string) (*asynq.Task, error) {
	return newDocumentTask(TaskIndexDocument, documentID)
}

func NewReindexDocumentTask(documentID string) (*asynq.Task, error) {
	return newDocumentTask(TaskReindexDocument, documentID)
}

// AsyncDispatcher enqueues tasks for cmd/worker
type AsyncDispatcher struct {
	client *asynq.Client
}

func NewAsyncDispatcher(opt asynq.RedisConnOpt) *AsyncDispatcher {
	return &AsyncDispatcher{client: asynq.NewClient(opt)}
}

func (d *AsyncDispatcher) Close() error {
	return d.client.Close()
}

func (d *AsyncDispatcher) DispatchIndex(ctx context.Context, documentID string) error {
	task, err := NewIndexDocumentTask(documentID)
	if err != nil {
		return err
	}
	return d.enqueue(ctx, task, documentID)
}

func (d *AsyncDispatcher) DispatchReindex(ctx context.Context, documentID string) error {
	task, err := NewReindexDocumentTask(documentID)
	if err != nil {
		return err
	}
	return d.enqueue(ctx, task, documentID)
}

func (d *AsyncDispatcher) enqueue(ctx context.Context, task *asynq.Task, documentID string) error {
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	logger.Info("Enqueued indexing task", "type", task.Type(), "task_id", info.ID, "document_id", documentID)
	return nil
}

// SyncDispatcher runs indexing inline, for deployments without Redis
type SyncDispatcher struct {
	indexer DocumentIndexer
}

func NewSyncDispatcher(indexer DocumentIndexer) *SyncDispatcher {
	return &SyncDispatcher{indexer: indexer}
}

func (d *SyncDispatcher) DispatchIndex(ctx context.Context, documentID string) error {
	return d.indexer.IndexDocumentByID(ctx, documentID)
}

func (d *SyncDispatcher) DispatchReindex(ctx context.Context, documentID string) error {
	return d.indexer.ReindexDocumentByID(ctx, documentID)
}

// Task handlers
type TaskProcessor struct {
	indexer DocumentIndexer
}

func NewTaskProcessor(indexer DocumentIndexer) *TaskProcessor {
	return &TaskProcessor{indexer: indexer}
}

// Register adds the processor's handlers to mux
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIndexDocument, p.ProcessIndex)
	mux.HandleFunc(TaskReindexDocument, p.ProcessReindex)
}

func (p *TaskProcessor) ProcessIndex(ctx context.Context, t *asynq.Task) error {
	return p.process(ctx, t, p.indexer.IndexDocumentByID)
}

func (p *TaskProcessor) ProcessReindex(ctx context.Context, t *asynq.Task) error {
	return p.process(ctx, t, p.indexer.ReindexDocumentByID)
}

func (p *TaskProcessor) process(ctx context.Context, t *asynq.Task, run func(context.Context, string) error) error {
	var payload DocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	if payload.DocumentID == "" {
		return fmt.Errorf("missing document id: %w", asynq.SkipRetry)
	}

	logger.Info("Processing indexing task", "type", t.Type(), "document_id", payload.DocumentID)
	if err := run(ctx, payload.DocumentID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}
