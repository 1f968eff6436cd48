package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/Nasapan23/sandsound/internal/model"
)

// Worker pool bounds
const (
	MinParallel = 1
	MaxParallel = 8
)

// Batch is an ordered set of tasks submitted together and tracked
// collectively for completion. Collection carries the history context the
// batch was built from; nil for standalone downloads.
type Batch struct {
	Collection *model.CollectionRef
	Tasks      []*model.DownloadTask
}

// Service is the task orchestrator: it owns the registry, the cancellation
// tokens, the "batch in flight" flag, and the bounded worker pool. All of
// that shared state lives under one mutex; observers receive value snapshots
// taken inside the critical section and delivered after it.
type Service struct {
	executor    Executor
	maxParallel int

	mu         sync.Mutex
	tasks      map[string]*model.DownloadTask
	order      []string
	tokens     map[string]*CancelToken
	collection *model.CollectionRef
	running    bool

	onTaskUpdate      func(model.DownloadTask)
	onAggregateUpdate func(model.AggregateProgress)
	onBatchComplete   func()
	recorder          Recorder
}

// NewService creates a new orchestrator running at most maxParallel
// downloads at once (clamped to [MinParallel, MaxParallel])
func NewService(executor Executor, maxParallel int) *Service {
	if maxParallel < MinParallel {
		maxParallel = MinParallel
	}
	if maxParallel > MaxParallel {
		maxParallel = MaxParallel
	}
	return &Service{
		executor:    executor,
		maxParallel: maxParallel,
		tasks:       make(map[string]*model.DownloadTask),
		tokens:      make(map[string]*CancelToken),
	}
}

// SetUpdateCallback registers the per-task observer. Snapshots are immutable
// copies; the callback may run on any goroutine.
func (s *Service) SetUpdateCallback(callback func(model.DownloadTask)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTaskUpdate = callback
}

// SetAggregateCallback registers the aggregate progress observer
func (s *Service) SetAggregateCallback(callback func(model.AggregateProgress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAggregateUpdate = callback
}

// SetBatchCompleteCallback registers the observer fired exactly once when
// every task of a batch reaches a terminal state
func (s *Service) SetBatchCompleteCallback(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBatchComplete = callback
}

// SetRecorder registers the history recorder invoked after every COMPLETED
// transition
func (s *Service) SetRecorder(recorder Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = recorder
}

// SubmitBatch queues a batch of tasks onto the worker pool. At most one
// batch is in flight at a time; a submission while tasks remain non-terminal
// returns ErrBusy. Scheduling among queued tasks is FIFO by submission order.
func (s *Service) SubmitBatch(batch Batch) error {
	if len(batch.Tasks) == 0 {
		return fmt.Errorf("empty batch")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	s.running = true
	s.collection = batch.Collection

	queue := make([]*model.DownloadTask, 0, len(batch.Tasks))
	snapshots := make([]model.DownloadTask, 0, len(batch.Tasks))
	for _, task := range batch.Tasks {
		if task.TaskID == "" {
			task.TaskID = generateTaskID()
		}
		task.Status = model.TaskStatusQueued
		task.Progress = 0
		task.Speed = ""
		task.SpeedBPS = 0
		task.ETASec = model.UnknownETA
		task.Err = ""

		if _, exists := s.tasks[task.TaskID]; !exists {
			s.order = append(s.order, task.TaskID)
		}
		s.tasks[task.TaskID] = task
		// A fresh token per submission. The token doubles as the submission
		// identity: a worker from an earlier batch still draining under the
		// same id holds the old token and is fenced off in applyProgress and
		// finishTask.
		s.tokens[task.TaskID] = &CancelToken{}
		queue = append(queue, task)
		snapshots = append(snapshots, *task)
	}
	s.mu.Unlock()

	log.Info().Int("tasks", len(queue)).Int("workers", s.maxParallel).Msg("batch submitted")
	for _, snap := range snapshots {
		s.notifyTask(snap)
	}
	s.notifyAggregate()

	go s.dispatch(queue)
	return nil
}

// dispatch feeds the batch through a pool bounded to maxParallel workers.
// errgroup's limit makes Go block until a slot frees, so tasks start in
// submission order.
func (s *Service) dispatch(queue []*model.DownloadTask) {
	var g errgroup.Group
	g.SetLimit(s.maxParallel)

	for _, task := range queue {
		g.Go(func() error {
			s.runTask(task)
			return nil
		})
	}
	g.Wait()
}

// runTask executes one task on the calling worker goroutine. Any executor
// fault is absorbed at this boundary; nothing escapes into the pool.
func (s *Service) runTask(task *model.DownloadTask) {
	s.mu.Lock()
	token := s.tokens[task.TaskID]
	if token == nil || task.Status != model.TaskStatusQueued {
		// Cancelled or cleared before a worker got to it.
		s.mu.Unlock()
		return
	}
	task.Status = model.TaskStatusActive
	task.StartedAt = time.Now()
	snap := *task
	s.mu.Unlock()

	s.notifyTask(snap)
	s.notifyAggregate()

	job := JobSpec{URL: task.URL, Format: task.Format, Quality: task.Quality}
	err := s.executor.Execute(context.Background(), job, token, func(ev ProgressEvent) {
		s.applyProgress(task.TaskID, token, ev)
	})

	s.finishTask(task.TaskID, token, err)
}

// applyProgress folds one normalized progress event into the registry. The
// token identifies the submission the event belongs to; events from a worker
// whose submission was superseded are dropped.
func (s *Service) applyProgress(taskID string, token *CancelToken, ev ProgressEvent) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || s.tokens[taskID] != token || task.Status != model.TaskStatusActive {
		// Late event for a cancelled, cleared, or re-submitted task.
		s.mu.Unlock()
		return
	}

	task.Progress = ev.Percent
	task.SpeedBPS = ev.BytesPerSec
	task.Speed = FormatRate(ev.BytesPerSec)
	task.ETASec = ev.ETASec
	if ev.Title != "" {
		task.Title = ev.Title
	}
	snap := *task
	s.mu.Unlock()

	s.notifyTask(snap)
	s.notifyAggregate()
}

// finishTask applies the terminal transition for a finished worker. The
// all-terminal check runs under the same lock as the transition, so two
// workers finishing concurrently cannot both miss the batch-complete fire.
// The token ties the result to the worker's own submission: an id can be
// re-submitted after a cancel while the old worker is still draining, and its
// stale result must not settle the new task.
func (s *Service) finishTask(taskID string, token *CancelToken, runErr error) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || s.tokens[taskID] != token {
		// Cleared, or the id was re-submitted and this worker's run is stale.
		s.mu.Unlock()
		return
	}
	if task.Status.IsTerminal() {
		// CancelAll or CancelTask already settled it.
		s.mu.Unlock()
		return
	}

	switch {
	case token.Cancelled() || errors.Is(runErr, ErrCancelled):
		// Cancellation wins over the executor's own error classification.
		task.Status = model.TaskStatusCancelled
	case runErr != nil:
		task.Status = model.TaskStatusFailed
		task.Err = runErr.Error()
	default:
		task.Status = model.TaskStatusCompleted
		task.Progress = 100
	}
	task.Speed = ""
	task.SpeedBPS = 0
	task.ETASec = model.UnknownETA
	task.FinishedAt = time.Now()

	snap := *task
	col := s.collection
	recorder := s.recorder
	batchDone := s.running && s.allTerminalLocked()
	if batchDone {
		s.running = false
	}
	s.mu.Unlock()

	if snap.Status == model.TaskStatusCompleted && recorder != nil {
		recorder.RecordCompletion(snap.TaskID, snap.Title, snap.Format, snap.Quality, col)
	}
	if snap.Status == model.TaskStatusFailed {
		log.Warn().Str("task", snap.TaskID).Str("error", snap.Err).Msg("download failed")
	}

	s.notifyTask(snap)
	s.notifyAggregate()
	if batchDone {
		s.notifyBatchComplete()
	}
}

// CancelAll cancels every outstanding task: sets all tokens, optimistically
// transitions queued and active tasks to CANCELLED, and stops queued work
// from starting. Workers mid-operation observe their token and exit on their
// own schedule. Idempotent.
func (s *Service) CancelAll() {
	s.mu.Lock()
	for _, token := range s.tokens {
		token.Cancel()
	}

	var snapshots []model.DownloadTask
	now := time.Now()
	for _, taskID := range s.order {
		task := s.tasks[taskID]
		if task.Status.IsTerminal() {
			continue
		}
		task.Status = model.TaskStatusCancelled
		task.Speed = ""
		task.SpeedBPS = 0
		task.ETASec = model.UnknownETA
		task.FinishedAt = now
		snapshots = append(snapshots, *task)
	}

	batchDone := s.running && s.allTerminalLocked()
	if batchDone {
		s.running = false
	}
	s.mu.Unlock()

	if len(snapshots) == 0 && !batchDone {
		return
	}
	log.Info().Int("cancelled", len(snapshots)).Msg("cancel all requested")
	for _, snap := range snapshots {
		s.notifyTask(snap)
	}
	s.notifyAggregate()
	if batchDone {
		s.notifyBatchComplete()
	}
}

// CancelTask cancels a single task; no-op when the task is unknown or
// already terminal
func (s *Service) CancelTask(taskID string) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || task.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}

	if token := s.tokens[taskID]; token != nil {
		token.Cancel()
	}
	task.Status = model.TaskStatusCancelled
	task.Speed = ""
	task.SpeedBPS = 0
	task.ETASec = model.UnknownETA
	task.FinishedAt = time.Now()

	snap := *task
	batchDone := s.running && s.allTerminalLocked()
	if batchDone {
		s.running = false
	}
	s.mu.Unlock()

	s.notifyTask(snap)
	s.notifyAggregate()
	if batchDone {
		s.notifyBatchComplete()
	}
}

// GetTask returns a snapshot of a task by ID
func (s *Service) GetTask(taskID string) (model.DownloadTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return model.DownloadTask{}, false
	}
	return *task, true
}

// GetAllTasks returns snapshots of every registered task in submission order
func (s *Service) GetAllTasks() []model.DownloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// CompletedIDs returns the set of task ids that reached COMPLETED
func (s *Service) CompletedIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]struct{})
	for taskID, task := range s.tasks {
		if task.Status == model.TaskStatusCompleted {
			ids[taskID] = struct{}{}
		}
	}
	return ids
}

// IsRunning reports whether a batch is in flight
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Clear cancels everything and wipes the registry. Tasks are never removed
// implicitly; this is the only destruction point.
func (s *Service) Clear() {
	s.CancelAll()

	s.mu.Lock()
	s.tasks = make(map[string]*model.DownloadTask)
	s.tokens = make(map[string]*CancelToken)
	s.order = nil
	s.collection = nil
	s.mu.Unlock()
}

// Aggregate returns the current aggregate progress snapshot
func (s *Service) Aggregate() model.AggregateProgress {
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return Aggregate(snapshot)
}

// snapshotLocked copies the registry in submission order. Callers hold s.mu.
func (s *Service) snapshotLocked() []model.DownloadTask {
	snapshot := make([]model.DownloadTask, 0, len(s.order))
	for _, taskID := range s.order {
		if task, ok := s.tasks[taskID]; ok {
			snapshot = append(snapshot, *task)
		}
	}
	return snapshot
}

// notifyTask delivers a task snapshot to the registered observer
func (s *Service) notifyTask(snap model.DownloadTask) {
	s.mu.Lock()
	callback := s.onTaskUpdate
	s.mu.Unlock()

	if callback != nil {
		callback(snap)
	}
}

// notifyAggregate recomputes the aggregate from a consistent snapshot and
// broadcasts it
func (s *Service) notifyAggregate() {
	s.mu.Lock()
	callback := s.onAggregateUpdate
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if callback == nil || len(snapshot) == 0 {
		return
	}
	callback(Aggregate(snapshot))
}

// notifyBatchComplete fires the batch-complete observer
func (s *Service) notifyBatchComplete() {
	s.mu.Lock()
	callback := s.onBatchComplete
	s.mu.Unlock()

	log.Info().Msg("batch complete")
	if callback != nil {
		callback()
	}
}

// allTerminalLocked reports whether every registered task reached a terminal
// state. Callers hold s.mu.
func (s *Service) allTerminalLocked() bool {
	for _, task := range s.tasks {
		if !task.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// generateTaskID creates an id for descriptors without a natural one
func generateTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("task-%d", time.Now().UnixNano())
	}
	return id.String()
}
