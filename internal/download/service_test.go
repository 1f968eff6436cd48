package download

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Nasapan23/sandsound/internal/model"
)

// fakeExecutor is a scriptable stand-in for the yt-dlp engine.
type fakeExecutor struct {
	mu        sync.Mutex
	active    int
	maxActive int

	delay   time.Duration
	gate    chan struct{}                                             // when set, Execute blocks until closed
	perTask func(job JobSpec, token *CancelToken, onProgress func(ProgressEvent)) error
}

func (f *fakeExecutor) Execute(ctx context.Context, job JobSpec, token *CancelToken, onProgress func(ProgressEvent)) error {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if token.Cancelled() {
		return ErrCancelled
	}
	if f.perTask != nil {
		return f.perTask(job, token, onProgress)
	}
	return nil
}

func (f *fakeExecutor) observedMax() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// countingRecorder counts history writes.
type countingRecorder struct {
	mu    sync.Mutex
	count int
	ids   []string
}

func (r *countingRecorder) RecordCompletion(itemID, title, format, quality string, col *model.CollectionRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	r.ids = append(r.ids, itemID)
}

func (r *countingRecorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func makeTasks(ids ...string) []*model.DownloadTask {
	tasks := make([]*model.DownloadTask, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, &model.DownloadTask{
			TaskID:  id,
			URL:     "https://youtube.com/watch?v=" + id,
			Title:   "Track " + id,
			Format:  "mp3",
			Quality: "best",
		})
	}
	return tasks
}

// batchWaiter wires the batch-complete observer to a channel and counts
// invocations.
func batchWaiter(t *testing.T, service *Service) (<-chan struct{}, *atomic.Int32) {
	t.Helper()
	done := make(chan struct{}, 8)
	var fires atomic.Int32
	service.SetBatchCompleteCallback(func() {
		fires.Add(1)
		done <- struct{}{}
	})
	return done, &fires
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for batch complete")
	}
}

func TestNewService_ClampsWorkerBound(t *testing.T) {
	tests := []struct {
		requested int
		expected  int
	}{
		{0, MinParallel},
		{-2, MinParallel},
		{3, 3},
		{8, 8},
		{99, MaxParallel},
	}

	for _, test := range tests {
		service := NewService(&fakeExecutor{}, test.requested)
		if service.maxParallel != test.expected {
			t.Errorf("NewService(_, %d).maxParallel = %d, expected %d", test.requested, service.maxParallel, test.expected)
		}
	}
}

func TestSubmitBatch_EmptyBatch(t *testing.T) {
	service := NewService(&fakeExecutor{}, 2)

	if err := service.SubmitBatch(Batch{}); err == nil {
		t.Error("Expected error for empty batch")
	}
}

func TestSubmitBatch_RejectsSecondBatch(t *testing.T) {
	gate := make(chan struct{})
	service := NewService(&fakeExecutor{gate: gate}, 2)
	done, _ := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a", "b")}); err != nil {
		t.Fatalf("First submit failed: %v", err)
	}

	err := service.SubmitBatch(Batch{Tasks: makeTasks("c")})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy for second submit, got %v", err)
	}

	close(gate)
	waitDone(t, done)

	// After batch completion a new batch is accepted again.
	if err := service.SubmitBatch(Batch{Tasks: makeTasks("c")}); err != nil {
		t.Errorf("Expected submit to succeed after completion, got %v", err)
	}
}

func TestConcurrencyBoundRespected(t *testing.T) {
	executor := &fakeExecutor{delay: 30 * time.Millisecond}
	service := NewService(executor, 2)
	done, fires := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a", "b", "c", "d", "e")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, done)

	if max := executor.observedMax(); max > 2 {
		t.Errorf("Observed %d simultaneous executions, bound is 2", max)
	}

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		task, ok := service.GetTask(id)
		if !ok {
			t.Fatalf("Task %s missing from registry", id)
		}
		if task.Status != model.TaskStatusCompleted {
			t.Errorf("Task %s status = %s, expected Completed", id, task.Status)
		}
	}

	if got := fires.Load(); got != 1 {
		t.Errorf("Batch complete fired %d times, expected exactly once", got)
	}

	agg := service.Aggregate()
	if agg.OverallProgress != 100 {
		t.Errorf("OverallProgress = %v, expected 100 with all tasks completed", agg.OverallProgress)
	}
	if agg.CompletedTasks+agg.ActiveTasks+agg.QueuedTasks+agg.FailedTasks != agg.TotalTasks {
		t.Errorf("Aggregate count invariant violated: %+v", agg)
	}
}

func TestBatchComplete_FiresWithFailures(t *testing.T) {
	executor := &fakeExecutor{
		perTask: func(job JobSpec, token *CancelToken, onProgress func(ProgressEvent)) error {
			if job.URL == "https://youtube.com/watch?v=bad" {
				return errors.New("network unreachable")
			}
			return nil
		},
	}
	service := NewService(executor, 2)
	recorder := &countingRecorder{}
	service.SetRecorder(recorder)
	done, fires := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("good", "bad", "fine")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, done)

	bad, _ := service.GetTask("bad")
	if bad.Status != model.TaskStatusFailed {
		t.Errorf("Task bad status = %s, expected Failed", bad.Status)
	}
	if bad.Err == "" {
		t.Error("Expected failure message on failed task")
	}

	good, _ := service.GetTask("good")
	if good.Status != model.TaskStatusCompleted {
		t.Errorf("Task good status = %s, expected Completed", good.Status)
	}

	if got := fires.Load(); got != 1 {
		t.Errorf("Batch complete fired %d times, expected exactly once", got)
	}
	if recorder.calls() != 2 {
		t.Errorf("Expected 2 history writes, got %d", recorder.calls())
	}

	agg := service.Aggregate()
	if agg.OverallProgress >= 100 {
		t.Errorf("OverallProgress = %v, expected < 100 with a failure", agg.OverallProgress)
	}
}

func TestBatchComplete_FiresWhenAllFail(t *testing.T) {
	executor := &fakeExecutor{
		perTask: func(job JobSpec, token *CancelToken, onProgress func(ProgressEvent)) error {
			return errors.New("boom")
		},
	}
	service := NewService(executor, 2)
	done, fires := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a", "b")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, done)

	if got := fires.Load(); got != 1 {
		t.Errorf("Batch complete fired %d times, expected exactly once", got)
	}
	agg := service.Aggregate()
	if agg.FailedTasks != 2 || agg.OverallProgress != 0 {
		t.Errorf("Unexpected aggregate after total failure: %+v", agg)
	}
}

func TestCancelAll_BeforeAnyTaskStarts(t *testing.T) {
	gate := make(chan struct{})
	executor := &fakeExecutor{gate: gate}
	service := NewService(executor, 1)
	recorder := &countingRecorder{}
	service.SetRecorder(recorder)
	done, fires := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a", "b", "c")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	service.CancelAll()
	waitDone(t, done)
	close(gate) // release any worker that managed to start

	for _, id := range []string{"a", "b", "c"} {
		task, _ := service.GetTask(id)
		if task.Status != model.TaskStatusCancelled {
			t.Errorf("Task %s status = %s, expected Cancelled", id, task.Status)
		}
	}

	// Give released workers a moment to run their (skipped) finish path.
	time.Sleep(50 * time.Millisecond)

	if recorder.calls() != 0 {
		t.Errorf("Expected zero history writes, got %d", recorder.calls())
	}
	if got := fires.Load(); got != 1 {
		t.Errorf("Batch complete fired %d times, expected exactly once", got)
	}
	if service.IsRunning() {
		t.Error("Expected batch flag cleared after cancel all")
	}
}

func TestCancelAll_Idempotent(t *testing.T) {
	service := NewService(&fakeExecutor{}, 2)
	done, fires := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, done)

	service.CancelAll()
	service.CancelAll()

	if got := fires.Load(); got != 1 {
		t.Errorf("Batch complete fired %d times after repeated cancels, expected once", got)
	}
}

func TestCancelTask_MidFetchYieldsCancelledNotFailed(t *testing.T) {
	started := make(chan struct{})
	executor := &fakeExecutor{
		perTask: func(job JobSpec, token *CancelToken, onProgress func(ProgressEvent)) error {
			close(started)
			for i := 0; i < 200; i++ {
				if token.Cancelled() {
					// The underlying engine aborts with its own error.
					return errors.New("signal: killed")
				}
				time.Sleep(5 * time.Millisecond)
			}
			return nil
		},
	}
	service := NewService(executor, 1)
	done, _ := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	<-started
	service.CancelTask("a")
	waitDone(t, done)

	task, _ := service.GetTask("a")
	if task.Status != model.TaskStatusCancelled {
		t.Errorf("Status = %s, expected Cancelled even though the executor errored", task.Status)
	}
	if task.Err != "" {
		t.Errorf("Expected no error message on cancelled task, got %q", task.Err)
	}
}

func TestCancelTask_UnknownOrTerminal(t *testing.T) {
	service := NewService(&fakeExecutor{}, 1)
	done, _ := batchWaiter(t, service)

	// Unknown id is a no-op.
	service.CancelTask("ghost")

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, done)

	// Terminal task stays terminal.
	service.CancelTask("a")
	task, _ := service.GetTask("a")
	if task.Status != model.TaskStatusCompleted {
		t.Errorf("Status = %s, expected Completed to be untouched by cancel", task.Status)
	}
}

func TestExecutorCancelTakesPrecedenceOverError(t *testing.T) {
	// A token set mid-flight wins even when the orchestrator never saw an
	// explicit cancel call for the transition.
	executor := &fakeExecutor{
		perTask: func(job JobSpec, token *CancelToken, onProgress func(ProgressEvent)) error {
			token.Cancel()
			return errors.New("connection reset mid-abort")
		},
	}
	service := NewService(executor, 1)
	done, _ := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, done)

	task, _ := service.GetTask("a")
	if task.Status != model.TaskStatusCancelled {
		t.Errorf("Status = %s, expected Cancelled to win over the error", task.Status)
	}
}

func TestProgressEventsUpdateRegistry(t *testing.T) {
	executor := &fakeExecutor{
		perTask: func(job JobSpec, token *CancelToken, onProgress func(ProgressEvent)) error {
			onProgress(ProgressEvent{Phase: PhaseRunning, Percent: 40, BytesPerSec: 2 * BytesPerMB, ETASec: 30, Title: "Resolved Title"})
			return nil
		},
	}
	service := NewService(executor, 1)

	var mu sync.Mutex
	var sawProgress bool
	service.SetUpdateCallback(func(task model.DownloadTask) {
		mu.Lock()
		defer mu.Unlock()
		if task.Status == model.TaskStatusActive && task.Progress == 40 {
			sawProgress = true
			if task.Speed != "2.0 MB/s" {
				t.Errorf("Speed = %q, expected \"2.0 MB/s\"", task.Speed)
			}
			if task.Title != "Resolved Title" {
				t.Errorf("Title = %q, expected resolved title", task.Title)
			}
		}
	})
	done, _ := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, done)

	mu.Lock()
	defer mu.Unlock()
	if !sawProgress {
		t.Error("Expected a progress snapshot at 40%")
	}

	task, _ := service.GetTask("a")
	if task.Progress != 100 {
		t.Errorf("Progress = %v, expected 100 after completion", task.Progress)
	}
	if task.Speed != "" || task.ETASec != model.UnknownETA {
		t.Errorf("Expected speed/ETA reset on terminal task, got %q/%d", task.Speed, task.ETASec)
	}
}

func TestAggregateNotificationsCarryInvariant(t *testing.T) {
	executor := &fakeExecutor{delay: 5 * time.Millisecond}
	service := NewService(executor, 2)

	var mu sync.Mutex
	violations := 0
	service.SetAggregateCallback(func(agg model.AggregateProgress) {
		mu.Lock()
		defer mu.Unlock()
		if agg.CompletedTasks+agg.ActiveTasks+agg.QueuedTasks+agg.FailedTasks != agg.TotalTasks {
			violations++
		}
	})
	done, _ := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a", "b", "c", "d")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, done)

	mu.Lock()
	defer mu.Unlock()
	if violations != 0 {
		t.Errorf("Count invariant violated in %d aggregate snapshots", violations)
	}
}

func TestCompletedIDs(t *testing.T) {
	executor := &fakeExecutor{
		perTask: func(job JobSpec, token *CancelToken, onProgress func(ProgressEvent)) error {
			if job.URL == "https://youtube.com/watch?v=bad" {
				return errors.New("boom")
			}
			return nil
		},
	}
	service := NewService(executor, 2)
	done, _ := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a", "bad", "b")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, done)

	ids := service.CompletedIDs()
	if len(ids) != 2 {
		t.Fatalf("Expected 2 completed ids, got %d", len(ids))
	}
	if _, ok := ids["bad"]; ok {
		t.Error("Failed task must not appear in completed ids")
	}
}

func TestRecorderReceivesCollectionContext(t *testing.T) {
	service := NewService(&fakeExecutor{}, 1)

	var mu sync.Mutex
	var gotRef *model.CollectionRef
	service.SetRecorder(recorderFunc(func(itemID, title, format, quality string, col *model.CollectionRef) {
		mu.Lock()
		defer mu.Unlock()
		gotRef = col
	}))
	done, _ := batchWaiter(t, service)

	ref := &model.CollectionRef{ID: "PL1", URL: "u", Title: "t"}
	if err := service.SubmitBatch(Batch{Collection: ref, Tasks: makeTasks("a")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, done)

	mu.Lock()
	defer mu.Unlock()
	if gotRef == nil || gotRef.ID != "PL1" {
		t.Errorf("Expected collection context PL1 on record, got %+v", gotRef)
	}
}

// recorderFunc adapts a function to the Recorder interface.
type recorderFunc func(itemID, title, format, quality string, col *model.CollectionRef)

func (f recorderFunc) RecordCompletion(itemID, title, format, quality string, col *model.CollectionRef) {
	f(itemID, title, format, quality, col)
}

// handoffExecutor hands each Execute call its own release gate, so a test can
// control the order in which overlapping runs finish.
type handoffExecutor struct {
	mu      sync.Mutex
	calls   int
	gates   []chan struct{}
	started chan int
}

func (e *handoffExecutor) Execute(ctx context.Context, job JobSpec, token *CancelToken, onProgress func(ProgressEvent)) error {
	e.mu.Lock()
	n := e.calls
	e.calls++
	e.mu.Unlock()

	e.started <- n
	<-e.gates[n]

	if token.Cancelled() {
		// A real engine may flush a buffered update on its way out.
		if onProgress != nil {
			onProgress(ProgressEvent{Phase: PhaseRunning, Percent: 7})
		}
		return ErrCancelled
	}
	return nil
}

func TestResubmitAfterCancel_StaleWorkerIgnored(t *testing.T) {
	// Cancel a batch and immediately re-submit the same item id while the old
	// worker is still draining. The old worker's result and late progress
	// belong to the cancelled submission and must not touch the new task.
	executor := &handoffExecutor{
		gates:   []chan struct{}{make(chan struct{}), make(chan struct{})},
		started: make(chan int, 2),
	}
	service := NewService(executor, 1)
	recorder := &countingRecorder{}
	service.SetRecorder(recorder)
	done, fires := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a")}); err != nil {
		t.Fatalf("First submit failed: %v", err)
	}
	<-executor.started
	service.CancelAll()
	waitDone(t, done)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a")}); err != nil {
		t.Fatalf("Resubmit failed: %v", err)
	}
	<-executor.started

	// Release the old worker first; its ErrCancelled return is stale.
	close(executor.gates[0])
	time.Sleep(50 * time.Millisecond)

	task, ok := service.GetTask("a")
	if !ok {
		t.Fatal("Task a missing from registry")
	}
	if task.Status != model.TaskStatusActive {
		t.Fatalf("Status = %s after stale worker drained, expected Active", task.Status)
	}
	if task.Progress == 7 {
		t.Error("Stale progress event leaked into the re-submitted task")
	}
	if got := fires.Load(); got != 1 {
		t.Fatalf("Batch complete fired %d times before the new worker finished, expected 1", got)
	}

	close(executor.gates[1])
	waitDone(t, done)

	task, _ = service.GetTask("a")
	if task.Status != model.TaskStatusCompleted {
		t.Errorf("Status = %s, expected Completed", task.Status)
	}
	if recorder.calls() != 1 {
		t.Errorf("Expected 1 history write for the completed fetch, got %d", recorder.calls())
	}
	if got := fires.Load(); got != 2 {
		t.Errorf("Batch complete fired %d times across both batches, expected 2", got)
	}
}

func TestClear(t *testing.T) {
	service := NewService(&fakeExecutor{}, 2)
	done, _ := batchWaiter(t, service)

	if err := service.SubmitBatch(Batch{Tasks: makeTasks("a", "b")}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, done)

	service.Clear()

	if tasks := service.GetAllTasks(); len(tasks) != 0 {
		t.Errorf("Expected empty registry after clear, got %d tasks", len(tasks))
	}
	if _, ok := service.GetTask("a"); ok {
		t.Error("Expected task a gone after clear")
	}
	if service.IsRunning() {
		t.Error("Expected not running after clear")
	}
}

func TestSubmitBatch_GeneratesMissingIDs(t *testing.T) {
	service := NewService(&fakeExecutor{}, 1)
	done, _ := batchWaiter(t, service)

	task := &model.DownloadTask{URL: "https://youtube.com/watch?v=x", Format: "mp3", Quality: "best"}
	if err := service.SubmitBatch(Batch{Tasks: []*model.DownloadTask{task}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if task.TaskID == "" {
		t.Error("Expected a generated task id")
	}
	waitDone(t, done)
}
