package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"inspectra/internal/client/models"
	"inspectra/internal/client/remote"
	"inspectra/internal/imgx"
	"inspectra/internal/logging"
)

// BatchSpec identifies the record a batch of uploads belongs to. Its fields
// are encoded into every object path so paths are deterministic and
// collision-free across repeated attempts for the same record.
type BatchSpec struct {
	ProcessCode  string
	ProductModel string
	Serial       string
	RecordID     string
}

// ObjectPath builds the storage path for one photo. itemIndex and seq are
// 1-based.
func ObjectPath(spec BatchSpec, itemIndex, seq int) string {
	return fmt.Sprintf("%s/%s/%s/%s/item%02d_%d.jpg",
		spec.ProcessCode, spec.ProductModel, spec.Serial, spec.RecordID, itemIndex, seq)
}

// UploadTask is one unit of work in a batch: either a photo to compress and
// transfer, or an instantly-completed placeholder for an item marked not
// applicable. Tasks live only for the duration of one batch commit.
type UploadTask struct {
	Item          string
	ItemIndex     int // 1-based position of the item in the checklist
	Seq           int // 1-based position of the photo within the item
	Attachment    models.Attachment
	NotApplicable bool
}

// UploadResult is the settled outcome of one task.
type UploadResult struct {
	Task UploadTask
	Path string
	Err  error
}

// UploadFailure names one attachment that did not transfer.
type UploadFailure struct {
	Item     string
	Filename string
}

// ProgressFunc receives the monotonically increasing completed count after
// every task settles, independent of per-task outcome.
type ProgressFunc func(completed, total int)

// UploadPipeline executes a batch of independent per-photo uploads in
// sequential windows of bounded size: operations within a window run
// concurrently, and window k+1 never starts before window k fully settles.
// Failures are accumulated, never short-circuited.
type UploadPipeline struct {
	objects remote.ObjectStore
	log     logging.Logger

	maxEdge int
	quality int
}

func NewUploadPipeline(objects remote.ObjectStore, maxEdge, quality int, log logging.Logger) *UploadPipeline {
	return &UploadPipeline{
		objects: objects,
		log:     log.With("component", "upload_pipeline"),
		maxEdge: maxEdge,
		quality: quality,
	}
}

// BuildTasks derives the upload tasks for a draft. itemOrder fixes the
// 1-based item indices used in object paths. Items the operator never
// touched contribute no tasks; items marked not applicable contribute one
// zero-cost task so they still count toward batch progress.
func BuildTasks(draft *models.Draft, itemOrder []string) []UploadTask {
	order := itemOrder
	if order == nil {
		order = make([]string, 0, len(draft.Items))
		for item := range draft.Items {
			order = append(order, item)
		}
		sort.Strings(order)
	}

	var tasks []UploadTask
	for i, item := range order {
		st, ok := draft.Items[item]
		if !ok || !st.Touched() {
			continue
		}
		if st.NotApplicable {
			tasks = append(tasks, UploadTask{Item: item, ItemIndex: i + 1, NotApplicable: true})
			continue
		}
		for seq, a := range st.Attachments {
			tasks = append(tasks, UploadTask{
				Item:       item,
				ItemIndex:  i + 1,
				Seq:        seq + 1,
				Attachment: a,
			})
		}
	}
	return tasks
}

// Run executes the batch with at most concurrency simultaneous transfers
// and returns one result per task, in task order. All tasks are allowed to
// settle before the batch is judged; progress is published after every
// settle.
func (p *UploadPipeline) Run(ctx context.Context, spec BatchSpec, tasks []UploadTask, concurrency int, progress ProgressFunc) []UploadResult {
	if concurrency < 1 {
		concurrency = 1
	}

	total := len(tasks)
	results := make([]UploadResult, total)

	var mu sync.Mutex
	completed := 0
	// Settles are serialized so the published completed-count is strictly
	// monotonic and callbacks never interleave.
	settle := func(i int, res UploadResult) {
		mu.Lock()
		defer mu.Unlock()
		results[i] = res
		completed++
		if progress != nil {
			progress(completed, total)
		}
	}

	for start := 0; start < total; start += concurrency {
		end := start + concurrency
		if end > total {
			end = total
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			task := tasks[i]

			if task.NotApplicable {
				// Deliberately skipped items settle instantly: they count
				// toward the denominator and numerator but perform no
				// network operation.
				settle(i, UploadResult{Task: task, Path: ""})
				continue
			}

			wg.Add(1)
			go func(i int, task UploadTask) {
				defer wg.Done()
				path, err := p.runTask(ctx, spec, task)
				settle(i, UploadResult{Task: task, Path: path, Err: err})
			}(i, task)
		}
		wg.Wait()
	}

	return results
}

func (p *UploadPipeline) runTask(ctx context.Context, spec BatchSpec, task UploadTask) (string, error) {
	data, err := imgx.Downscale(task.Attachment.Bytes, p.maxEdge, p.quality)
	if err != nil {
		return "", fmt.Errorf("compress %s: %w", task.Attachment.Filename, err)
	}

	path := ObjectPath(spec, task.ItemIndex, task.Seq)
	stored, err := p.objects.Put(ctx, path, data, "image/jpeg")
	if err != nil {
		p.log.Warn(ctx, "upload task failed",
			"item", task.Item, "filename", task.Attachment.Filename, "error", err)
		return "", fmt.Errorf("upload %s: %w", task.Attachment.Filename, err)
	}
	return stored, nil
}

// Failures extracts the (item, filename) pairs of all failed tasks.
func Failures(results []UploadResult) []UploadFailure {
	var failures []UploadFailure
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, UploadFailure{
				Item:     r.Task.Item,
				Filename: r.Task.Attachment.Filename,
			})
		}
	}
	return failures
}
