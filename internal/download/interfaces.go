package download

import (
	"context"

	"github.com/Nasapan23/sandsound/internal/model"
)

// Executor runs one fetch job to completion on the calling goroutine. It
// reports normalized progress events through onProgress and must consult the
// token at every progress callback, aborting the underlying operation as soon
// as it observes the flag set. A run aborted that way returns ErrCancelled,
// never a generic failure.
type Executor interface {
	Execute(ctx context.Context, job JobSpec, token *CancelToken, onProgress func(ProgressEvent)) error
}

// Recorder persists a completed download into durable history. col is nil for
// standalone (non-collection) downloads.
type Recorder interface {
	RecordCompletion(itemID, title, format, quality string, col *model.CollectionRef)
}
