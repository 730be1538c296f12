package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/Ning0612/pkgsync/internal/domain"
)

// Reporter receives per-path progress from a sync run.
// Paths are processed one at a time, in order.
type Reporter interface {
	// SetTotal sets the number of paths the run will visit
	SetTotal(paths int)
	// Start begins work on one path
	Start(path string, action domain.ActionType)
	// Complete marks the current path as done
	Complete()
	// Error reports the failure that aborts the run
	Error(err error)
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type      UpdateType
	Path      string
	Action    domain.ActionType
	Completed int
	Total     int
	Changed   int
	Error     error
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdateStart UpdateType = iota
	UpdateComplete
	UpdateError
)

// CallbackReporter implements Reporter with a callback function
type CallbackReporter struct {
	callback  Callback
	mu        sync.Mutex
	path      string
	action    domain.ActionType
	total     int
	completed int
	changed   int
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return &CallbackReporter{
		callback: callback,
	}
}

// SetTotal sets the number of paths to visit
func (r *CallbackReporter) SetTotal(paths int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = paths
	r.completed = 0
	r.changed = 0
}

// Start begins work on one path
func (r *CallbackReporter) Start(path string, action domain.ActionType) {
	r.mu.Lock()
	r.path = path
	r.action = action
	update := r.snapshot(UpdateStart)
	callback := r.callback
	r.mu.Unlock()

	// Call callback outside lock to prevent deadlock
	if callback != nil {
		callback(update)
	}
}

// Complete marks the current path as done
func (r *CallbackReporter) Complete() {
	r.mu.Lock()
	r.completed++
	if r.action != domain.ActionSkip {
		r.changed++
	}
	update := r.snapshot(UpdateComplete)
	callback := r.callback
	r.mu.Unlock()

	if callback != nil {
		callback(update)
	}
}

// Error reports the failure on the current path
func (r *CallbackReporter) Error(err error) {
	r.mu.Lock()
	update := r.snapshot(UpdateError)
	update.Error = err
	callback := r.callback
	r.mu.Unlock()

	if callback != nil {
		callback(update)
	}
}

func (r *CallbackReporter) snapshot(t UpdateType) Update {
	return Update{
		Type:      t,
		Path:      r.path,
		Action:    r.action,
		Completed: r.completed,
		Total:     r.total,
		Changed:   r.changed,
	}
}

// NewWriterReporter prints one line per changed path and every error to w.
// Skipped paths only advance the counter.
func NewWriterReporter(w io.Writer) *CallbackReporter {
	return NewCallbackReporter(func(u Update) {
		switch u.Type {
		case UpdateComplete:
			if u.Action != domain.ActionSkip {
				fmt.Fprintf(w, "%s %-13s %s\n", FormatProgress(int64(u.Completed), int64(u.Total), 20), u.Action, u.Path)
			}
		case UpdateError:
			fmt.Fprintf(w, "%s %-13s %s: %v\n", FormatProgress(int64(u.Completed), int64(u.Total), 20), u.Action, u.Path, u.Error)
		}
	})
}

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) SetTotal(paths int)                          {}
func (NullReporter) Start(path string, action domain.ActionType) {}
func (NullReporter) Complete()                                   {}
func (NullReporter) Error(err error)                             {}

// FormatProgress returns a progress bar string
func FormatProgress(current, total int64, width int) string {
	if total == 0 {
		return ""
	}

	percent := float64(current) / float64(total)
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}

	bar := make([]byte, width)
	for i := 0; i < width; i++ {
		if i < filled {
			bar[i] = '='
		} else if i == filled {
			bar[i] = '>'
		} else {
			bar[i] = ' '
		}
	}

	return fmt.Sprintf("[%s] %5.1f%%", string(bar), percent*100)
}
