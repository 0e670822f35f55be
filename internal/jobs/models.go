package jobs

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"typeset/internal/services"
)

// State is a job lifecycle state. States are recorded as an append-only
// history; the newest entry is the job's current state.
type State string

const (
	StateSubmitted           State = "submitted"
	StateGeneratingTagged    State = "generating_tagged_text"
	StateTaggedTextGenerated State = "tagged_text_generated"
	StateGeneratingPreview   State = "generating_preview"
	StatePreviewGenerated    State = "preview_generated"
	StateCancelled           State = "cancelled"
	StateError               State = "error"
)

// StateSource identifies which pipeline stage recorded a state entry.
type StateSource string

const (
	SourceGeneric    StateSource = "generic"
	SourceTaggedText StateSource = "tagged_text_generation"
	SourcePreview    StateSource = "preview_generation"
)

// StateEntry is one record in a job's state history.
type StateEntry struct {
	State     State       `json:"state"`
	Source    StateSource `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
}

// LayoutParams carries the typesetting options a submitter may override.
// Nil pointer fields mean the project default applies.
type LayoutParams struct {
	BookFormat         string   `json:"book_format,omitempty"`
	FontSizeInPts      *float64 `json:"font_size_in_pts,omitempty"`
	FontLeadingInPts   *float64 `json:"font_leading_in_pts,omitempty"`
	PageWidthInPts     *float64 `json:"page_width_in_pts,omitempty"`
	PageHeightInPts    *float64 `json:"page_height_in_pts,omitempty"`
	PageHeaderInPts    *float64 `json:"page_header_in_pts,omitempty"`
	UseCustomFootnotes bool     `json:"use_custom_footnotes"`
	UseProjectFont     bool     `json:"use_project_font"`
}

// Job is a preview production job.
type Job struct {
	ID          string       `json:"id"`
	ProjectName string       `json:"project_name"`
	User        string       `json:"user"`
	Layout      LayoutParams `json:"layout"`

	IsError      bool   `json:"is_error"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorDetail  string `json:"error_detail,omitempty"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	StateHistory []StateEntry `json:"state_history"`
}

// AppendState records a state transition. The history stays sorted by
// timestamp with insertion order as the tie-break, so concurrent
// writers with equal clocks keep their relative order. Timestamp fields
// derived from the lifecycle are set on first reaching the matching
// state and never overwritten.
func (j *Job) AppendState(state State, source StateSource, at time.Time) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	j.StateHistory = append(j.StateHistory, StateEntry{
		State:     state,
		Source:    source,
		Timestamp: at,
	})
	sort.SliceStable(j.StateHistory, func(a, b int) bool {
		return j.StateHistory[a].Timestamp.Before(j.StateHistory[b].Timestamp)
	})

	switch state {
	case StateGeneratingTagged:
		if j.StartedAt == nil {
			ts := at
			j.StartedAt = &ts
		}
	case StatePreviewGenerated:
		if j.CompletedAt == nil {
			ts := at
			j.CompletedAt = &ts
		}
	case StateCancelled:
		if j.CancelledAt == nil {
			ts := at
			j.CancelledAt = &ts
		}
	}
}

// CurrentState returns the newest state entry, or false when the
// history is empty.
func (j *Job) CurrentState() (StateEntry, bool) {
	if len(j.StateHistory) == 0 {
		return StateEntry{}, false
	}
	return j.StateHistory[len(j.StateHistory)-1], true
}

// HasState reports whether any entry in the history carries the state.
func (j *Job) HasState(state State) bool {
	for _, entry := range j.StateHistory {
		if entry.State == state {
			return true
		}
	}
	return false
}

// StateTime returns the timestamp of the earliest entry with the state.
func (j *Job) StateTime(state State) (time.Time, bool) {
	for _, entry := range j.StateHistory {
		if entry.State == state {
			return entry.Timestamp, true
		}
	}
	return time.Time{}, false
}

// IsTerminal reports whether the job has reached a final state. Once
// terminal, supervisors and pollers must leave the job alone.
func (j *Job) IsTerminal() bool {
	for _, entry := range j.StateHistory {
		switch entry.State {
		case StatePreviewGenerated, StateCancelled, StateError:
			return true
		}
	}
	return false
}

// SetError marks the job failed and appends the Error entry attributed
// to the reporting stage.
func (j *Job) SetError(message, detail string, source StateSource) {
	j.IsError = true
	j.ErrorMessage = message
	j.ErrorDetail = detail
	j.AppendState(StateError, source, time.Now().UTC())
}

// ReferenceTime is the timestamp retention decisions are measured from.
// Finished jobs age from completion or cancellation, stuck jobs from
// when work started, never-started jobs from submission.
func (j *Job) ReferenceTime() time.Time {
	switch {
	case j.CompletedAt != nil:
		return *j.CompletedAt
	case j.CancelledAt != nil:
		return *j.CancelledAt
	case j.StartedAt != nil:
		return *j.StartedAt
	case j.SubmittedAt != nil:
		return *j.SubmittedAt
	default:
		return time.Time{}
	}
}

// Validate checks a job submission before an ID is assigned.
func (j *Job) Validate() error {
	if j.ID != "" {
		return services.Wrap(services.ErrValidation, "", "submit", "id must not be set by the submitter", nil)
	}
	name := strings.TrimSpace(j.ProjectName)
	if name == "" {
		return services.Wrap(services.ErrValidation, "", "submit", "project name is required", nil)
	}
	for _, r := range name {
		if !isAlphanumeric(r) {
			return services.Wrap(services.ErrValidation, "", "submit",
				fmt.Sprintf("project name %q must be alphanumeric", name), nil)
		}
	}
	return nil
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Label returns a short human description for progress output.
func (s State) Label() string {
	switch s {
	case StateSubmitted:
		return "Submitted"
	case StateGeneratingTagged:
		return "Generating tagged text"
	case StateTaggedTextGenerated:
		return "Tagged text generated"
	case StateGeneratingPreview:
		return "Generating preview"
	case StatePreviewGenerated:
		return "Preview generated"
	case StateCancelled:
		return "Cancelled"
	case StateError:
		return "Error"
	default:
		return string(s)
	}
}
