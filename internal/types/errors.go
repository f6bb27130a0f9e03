package types

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable is returned when the backing store is not configured.
var ErrStoreUnavailable = errors.New("store unavailable")

// FieldIssue is one validation failure for one answer field.
type FieldIssue struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// ValidationError carries the issue list from a failed answer validation.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("answer validation failed (%d issues)", len(e.Issues))
}

// TemplateNotFoundError signals a submit against a template that does not
// exist in the study.
type TemplateNotFoundError struct {
	StudyID        string
	FormTemplateID int64
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("form template %d not found in study %s", e.FormTemplateID, e.StudyID)
}

// NotFoundError signals a lookup that matched nothing.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return e.What + " not found"
}

// CycleError signals a dependency cycle between compute definitions.
type CycleError struct {
	Key string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("compute dependency cycle at %q", e.Key)
}

// PayloadError signals a structurally invalid request body.
type PayloadError struct {
	Msg string
}

func (e *PayloadError) Error() string {
	return e.Msg
}
