package client

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrRequestBlocked is returned when the shared rate limit state says the
	// server asked us to back off.
	ErrRequestBlocked = errors.New("request blocked: server requested back-off")
)

// Class is a node in the Bauplan error hierarchy. Classes are sentinel
// values: errors.Is(err, ErrNotFound) reports whether err belongs to the
// not-found family, whatever its exact leaf.
type Class struct {
	name   string
	parent *Class
}

func newClass(name string, parent *Class) *Class {
	return &Class{name: name, parent: parent}
}

// Name returns the class name, e.g. "TableNotFoundError".
func (c *Class) Name() string { return c.name }

// Parent returns the enclosing class, or nil for the root.
func (c *Class) Parent() *Class { return c.parent }

func (c *Class) Error() string { return c.name }

// Is reports whether c is target or one of target's descendants.
func (c *Class) Is(target error) bool {
	t, ok := target.(*Class)
	if !ok {
		return false
	}
	for n := c; n != nil; n = n.parent {
		if n == t {
			return true
		}
	}
	return false
}

// Ancestors returns the chain from c up to the root, c first.
func (c *Class) Ancestors() []*Class {
	var out []*Class
	for n := c; n != nil; n = n.parent {
		out = append(out, n)
	}
	return out
}

// Error class tree.
var (
	ErrBauplan = newClass("BauplanError", nil)
	ErrHTTP    = newClass("BauplanHTTPError", ErrBauplan)

	ErrBadRequest      = newClass("BadRequestError", ErrHTTP)
	ErrInvalidData     = newClass("InvalidDataError", ErrBadRequest)
	ErrInvalidRef      = newClass("InvalidRefError", ErrBadRequest)
	ErrNotABranchRef   = newClass("NotABranchRefError", ErrInvalidRef)
	ErrNotAWriteBranch = newClass("NotAWriteBranchRefError", ErrNotABranchRef)
	ErrNotATagRef      = newClass("NotATagRefError", ErrInvalidRef)
	ErrSameRef         = newClass("SameRefError", ErrInvalidRef)

	ErrUnauthorized = newClass("UnauthorizedError", ErrHTTP)

	ErrForbidden                = newClass("ForbiddenError", ErrHTTP)
	ErrCreateBranchForbidden    = newClass("CreateBranchForbiddenError", ErrForbidden)
	ErrCreateNamespaceForbidden = newClass("CreateNamespaceForbiddenError", ErrForbidden)
	ErrCreateTagForbidden       = newClass("CreateTagForbiddenError", ErrForbidden)
	ErrDeleteBranchForbidden    = newClass("DeleteBranchForbiddenError", ErrForbidden)
	ErrDeleteNamespaceForbidden = newClass("DeleteNamespaceForbiddenError", ErrForbidden)
	ErrDeleteTableForbidden     = newClass("DeleteTableForbiddenError", ErrForbidden)
	ErrDeleteTagForbidden       = newClass("DeleteTagForbiddenError", ErrForbidden)
	ErrMergeForbidden           = newClass("MergeForbiddenError", ErrForbidden)
	ErrRenameBranchForbidden    = newClass("RenameBranchForbiddenError", ErrForbidden)
	ErrRenameTagForbidden       = newClass("RenameTagForbiddenError", ErrForbidden)
	ErrRevertTableForbidden     = newClass("RevertTableForbiddenError", ErrForbidden)

	ErrAccessDenied = newClass("AccessDeniedError", ErrHTTP)

	ErrNotFound          = newClass("NotFoundError", ErrHTTP)
	ErrResourceNotFound  = newClass("ResourceNotFoundError", ErrNotFound)
	ErrBranchNotFound    = newClass("BranchNotFoundError", ErrResourceNotFound)
	ErrNamespaceNotFound = newClass("NamespaceNotFoundError", ErrResourceNotFound)
	ErrRefNotFound       = newClass("RefNotFoundError", ErrResourceNotFound)
	ErrTableNotFound     = newClass("TableNotFoundError", ErrResourceNotFound)
	ErrTagNotFound       = newClass("TagNotFoundError", ErrResourceNotFound)
	ErrAPIMethod         = newClass("ApiMethodError", ErrResourceNotFound)

	ErrMethodNotAllowed = newClass("MethodNotAllowedError", ErrHTTP)
	ErrAPIRoute         = newClass("ApiRouteError", ErrMethodNotAllowed)

	ErrConflict                     = newClass("ConflictError", ErrHTTP)
	ErrNamespaceUnresolved          = newClass("NamespaceUnresolvedError", ErrConflict)
	ErrUpdateConflict               = newClass("UpdateConflictError", ErrConflict)
	ErrBranchExists                 = newClass("BranchExistsError", ErrUpdateConflict)
	ErrBranchHeadChanged            = newClass("BranchHeadChangedError", ErrUpdateConflict)
	ErrMergeConflict                = newClass("MergeConflictError", ErrUpdateConflict)
	ErrNamespaceExists              = newClass("NamespaceExistsError", ErrUpdateConflict)
	ErrNamespaceIsNotEmpty          = newClass("NamespaceIsNotEmptyError", ErrUpdateConflict)
	ErrRevertDestinationTableExists = newClass("RevertDestinationTableExistsError", ErrUpdateConflict)
	ErrRevertIdenticalTable         = newClass("RevertIdenticalTableError", ErrUpdateConflict)
	ErrTagExists                    = newClass("TagExistsError", ErrUpdateConflict)

	ErrTooManyRequests    = newClass("TooManyRequestsError", ErrHTTP)
	ErrInternal           = newClass("InternalError", ErrHTTP)
	ErrBadGateway         = newClass("BadGatewayError", ErrHTTP)
	ErrServiceUnavailable = newClass("ServiceUnavailableError", ErrHTTP)
	ErrGatewayTimeout     = newClass("GatewayTimeoutError", ErrHTTP)

	ErrTableCreatePlan            = newClass("TableCreatePlanError", ErrBauplan)
	ErrTableCreatePlanStatus      = newClass("TableCreatePlanStatusError", ErrTableCreatePlan)
	ErrTableCreatePlanApplyStatus = newClass("TableCreatePlanApplyStatusError", ErrBauplan)

	ErrJob         = newClass("JobError", ErrBauplan)
	ErrQuery       = newClass("BauplanQueryError", ErrJob)
	ErrNoResults   = newClass("NoResultsFoundError", ErrBauplan)
	ErrInvalidPlan = newClass("InvalidPlanError", ErrBauplan)
	ErrTransport   = newClass("TransportError", ErrBauplan)
)

// HTTPError is a classified non-2xx API response.
type HTTPError struct {
	// Class is the most specific class for this failure.
	Class *Class

	// Code is the HTTP status code.
	Code int

	// Type is the error type tag reported by the server, or the tag of the
	// kind derived from the failing operation. Empty for generic failures.
	Type string

	Message string

	// Kind carries the typed context. Nil for generic failures.
	Kind ErrorKind

	// Op is the operation that failed.
	Op OpName
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return formatError(e.Class, e.Type, e.Code, e.Message, nil)
}

// Is reports class membership, so errors.Is(err, ErrNotFound) works for
// every descendant of the not-found family.
func (e *HTTPError) Is(target error) bool {
	return e.Class != nil && e.Class.Is(target)
}

// PlanError is a failed table-creation plan or plan application. It sits
// under ErrBauplan, outside the HTTP family, even when it was reported
// through an HTTP response.
type PlanError struct {
	Class *Class

	// Code is the HTTP status code, or 0 when the failure came from the
	// plan job status.
	Code int

	Type    string
	Message string
	Kind    ErrorKind

	// JobID is the plan job, when known.
	JobID string
}

// Error implements the error interface.
func (e *PlanError) Error() string {
	return formatError(e.Class, e.Type, e.Code, e.Message, nil)
}

// Is reports class membership.
func (e *PlanError) Is(target error) bool {
	return e.Class != nil && e.Class.Is(target)
}

// TransportError is a request that never produced an HTTP response.
type TransportError struct {
	Op  OpName
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return formatError(ErrTransport, string(e.Op), 0, "", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports class membership.
func (e *TransportError) Is(target error) bool {
	return ErrTransport.Is(target)
}

func formatError(class *Class, typ string, code int, msg string, err error) string {
	var b strings.Builder
	if class != nil {
		b.WriteString(class.Name())
	} else {
		b.WriteString(ErrBauplan.Name())
	}
	if typ != "" {
		b.WriteString(" ")
		b.WriteString(typ)
	}
	if code != 0 {
		fmt.Fprintf(&b, " (status %d)", code)
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if err != nil {
		fmt.Fprintf(&b, ": %v", err)
	}
	return b.String()
}

// ClassOf returns the class of err, or nil when err is not a Bauplan error.
func ClassOf(err error) *Class {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Class
	}
	var planErr *PlanError
	if errors.As(err, &planErr) {
		return planErr.Class
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return ErrTransport
	}
	return nil
}

// KindOf returns the typed context carried by err, or nil.
func KindOf(err error) ErrorKind {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Kind
	}
	var planErr *PlanError
	if errors.As(err, &planErr) {
		return planErr.Kind
	}
	return nil
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	var planErr *PlanError
	if errors.As(err, &planErr) {
		return planErr.Code
	}
	return 0
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx other than 429 will fail the same way again
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
