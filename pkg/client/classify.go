package client

import (
	"net/http"
	"strconv"

	"github.com/bauplanlabs/bauplan-go/pkg/refs"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OpName identifies an API operation for error classification.
type OpName string

const (
	OpGetTags         OpName = "get_tags"
	OpGetBranches     OpName = "get_branches"
	OpGetNamespaces   OpName = "get_namespaces"
	OpGetTables       OpName = "get_tables"
	OpGetJobs         OpName = "get_jobs"
	OpGetTag          OpName = "get_tag"
	OpCreateTag       OpName = "create_tag"
	OpDeleteTag       OpName = "delete_tag"
	OpGetBranch       OpName = "get_branch"
	OpCreateBranch    OpName = "create_branch"
	OpDeleteBranch    OpName = "delete_branch"
	OpGetNamespace    OpName = "get_namespace"
	OpCreateNamespace OpName = "create_namespace"
	OpDeleteNamespace OpName = "delete_namespace"
	OpGetTable        OpName = "get_table"
	OpDeleteTable     OpName = "delete_table"
	OpGetCommits      OpName = "get_commits"
	OpRenameBranch    OpName = "rename_branch"
	OpRenameTag       OpName = "rename_tag"
	OpMergeBranch     OpName = "merge_branch"
	OpRevertTable     OpName = "revert_table"
	OpGetJob          OpName = "get_job"
	OpCancelJob       OpName = "cancel_job"
	OpCreateTablePlan OpName = "create_table_plan"
	OpApplyTablePlan  OpName = "apply_table_plan"
)

// Operation is the failing call together with the arguments it was made
// with. The arguments fill in typed context when the server response has
// none.
type Operation struct {
	Name      OpName
	Ref       string
	Branch    string
	Tag       string
	Namespace string
	Table     string
	JobID     string

	// NewName is the target name of a rename.
	NewName string
}

type opKey struct {
	status int
	op     OpName
}

// opKinds builds a kind from the operation's arguments for well-known
// (status, operation) pairs.
var opKinds = map[opKey]func(Operation) ErrorKind{
	{http.StatusNotFound, OpGetTable}:        tableNotFound,
	{http.StatusNotFound, OpDeleteTable}:     tableNotFound,
	{http.StatusNotFound, OpCreateTablePlan}: tableNotFound,
	{http.StatusNotFound, OpGetNamespace}:    namespaceNotFound,
	{http.StatusNotFound, OpDeleteNamespace}: namespaceNotFound,
	{http.StatusNotFound, OpGetTag}:          tagNotFound,
	{http.StatusNotFound, OpDeleteTag}:       tagNotFound,
	{http.StatusNotFound, OpGetBranch}:       branchNotFound,
	{http.StatusNotFound, OpDeleteBranch}:    branchNotFound,
	{http.StatusNotFound, OpGetTables}:       refNotFound,
	{http.StatusNotFound, OpGetNamespaces}:   refNotFound,
	{http.StatusNotFound, OpGetCommits}:      refNotFound,
	{http.StatusNotFound, OpRenameBranch}:    branchNotFound,
	{http.StatusNotFound, OpRenameTag}:       tagNotFound,
	{http.StatusNotFound, OpMergeBranch}:     refNotFound,
	{http.StatusNotFound, OpRevertTable}:     tableNotFound,
	{http.StatusForbidden, OpMergeBranch}: func(op Operation) ErrorKind {
		return MergeForbidden{SourceRef: op.Ref, DestinationBranch: op.Branch}
	},
	{http.StatusForbidden, OpRenameBranch}: func(op Operation) ErrorKind {
		return RenameBranchForbidden{OldBranchName: op.Branch, NewBranchName: op.NewName}
	},
	{http.StatusForbidden, OpRenameTag}: func(op Operation) ErrorKind {
		return RenameTagForbidden{OldTagName: op.Tag, NewTagName: op.NewName}
	},
	{http.StatusForbidden, OpRevertTable}: func(op Operation) ErrorKind {
		return RevertTableForbidden{TableName: op.Table, SourceRef: op.Ref, DestinationBranch: op.Branch}
	},
	{http.StatusConflict, OpRenameBranch}: func(op Operation) ErrorKind {
		return BranchExists{BranchName: op.NewName}
	},
	{http.StatusConflict, OpRenameTag}: func(op Operation) ErrorKind {
		return TagExists{TagName: op.NewName}
	},
	{http.StatusConflict, OpMergeBranch}: func(op Operation) ErrorKind {
		return MergeConflict{SourceRef: parseOpRef(op.Ref), DestinationRef: refs.NewBranch(op.Branch, "")}
	},
	{http.StatusConflict, OpRevertTable}: func(op Operation) ErrorKind {
		return RevertDestinationTableExists{SourceTableName: op.Table, DestinationTableName: op.Table}
	},
	{http.StatusConflict, OpDeleteTable}: func(op Operation) ErrorKind {
		return BranchHeadChanged{InputRef: parseOpRef(op.Ref)}
	},
	{http.StatusConflict, OpCreateBranch}: func(op Operation) ErrorKind {
		return BranchExists{BranchName: op.Branch}
	},
	{http.StatusConflict, OpCreateTag}: func(op Operation) ErrorKind {
		return TagExists{TagName: op.Tag}
	},
	{http.StatusConflict, OpCreateNamespace}: func(op Operation) ErrorKind {
		return NamespaceExists{NamespaceName: op.Namespace}
	},
	{http.StatusConflict, OpDeleteNamespace}: func(op Operation) ErrorKind {
		return NamespaceIsNotEmpty{NamespaceName: op.Namespace, BranchName: op.Branch}
	},
}

func tableNotFound(op Operation) ErrorKind {
	return TableNotFound{TableName: op.Table, InputRef: op.Ref}
}

func namespaceNotFound(op Operation) ErrorKind {
	return NamespaceNotFound{NamespaceName: op.Namespace, InputRef: op.Ref}
}

func tagNotFound(op Operation) ErrorKind {
	return TagNotFound{TagName: op.Tag}
}

func branchNotFound(op Operation) ErrorKind {
	return BranchNotFound{BranchName: op.Branch}
}

func refNotFound(op Operation) ErrorKind {
	return RefNotFound{InputRef: op.Ref}
}

// parseOpRef reads a ref argument as a branch ref. Unparseable input is kept
// as the name.
func parseOpRef(s string) refs.CatalogRef {
	r, err := refs.Parse(s)
	if err != nil {
		return refs.NewBranch(s, "")
	}
	return r
}

// statusClasses is the fallback when neither the body nor the operation
// identifies the failure.
var statusClasses = map[int]*Class{
	http.StatusBadRequest:          ErrInvalidData,
	http.StatusUnauthorized:        ErrUnauthorized,
	http.StatusForbidden:           ErrAccessDenied,
	http.StatusNotFound:            ErrResourceNotFound,
	http.StatusMethodNotAllowed:    ErrAPIRoute,
	http.StatusConflict:            ErrUpdateConflict,
	http.StatusTooManyRequests:     ErrTooManyRequests,
	http.StatusInternalServerError: ErrInternal,
	http.StatusBadGateway:          ErrBadGateway,
	http.StatusServiceUnavailable:  ErrServiceUnavailable,
	http.StatusGatewayTimeout:      ErrGatewayTimeout,
}

// Envelope is the API response wrapper.
type Envelope struct {
	Data     jsoniter.RawMessage `json:"data"`
	Metadata struct {
		PaginationToken string `json:"pagination_token"`
	} `json:"metadata"`
	Ref   jsoniter.RawMessage `json:"ref,omitempty"`
	Error *RawError           `json:"error,omitempty"`
}

// RawError is the error member of a failed response.
type RawError struct {
	Type    string              `json:"type"`
	Context jsoniter.RawMessage `json:"context,omitempty"`
	Message string              `json:"message"`
}

// Classify turns a failed response into a typed error. It is pure: the same
// inputs always produce the same error. The result is a *HTTPError, or a
// *PlanError for plan operations and plan status failures.
//
// Resolution order: an error type in the body wins; otherwise a known
// (status, operation) pair supplies the kind from op's arguments; otherwise
// the status alone picks a class and Kind is nil.
func Classify(op Operation, status int, body []byte) error {
	var (
		raw     *RawError
		kind    ErrorKind
		typ     string
		message string
	)

	if len(body) > 0 {
		var env Envelope
		if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
			raw = env.Error
			typ = raw.Type
			message = raw.Message
		}
	}

	if raw != nil && raw.Type != "" {
		if decode, ok := kindDecoders[raw.Type]; ok {
			k, err := decode(raw.Context)
			if err != nil {
				log.Debug().
					Err(err).
					Str("type", raw.Type).
					Msg("Undecodable error context, falling back to operation lookup")
			} else {
				kind = k
			}
		}
	}

	if kind == nil {
		if build, ok := opKinds[opKey{status, op.Name}]; ok {
			kind = build(op)
			typ = kind.Type()
		}
	}

	if message == "" {
		message = statusMessage(status)
	}

	var class *Class
	if kind != nil {
		class = kind.class()
	} else if c, ok := statusClasses[status]; ok {
		class = c
	} else {
		class = ErrHTTP
	}

	// A plan operation rejected without a more specific reason is a plan
	// failure, not a generic HTTP one.
	if kind == nil && isPlanOp(op.Name) && (class == ErrInvalidData || class == ErrHTTP) {
		class = planFallbackClass(op.Name)
	}

	if isPlanClass(class) {
		return &PlanError{
			Class:   class,
			Code:    status,
			Type:    typ,
			Message: message,
			Kind:    kind,
			JobID:   op.JobID,
		}
	}

	return &HTTPError{
		Class:   class,
		Code:    status,
		Type:    typ,
		Message: message,
		Kind:    kind,
		Op:      op.Name,
	}
}

func statusMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return strconv.Itoa(status) + " " + text
	}
	return strconv.Itoa(status)
}

func isPlanOp(name OpName) bool {
	return name == OpCreateTablePlan || name == OpApplyTablePlan
}

func isPlanClass(c *Class) bool {
	return c.Is(ErrTableCreatePlan) || c.Is(ErrTableCreatePlanApplyStatus)
}

func planFallbackClass(name OpName) *Class {
	if name == OpApplyTablePlan {
		return ErrTableCreatePlanApplyStatus
	}
	return ErrTableCreatePlan
}
