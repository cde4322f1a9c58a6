package client

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bauplanlabs/bauplan-go/pkg/refs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		op        Operation
		status    int
		body      string
		wantClass *Class
		wantType  string
		wantKind  ErrorKind
		wantMsg   string
	}{
		{
			name:      "structured body wins",
			op:        Operation{Name: OpGetTable, Table: "from_args"},
			status:    http.StatusNotFound,
			body:      `{"error":{"type":"TABLE_NOT_FOUND","context":{"table_name":"from_body","input_ref":"main","ref":{"type":"BRANCH","name":"main","hash":"abc"}},"message":"no such table"}}`,
			wantClass: ErrTableNotFound,
			wantType:  "TABLE_NOT_FOUND",
			wantKind: TableNotFound{
				TableName: "from_body",
				InputRef:  "main",
				Ref:       refs.NewBranch("main", "abc"),
			},
			wantMsg: "no such table",
		},
		{
			name:      "structured body on an unrelated status",
			op:        Operation{Name: OpCreateBranch},
			status:    http.StatusBadRequest,
			body:      `{"error":{"type":"NOT_A_WRITE_BRANCH_REF","context":{"input_ref":"main"},"message":"read only"}}`,
			wantClass: ErrNotAWriteBranch,
			wantType:  "NOT_A_WRITE_BRANCH_REF",
			wantKind:  NotAWriteBranchRef{InputRef: "main"},
			wantMsg:   "read only",
		},
		{
			name:      "structured type without context",
			op:        Operation{Name: OpDeleteTag},
			status:    http.StatusForbidden,
			body:      `{"error":{"type":"DELETE_TAG_FORBIDDEN","message":"no"}}`,
			wantClass: ErrDeleteTagForbidden,
			wantType:  "DELETE_TAG_FORBIDDEN",
			wantKind:  DeleteTagForbidden{},
			wantMsg:   "no",
		},
		{
			name:      "operation lookup fills context from arguments",
			op:        Operation{Name: OpGetNamespace, Namespace: "raw", Ref: "dev"},
			status:    http.StatusNotFound,
			wantClass: ErrNamespaceNotFound,
			wantType:  "NAMESPACE_NOT_FOUND",
			wantKind:  NamespaceNotFound{NamespaceName: "raw", InputRef: "dev"},
			wantMsg:   "404 Not Found",
		},
		{
			name:      "unknown body type falls back to operation lookup",
			op:        Operation{Name: OpCreateTag, Tag: "v1"},
			status:    http.StatusConflict,
			body:      `{"error":{"type":"SOMETHING_NEW","message":"exists"}}`,
			wantClass: ErrTagExists,
			wantType:  "TAG_EXISTS",
			wantKind:  TagExists{TagName: "v1"},
			wantMsg:   "exists",
		},
		{
			name:      "delete non-empty namespace",
			op:        Operation{Name: OpDeleteNamespace, Namespace: "raw", Branch: "dev"},
			status:    http.StatusConflict,
			wantClass: ErrNamespaceIsNotEmpty,
			wantType:  "NAMESPACE_IS_NOT_EMPTY",
			wantKind:  NamespaceIsNotEmpty{NamespaceName: "raw", BranchName: "dev"},
			wantMsg:   "409 Conflict",
		},
		{
			name:      "merge forbidden",
			op:        Operation{Name: OpMergeBranch, Ref: "alice.dev", Branch: "main"},
			status:    http.StatusForbidden,
			wantClass: ErrMergeForbidden,
			wantType:  "MERGE_FORBIDDEN",
			wantKind:  MergeForbidden{SourceRef: "alice.dev", DestinationBranch: "main"},
			wantMsg:   "403 Forbidden",
		},
		{
			name:      "merge conflict",
			op:        Operation{Name: OpMergeBranch, Ref: "alice.dev@abc", Branch: "main"},
			status:    http.StatusConflict,
			wantClass: ErrMergeConflict,
			wantType:  "MERGE_CONFLICT",
			wantKind: MergeConflict{
				SourceRef:      refs.NewBranch("alice.dev", "abc"),
				DestinationRef: refs.NewBranch("main", ""),
			},
			wantMsg: "409 Conflict",
		},
		{
			name:      "rename branch forbidden",
			op:        Operation{Name: OpRenameBranch, Branch: "main", NewName: "trunk"},
			status:    http.StatusForbidden,
			wantClass: ErrRenameBranchForbidden,
			wantType:  "RENAME_BRANCH_FORBIDDEN",
			wantKind:  RenameBranchForbidden{OldBranchName: "main", NewBranchName: "trunk"},
			wantMsg:   "403 Forbidden",
		},
		{
			name:      "rename tag forbidden",
			op:        Operation{Name: OpRenameTag, Tag: "v1", NewName: "v2"},
			status:    http.StatusForbidden,
			wantClass: ErrRenameTagForbidden,
			wantType:  "RENAME_TAG_FORBIDDEN",
			wantKind:  RenameTagForbidden{OldTagName: "v1", NewTagName: "v2"},
			wantMsg:   "403 Forbidden",
		},
		{
			name:      "revert table forbidden",
			op:        Operation{Name: OpRevertTable, Table: "orders", Ref: "v1", Branch: "main"},
			status:    http.StatusForbidden,
			wantClass: ErrRevertTableForbidden,
			wantType:  "REVERT_TABLE_FORBIDDEN",
			wantKind:  RevertTableForbidden{TableName: "orders", SourceRef: "v1", DestinationBranch: "main"},
			wantMsg:   "403 Forbidden",
		},
		{
			name:      "revert onto an existing table",
			op:        Operation{Name: OpRevertTable, Table: "orders", Ref: "v1", Branch: "main"},
			status:    http.StatusConflict,
			wantClass: ErrRevertDestinationTableExists,
			wantType:  "REVERT_DESTINATION_TABLE_EXISTS",
			wantKind:  RevertDestinationTableExists{SourceTableName: "orders", DestinationTableName: "orders"},
			wantMsg:   "409 Conflict",
		},
		{
			name:      "delete table on a moved branch head",
			op:        Operation{Name: OpDeleteTable, Table: "orders", Ref: "main@abc", Branch: "main@abc"},
			status:    http.StatusConflict,
			wantClass: ErrBranchHeadChanged,
			wantType:  "BRANCH_HEAD_CHANGED",
			wantKind:  BranchHeadChanged{InputRef: refs.NewBranch("main", "abc")},
			wantMsg:   "409 Conflict",
		},
		{
			name:      "status fallback",
			op:        Operation{Name: OpGetTags},
			status:    http.StatusUnauthorized,
			body:      `{"error":{"message":"bad key"}}`,
			wantClass: ErrUnauthorized,
			wantMsg:   "bad key",
		},
		{
			name:      "status fallback for 404 on a list operation without ref",
			op:        Operation{Name: OpGetJobs},
			status:    http.StatusNotFound,
			wantClass: ErrResourceNotFound,
			wantMsg:   "404 Not Found",
		},
		{
			name:      "server error",
			op:        Operation{Name: OpGetTables},
			status:    http.StatusBadGateway,
			body:      "<html>bad gateway</html>",
			wantClass: ErrBadGateway,
			wantMsg:   "502 Bad Gateway",
		},
		{
			name:      "unknown status",
			op:        Operation{Name: OpGetTags},
			status:    http.StatusTeapot,
			wantClass: ErrHTTP,
			wantMsg:   "418 I'm a teapot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(tt.op, tt.status, []byte(tt.body))

			var httpErr *HTTPError
			require.True(t, errors.As(err, &httpErr), "got %T", err)
			assert.Same(t, tt.wantClass, httpErr.Class)
			assert.Equal(t, tt.status, httpErr.Code)
			assert.Equal(t, tt.wantType, httpErr.Type)
			assert.Equal(t, tt.wantKind, httpErr.Kind)
			assert.Equal(t, tt.wantMsg, httpErr.Message)
			assert.True(t, errors.Is(err, ErrHTTP))
		})
	}
}

func TestClassify_IsPure(t *testing.T) {
	op := Operation{Name: OpGetTable, Table: "t", Ref: "main"}
	body := []byte(`{"error":{"type":"TABLE_NOT_FOUND","context":{"table_name":"t"},"message":"m"}}`)

	first := Classify(op, http.StatusNotFound, body)
	second := Classify(op, http.StatusNotFound, body)
	assert.Equal(t, first, second)
}

func TestClassify_UndecodableContextFallsBack(t *testing.T) {
	op := Operation{Name: OpGetTable, Table: "t", Ref: "main"}
	body := []byte(`{"error":{"type":"TABLE_NOT_FOUND","context":"not an object","message":"m"}}`)

	err := Classify(op, http.StatusNotFound, body)
	assert.Equal(t, TableNotFound{TableName: "t", InputRef: "main"}, KindOf(err))
}

func TestClassify_PlanOperations(t *testing.T) {
	tests := []struct {
		name      string
		op        Operation
		status    int
		body      string
		wantClass *Class
		wantHTTP  bool
	}{
		{
			name:      "create plan rejected",
			op:        Operation{Name: OpCreateTablePlan, JobID: "j1"},
			status:    http.StatusBadRequest,
			wantClass: ErrTableCreatePlan,
		},
		{
			name:      "apply rejected",
			op:        Operation{Name: OpApplyTablePlan},
			status:    http.StatusBadRequest,
			wantClass: ErrTableCreatePlanApplyStatus,
		},
		{
			name:      "plan status in body",
			op:        Operation{Name: OpCreateTablePlan},
			status:    http.StatusBadRequest,
			body:      `{"error":{"type":"PLAN_STATUS_ERROR","context":{"job_id":"j2","status":"Fail"},"message":"failed"}}`,
			wantClass: ErrTableCreatePlanStatus,
		},
		{
			name:      "create plan on missing table stays an HTTP error",
			op:        Operation{Name: OpCreateTablePlan, Table: "t"},
			status:    http.StatusNotFound,
			wantClass: ErrTableNotFound,
			wantHTTP:  true,
		},
		{
			name:      "auth failure stays an HTTP error",
			op:        Operation{Name: OpApplyTablePlan},
			status:    http.StatusUnauthorized,
			wantClass: ErrUnauthorized,
			wantHTTP:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(tt.op, tt.status, []byte(tt.body))
			assert.Same(t, tt.wantClass, ClassOf(err))
			assert.Equal(t, tt.wantHTTP, errors.Is(err, ErrHTTP))
			assert.True(t, errors.Is(err, ErrBauplan))

			if !tt.wantHTTP {
				var planErr *PlanError
				require.True(t, errors.As(err, &planErr), "got %T", err)
				assert.Equal(t, tt.op.JobID, planErr.JobID)
			}
		})
	}
}
