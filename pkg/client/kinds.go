package client

import (
	"github.com/bauplanlabs/bauplan-go/pkg/refs"
)

// ErrorKind is the typed context attached to a classified error. Each
// implementation corresponds to one server error type and carries the fields
// the server reports for it. The set is closed.
//
// Callers switch on the concrete type:
//
//	switch k := client.KindOf(err).(type) {
//	case client.TableNotFound:
//		fmt.Println("missing table", k.TableName)
//	}
type ErrorKind interface {
	// Type returns the wire tag, e.g. "TABLE_NOT_FOUND".
	Type() string

	class() *Class
}

// 400

type InvalidRef struct {
	InputRef string `json:"input_ref"`
}

type NotABranchRef struct {
	InputRef string `json:"input_ref"`
}

type NotATagRef struct {
	InputRef string `json:"input_ref"`
}

type NotAWriteBranchRef struct {
	InputRef string `json:"input_ref"`
}

type SameRef struct {
	InputRef refs.CatalogRef `json:"input_ref"`
	Ref      refs.CatalogRef `json:"ref"`
}

// 403

type CreateBranchForbidden struct {
	BranchName string `json:"branch_name"`
}

type CreateNamespaceForbidden struct {
	NamespaceName string `json:"namespace_name"`
}

type CreateTagForbidden struct {
	TagName string `json:"tag_name"`
}

type DeleteBranchForbidden struct {
	BranchName string `json:"branch_name"`
}

type DeleteNamespaceForbidden struct {
	NamespaceName string `json:"namespace_name"`
}

type DeleteTableForbidden struct {
	TableName string `json:"table_name"`
}

type DeleteTagForbidden struct {
	TagName string `json:"tag_name"`
}

type MergeForbidden struct {
	SourceRef         string `json:"source_ref"`
	DestinationBranch string `json:"destination_branch"`
}

type RenameBranchForbidden struct {
	OldBranchName string `json:"old_branch_name"`
	NewBranchName string `json:"new_branch_name"`
}

type RenameTagForbidden struct {
	OldTagName string `json:"old_tag_name"`
	NewTagName string `json:"new_tag_name"`
}

type RevertTableForbidden struct {
	TableName         string `json:"table_name"`
	SourceRef         string `json:"source_ref"`
	DestinationBranch string `json:"destination_branch"`
}

// 404

type BranchNotFound struct {
	BranchName string `json:"branch_name"`
}

type NamespaceNotFound struct {
	NamespaceName string          `json:"namespace_name"`
	InputRef      string          `json:"input_ref"`
	Ref           refs.CatalogRef `json:"ref"`
}

type RefNotFound struct {
	InputRef string `json:"input_ref"`
}

type TableNotFound struct {
	TableName string          `json:"table_name"`
	InputRef  string          `json:"input_ref"`
	Ref       refs.CatalogRef `json:"ref"`
}

type TagNotFound struct {
	TagName string `json:"tag_name"`
}

// 409

type BranchExists struct {
	BranchName string          `json:"branch_name"`
	Ref        refs.CatalogRef `json:"ref"`
}

type BranchHeadChanged struct {
	InputRef refs.CatalogRef `json:"input_ref"`
	HeadRef  refs.CatalogRef `json:"head_ref"`
}

type MergeConflict struct {
	SourceRef      refs.CatalogRef `json:"source_ref"`
	DestinationRef refs.CatalogRef `json:"destination_ref"`
}

type NamespaceExists struct {
	NamespaceName string          `json:"namespace_name"`
	Ref           refs.CatalogRef `json:"ref"`
}

type NamespaceIsNotEmpty struct {
	NamespaceName string `json:"namespace_name"`
	BranchName    string `json:"branch_name"`
}

type NamespaceUnresolved struct {
	TableName     string `json:"table_name"`
	NamespaceName string `json:"namespace_name"`
}

type RevertDestinationTableExists struct {
	SourceTableName      string `json:"source_table_name"`
	DestinationTableName string `json:"destination_table_name"`
}

type RevertIdenticalTable struct {
	SourceTableName      string `json:"source_table_name"`
	DestinationTableName string `json:"destination_table_name"`
}

type TagExists struct {
	TagName string          `json:"tag_name"`
	Ref     refs.CatalogRef `json:"ref"`
}

// Plan failures.

// PlanStatus is a table-creation plan job that finished unsuccessfully.
type PlanStatus struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// PlanApplyStatus is a plan application job that finished unsuccessfully.
type PlanApplyStatus struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

func (InvalidRef) Type() string                   { return "INVALID_REF" }
func (NotABranchRef) Type() string                { return "NOT_A_BRANCH_REF" }
func (NotATagRef) Type() string                   { return "NOT_A_TAG_REF" }
func (NotAWriteBranchRef) Type() string           { return "NOT_A_WRITE_BRANCH_REF" }
func (SameRef) Type() string                      { return "SAME_REF" }
func (CreateBranchForbidden) Type() string        { return "CREATE_BRANCH_FORBIDDEN" }
func (CreateNamespaceForbidden) Type() string     { return "CREATE_NAMESPACE_FORBIDDEN" }
func (CreateTagForbidden) Type() string           { return "CREATE_TAG_FORBIDDEN" }
func (DeleteBranchForbidden) Type() string        { return "DELETE_BRANCH_FORBIDDEN" }
func (DeleteNamespaceForbidden) Type() string     { return "DELETE_NAMESPACE_FORBIDDEN" }
func (DeleteTableForbidden) Type() string         { return "DELETE_TABLE_FORBIDDEN" }
func (DeleteTagForbidden) Type() string           { return "DELETE_TAG_FORBIDDEN" }
func (MergeForbidden) Type() string               { return "MERGE_FORBIDDEN" }
func (RenameBranchForbidden) Type() string        { return "RENAME_BRANCH_FORBIDDEN" }
func (RenameTagForbidden) Type() string           { return "RENAME_TAG_FORBIDDEN" }
func (RevertTableForbidden) Type() string         { return "REVERT_TABLE_FORBIDDEN" }
func (BranchNotFound) Type() string               { return "BRANCH_NOT_FOUND" }
func (NamespaceNotFound) Type() string            { return "NAMESPACE_NOT_FOUND" }
func (RefNotFound) Type() string                  { return "REF_NOT_FOUND" }
func (TableNotFound) Type() string                { return "TABLE_NOT_FOUND" }
func (TagNotFound) Type() string                  { return "TAG_NOT_FOUND" }
func (BranchExists) Type() string                 { return "BRANCH_EXISTS" }
func (BranchHeadChanged) Type() string            { return "BRANCH_HEAD_CHANGED" }
func (MergeConflict) Type() string                { return "MERGE_CONFLICT" }
func (NamespaceExists) Type() string              { return "NAMESPACE_EXISTS" }
func (NamespaceIsNotEmpty) Type() string          { return "NAMESPACE_IS_NOT_EMPTY" }
func (NamespaceUnresolved) Type() string          { return "NAMESPACE_UNRESOLVED" }
func (RevertDestinationTableExists) Type() string { return "REVERT_DESTINATION_TABLE_EXISTS" }
func (RevertIdenticalTable) Type() string         { return "REVERT_IDENTICAL_TABLE" }
func (TagExists) Type() string                    { return "TAG_EXISTS" }
func (PlanStatus) Type() string                   { return "PLAN_STATUS_ERROR" }
func (PlanApplyStatus) Type() string              { return "PLAN_APPLY_STATUS_ERROR" }

func (InvalidRef) class() *Class                   { return ErrInvalidRef }
func (NotABranchRef) class() *Class                { return ErrNotABranchRef }
func (NotATagRef) class() *Class                   { return ErrNotATagRef }
func (NotAWriteBranchRef) class() *Class           { return ErrNotAWriteBranch }
func (SameRef) class() *Class                      { return ErrSameRef }
func (CreateBranchForbidden) class() *Class        { return ErrCreateBranchForbidden }
func (CreateNamespaceForbidden) class() *Class     { return ErrCreateNamespaceForbidden }
func (CreateTagForbidden) class() *Class           { return ErrCreateTagForbidden }
func (DeleteBranchForbidden) class() *Class        { return ErrDeleteBranchForbidden }
func (DeleteNamespaceForbidden) class() *Class     { return ErrDeleteNamespaceForbidden }
func (DeleteTableForbidden) class() *Class         { return ErrDeleteTableForbidden }
func (DeleteTagForbidden) class() *Class           { return ErrDeleteTagForbidden }
func (MergeForbidden) class() *Class               { return ErrMergeForbidden }
func (RenameBranchForbidden) class() *Class        { return ErrRenameBranchForbidden }
func (RenameTagForbidden) class() *Class           { return ErrRenameTagForbidden }
func (RevertTableForbidden) class() *Class         { return ErrRevertTableForbidden }
func (BranchNotFound) class() *Class               { return ErrBranchNotFound }
func (NamespaceNotFound) class() *Class            { return ErrNamespaceNotFound }
func (RefNotFound) class() *Class                  { return ErrRefNotFound }
func (TableNotFound) class() *Class                { return ErrTableNotFound }
func (TagNotFound) class() *Class                  { return ErrTagNotFound }
func (BranchExists) class() *Class                 { return ErrBranchExists }
func (BranchHeadChanged) class() *Class            { return ErrBranchHeadChanged }
func (MergeConflict) class() *Class                { return ErrMergeConflict }
func (NamespaceExists) class() *Class              { return ErrNamespaceExists }
func (NamespaceIsNotEmpty) class() *Class          { return ErrNamespaceIsNotEmpty }
func (NamespaceUnresolved) class() *Class          { return ErrNamespaceUnresolved }
func (RevertDestinationTableExists) class() *Class { return ErrRevertDestinationTableExists }
func (RevertIdenticalTable) class() *Class         { return ErrRevertIdenticalTable }
func (TagExists) class() *Class                    { return ErrTagExists }
func (PlanStatus) class() *Class                   { return ErrTableCreatePlanStatus }
func (PlanApplyStatus) class() *Class              { return ErrTableCreatePlanApplyStatus }

// ClassOfKind returns the class a kind classifies to.
func ClassOfKind(k ErrorKind) *Class {
	if k == nil {
		return nil
	}
	return k.class()
}

type kindDecoder func(raw []byte) (ErrorKind, error)

func decodeKind[K ErrorKind](raw []byte) (ErrorKind, error) {
	var k K
	if len(raw) == 0 || string(raw) == "null" {
		return k, nil
	}
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, err
	}
	return k, nil
}

// kindDecoders maps wire tags to their decoders.
var kindDecoders = map[string]kindDecoder{
	"INVALID_REF":                     decodeKind[InvalidRef],
	"NOT_A_BRANCH_REF":                decodeKind[NotABranchRef],
	"NOT_A_TAG_REF":                   decodeKind[NotATagRef],
	"NOT_A_WRITE_BRANCH_REF":          decodeKind[NotAWriteBranchRef],
	"SAME_REF":                        decodeKind[SameRef],
	"CREATE_BRANCH_FORBIDDEN":         decodeKind[CreateBranchForbidden],
	"CREATE_NAMESPACE_FORBIDDEN":      decodeKind[CreateNamespaceForbidden],
	"CREATE_TAG_FORBIDDEN":            decodeKind[CreateTagForbidden],
	"DELETE_BRANCH_FORBIDDEN":         decodeKind[DeleteBranchForbidden],
	"DELETE_NAMESPACE_FORBIDDEN":      decodeKind[DeleteNamespaceForbidden],
	"DELETE_TABLE_FORBIDDEN":          decodeKind[DeleteTableForbidden],
	"DELETE_TAG_FORBIDDEN":            decodeKind[DeleteTagForbidden],
	"MERGE_FORBIDDEN":                 decodeKind[MergeForbidden],
	"RENAME_BRANCH_FORBIDDEN":         decodeKind[RenameBranchForbidden],
	"RENAME_TAG_FORBIDDEN":            decodeKind[RenameTagForbidden],
	"REVERT_TABLE_FORBIDDEN":          decodeKind[RevertTableForbidden],
	"BRANCH_NOT_FOUND":                decodeKind[BranchNotFound],
	"NAMESPACE_NOT_FOUND":             decodeKind[NamespaceNotFound],
	"REF_NOT_FOUND":                   decodeKind[RefNotFound],
	"TABLE_NOT_FOUND":                 decodeKind[TableNotFound],
	"TAG_NOT_FOUND":                   decodeKind[TagNotFound],
	"BRANCH_EXISTS":                   decodeKind[BranchExists],
	"BRANCH_HEAD_CHANGED":             decodeKind[BranchHeadChanged],
	"MERGE_CONFLICT":                  decodeKind[MergeConflict],
	"NAMESPACE_EXISTS":                decodeKind[NamespaceExists],
	"NAMESPACE_IS_NOT_EMPTY":          decodeKind[NamespaceIsNotEmpty],
	"NAMESPACE_UNRESOLVED":            decodeKind[NamespaceUnresolved],
	"REVERT_DESTINATION_TABLE_EXISTS": decodeKind[RevertDestinationTableExists],
	"REVERT_IDENTICAL_TABLE":          decodeKind[RevertIdenticalTable],
	"TAG_EXISTS":                      decodeKind[TagExists],
	"PLAN_STATUS_ERROR":               decodeKind[PlanStatus],
	"PLAN_APPLY_STATUS_ERROR":         decodeKind[PlanApplyStatus],
}

// KnownKinds returns the zero value of every kind, for exhaustive checks.
func KnownKinds() []ErrorKind {
	out := make([]ErrorKind, 0, len(kindDecoders))
	for _, decode := range kindDecoders {
		k, _ := decode(nil)
		out = append(out, k)
	}
	return out
}
