package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bauplanlabs/bauplan-go/pkg/pagination"
	"github.com/bauplanlabs/bauplan-go/pkg/refs"
)

const catalogPrefix = "/catalog/v0"

// TagsOptions filters GetTags.
type TagsOptions struct {
	FilterByName string
	Limit        *int
}

// BranchesOptions filters GetBranches.
type BranchesOptions struct {
	FilterByName string
	FilterByUser string
	Limit        *int
}

// NamespacesOptions filters GetNamespaces.
type NamespacesOptions struct {
	FilterByName string
	Limit        *int
}

// TablesOptions filters GetTables.
type TablesOptions struct {
	FilterByName      string
	FilterByNamespace string
	Limit             *int
}

// CommitsOptions filters GetCommits. Text filters accept a plain string or a
// regular expression such as "^fix.*$".
type CommitsOptions struct {
	FilterByMessage        string
	FilterByAuthorUsername string
	FilterByAuthorName     string
	FilterByAuthorEmail    string
	FilterByAuthoredDate   string
	AuthoredAfter          string
	AuthoredBefore         string
	FilterByParentHash     string
	FilterByProperties     map[string]string

	// Filter is a CEL expression evaluated by the server.
	Filter string
	Limit  *int
}

// CommitOptions annotates the commit a write operation creates.
type CommitOptions struct {
	Body       string
	Properties map[string]string
}

func (o CommitOptions) apply(body map[string]any) {
	if o.Body != "" {
		body["commit_body"] = o.Body
	}
	if len(o.Properties) > 0 {
		body["commit_properties"] = o.Properties
	}
}

// MergeOptions annotates a merge commit.
type MergeOptions struct {
	Message string
	CommitOptions
}

// RevertOptions controls RevertTable.
type RevertOptions struct {
	// Namespace qualifies name when it is not already fully qualified.
	Namespace string

	// Replace overwrites the table if it already exists on the branch.
	Replace bool
	Commit  CommitOptions
}

// paginate returns a lazy paginator over a list endpoint. Each fetch sends the
// previous page's token and, when a limit is set, the number of records still
// wanted.
func paginate[T any](c *Client, op Operation, path string, query url.Values, limit *int) *pagination.Paginator[T] {
	fetch := func(ctx context.Context, token string, remaining int) (pagination.Page[T], error) {
		q := url.Values{}
		for k, v := range query {
			q[k] = append([]string(nil), v...)
		}
		if token != "" {
			q.Set("pagination_token", token)
		}
		if remaining > 0 {
			q.Set("max_records", strconv.Itoa(remaining))
		}

		env, err := c.Do(ctx, Request{Op: op, Method: http.MethodGet, Path: path, Query: q})
		if err != nil {
			return pagination.Page[T]{}, err
		}

		var items []T
		if err := decodeData(env, &items); err != nil {
			return pagination.Page[T]{}, err
		}
		return pagination.Page[T]{Items: items, NextToken: env.Metadata.PaginationToken}, nil
	}

	return pagination.New(fetch,
		pagination.WithLimitPtr(limit),
		pagination.WithResource(string(op.Name)),
	)
}

// decodeData unmarshals the envelope's data member into v. A missing member
// leaves v untouched.
func decodeData(env *Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// decodeRef returns the catalog ref carried by a write response.
func decodeRef(env *Envelope) (refs.CatalogRef, error) {
	var ref refs.CatalogRef
	raw := env.Ref
	if len(raw) == 0 {
		// Some writes return the ref as the data member.
		raw = env.Data
	}
	if len(raw) == 0 {
		return ref, nil
	}
	if err := json.Unmarshal(raw, &ref); err != nil {
		return ref, fmt.Errorf("decode ref: %w", err)
	}
	return ref, nil
}

func refPath(ref string, parts ...string) string {
	p := catalogPrefix + "/refs/" + url.PathEscape(ref)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func branchPath(branch string, parts ...string) string {
	p := catalogPrefix + "/branches/" + url.PathEscape(branch)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

// Tags

// GetTags lists tags. Nothing is fetched until the paginator is read.
func (c *Client) GetTags(opts TagsOptions) *pagination.Paginator[Tag] {
	q := url.Values{}
	setIf(q, "filter_by_name", opts.FilterByName)
	return paginate[Tag](c, Operation{Name: OpGetTags}, catalogPrefix+"/tags", q, opts.Limit)
}

// GetTag fetches one tag by name.
func (c *Client) GetTag(ctx context.Context, name string) (*Tag, error) {
	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpGetTag, Tag: name, Ref: name},
		Method: http.MethodGet,
		Path:   catalogPrefix + "/tags/" + url.PathEscape(name),
	})
	if err != nil {
		return nil, err
	}
	var tag Tag
	if err := decodeData(env, &tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

// CreateTag tags fromRef as name.
func (c *Client) CreateTag(ctx context.Context, name, fromRef string) (*Tag, error) {
	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpCreateTag, Tag: name, Ref: fromRef},
		Method: http.MethodPost,
		Path:   catalogPrefix + "/tags",
		Body: map[string]string{
			"tag_name": name,
			"from_ref": fromRef,
		},
	})
	if err != nil {
		return nil, err
	}
	tag := Tag{Name: name}
	if err := decodeData(env, &tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

// HasTag reports whether the tag exists.
func (c *Client) HasTag(ctx context.Context, name string) (bool, error) {
	_, err := c.GetTag(ctx, name)
	return existence(err, ErrTagNotFound)
}

// RenameTag renames a tag and returns it under its new name.
func (c *Client) RenameTag(ctx context.Context, name, newName string) (*Tag, error) {
	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpRenameTag, Tag: name, Ref: name, NewName: newName},
		Method: http.MethodPatch,
		Path:   catalogPrefix + "/tags/" + url.PathEscape(name),
		Body:   map[string]string{"tag_name": newName},
	})
	if err != nil {
		return nil, err
	}
	tag := Tag{Name: newName}
	if err := decodeData(env, &tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

// DeleteTag deletes a tag.
func (c *Client) DeleteTag(ctx context.Context, name string) error {
	_, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpDeleteTag, Tag: name, Ref: name},
		Method: http.MethodDelete,
		Path:   catalogPrefix + "/tags/" + url.PathEscape(name),
	})
	return err
}

// Branches

// GetBranches lists branches. Nothing is fetched until the paginator is read.
func (c *Client) GetBranches(opts BranchesOptions) *pagination.Paginator[Branch] {
	q := url.Values{}
	setIf(q, "filter_by_name", opts.FilterByName)
	setIf(q, "filter_by_user", opts.FilterByUser)
	return paginate[Branch](c, Operation{Name: OpGetBranches}, catalogPrefix+"/branches", q, opts.Limit)
}

// GetBranch fetches one branch by name.
func (c *Client) GetBranch(ctx context.Context, name string) (*Branch, error) {
	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpGetBranch, Branch: name, Ref: name},
		Method: http.MethodGet,
		Path:   branchPath(name),
	})
	if err != nil {
		return nil, err
	}
	var branch Branch
	if err := decodeData(env, &branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

// CreateBranch creates name from fromRef.
func (c *Client) CreateBranch(ctx context.Context, name, fromRef string) (*Branch, error) {
	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpCreateBranch, Branch: name, Ref: fromRef},
		Method: http.MethodPost,
		Path:   catalogPrefix + "/branches",
		Body: map[string]string{
			"branch_name": name,
			"from_ref":    fromRef,
		},
	})
	if err != nil {
		return nil, err
	}
	branch := Branch{Name: name}
	if err := decodeData(env, &branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

// HasBranch reports whether the branch exists.
func (c *Client) HasBranch(ctx context.Context, name string) (bool, error) {
	_, err := c.GetBranch(ctx, name)
	return existence(err, ErrBranchNotFound)
}

// RenameBranch renames a branch and returns it under its new name.
func (c *Client) RenameBranch(ctx context.Context, name, newName string) (*Branch, error) {
	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpRenameBranch, Branch: name, Ref: name, NewName: newName},
		Method: http.MethodPatch,
		Path:   branchPath(name),
		Body:   map[string]string{"branch_name": newName},
	})
	if err != nil {
		return nil, err
	}
	branch := Branch{Name: newName}
	if err := decodeData(env, &branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

// MergeBranch merges sourceRef into the branch into and returns the new head
// of into.
func (c *Client) MergeBranch(ctx context.Context, sourceRef, into string, opts MergeOptions) (refs.CatalogRef, error) {
	body := map[string]any{}
	if opts.Message != "" {
		body["commit_message"] = opts.Message
	}
	opts.CommitOptions.apply(body)

	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpMergeBranch, Ref: sourceRef, Branch: into},
		Method: http.MethodPost,
		Path:   refPath(sourceRef, "merge", into),
		Body:   body,
	})
	if err != nil {
		return refs.CatalogRef{}, err
	}
	return decodeRef(env)
}

// DeleteBranch deletes a branch.
func (c *Client) DeleteBranch(ctx context.Context, name string) error {
	_, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpDeleteBranch, Branch: name, Ref: name},
		Method: http.MethodDelete,
		Path:   branchPath(name),
	})
	return err
}

// DeleteBranchIfExists deletes a branch and reports whether there was one to
// delete.
func (c *Client) DeleteBranchIfExists(ctx context.Context, name string) (bool, error) {
	return existence(c.DeleteBranch(ctx, name), ErrBranchNotFound)
}

// Commits

// GetCommits lists the history of ref, newest first.
func (c *Client) GetCommits(ref string, opts CommitsOptions) *pagination.Paginator[Commit] {
	q := url.Values{}
	setIf(q, "filter_by_message", opts.FilterByMessage)
	setIf(q, "filter_by_author_username", opts.FilterByAuthorUsername)
	setIf(q, "filter_by_author_name", opts.FilterByAuthorName)
	setIf(q, "filter_by_author_email", opts.FilterByAuthorEmail)
	setIf(q, "filter_by_authored_date", opts.FilterByAuthoredDate)
	setIf(q, "filter_by_authored_date_start_at", opts.AuthoredAfter)
	setIf(q, "filter_by_authored_date_end_at", opts.AuthoredBefore)
	setIf(q, "filter_by_parent_hash", opts.FilterByParentHash)
	setIf(q, "filter", opts.Filter)
	if len(opts.FilterByProperties) > 0 {
		// Sent as a JSON object; map keys are encoded in sorted order.
		if props, err := json.Marshal(opts.FilterByProperties); err == nil {
			q.Set("filter_by_properties", string(props))
		}
	}
	return paginate[Commit](c, Operation{Name: OpGetCommits, Ref: ref}, refPath(ref, "commits"), q, opts.Limit)
}

// Namespaces

// GetNamespaces lists the namespaces visible at ref.
func (c *Client) GetNamespaces(ref string, opts NamespacesOptions) *pagination.Paginator[Namespace] {
	q := url.Values{}
	setIf(q, "filter_by_name", opts.FilterByName)
	return paginate[Namespace](c, Operation{Name: OpGetNamespaces, Ref: ref}, refPath(ref, "namespaces"), q, opts.Limit)
}

// GetNamespace fetches one namespace at ref.
func (c *Client) GetNamespace(ctx context.Context, ref, name string) (*Namespace, error) {
	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpGetNamespace, Ref: ref, Namespace: name},
		Method: http.MethodGet,
		Path:   refPath(ref, "namespaces", name),
	})
	if err != nil {
		return nil, err
	}
	ns := Namespace{Name: name}
	if err := decodeData(env, &ns); err != nil {
		return nil, err
	}
	return &ns, nil
}

// HasNamespace reports whether the namespace exists at ref.
func (c *Client) HasNamespace(ctx context.Context, ref, name string) (bool, error) {
	_, err := c.GetNamespace(ctx, ref, name)
	return existence(err, ErrNamespaceNotFound)
}

// CreateNamespace creates a namespace on branch and returns the new head.
func (c *Client) CreateNamespace(ctx context.Context, branch, name string, commit CommitOptions) (*Namespace, refs.CatalogRef, error) {
	body := map[string]any{"namespace_name": name}
	commit.apply(body)

	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpCreateNamespace, Branch: branch, Ref: branch, Namespace: name},
		Method: http.MethodPost,
		Path:   branchPath(branch, "namespaces"),
		Body:   body,
	})
	if err != nil {
		return nil, refs.CatalogRef{}, err
	}

	ns := Namespace{Name: name}
	if err := decodeData(env, &ns); err != nil {
		return nil, refs.CatalogRef{}, err
	}
	var ref refs.CatalogRef
	if len(env.Ref) > 0 {
		if ref, err = decodeRef(env); err != nil {
			return nil, refs.CatalogRef{}, err
		}
	}
	return &ns, ref, nil
}

// DeleteNamespace deletes an empty namespace from branch and returns the new
// head.
func (c *Client) DeleteNamespace(ctx context.Context, branch, name string, commit CommitOptions) (refs.CatalogRef, error) {
	q := url.Values{}
	setIf(q, "commit_body", commit.Body)

	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpDeleteNamespace, Branch: branch, Ref: branch, Namespace: name},
		Method: http.MethodDelete,
		Path:   branchPath(branch, "namespaces", name),
		Query:  q,
	})
	if err != nil {
		return refs.CatalogRef{}, err
	}
	return decodeRef(env)
}

// Tables

// GetTables lists the tables visible at ref.
func (c *Client) GetTables(ref string, opts TablesOptions) *pagination.Paginator[Table] {
	q := url.Values{}
	setIf(q, "filter_by_name", opts.FilterByName)
	setIf(q, "filter_by_namespace", opts.FilterByNamespace)
	op := Operation{Name: OpGetTables, Ref: ref, Namespace: opts.FilterByNamespace}
	return paginate[Table](c, op, refPath(ref, "tables"), q, opts.Limit)
}

// GetTable fetches one table at ref. namespace may be empty when name is
// fully qualified or the default namespace applies.
func (c *Client) GetTable(ctx context.Context, ref, name, namespace string) (*Table, error) {
	q := url.Values{}
	setIf(q, "namespace", namespace)

	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpGetTable, Ref: ref, Namespace: namespace, Table: name},
		Method: http.MethodGet,
		Path:   refPath(ref, "tables", name),
		Query:  q,
	})
	if err != nil {
		return nil, err
	}
	var table Table
	if err := decodeData(env, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

// HasTable reports whether the table exists at ref.
func (c *Client) HasTable(ctx context.Context, ref, name, namespace string) (bool, error) {
	_, err := c.GetTable(ctx, ref, name, namespace)
	return existence(err, ErrTableNotFound)
}

// DeleteTable drops a table from branch and returns the new head.
func (c *Client) DeleteTable(ctx context.Context, branch, name, namespace string, commit CommitOptions) (refs.CatalogRef, error) {
	q := url.Values{}
	setIf(q, "namespace", namespace)
	setIf(q, "commit_body", commit.Body)

	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpDeleteTable, Branch: branch, Ref: branch, Namespace: namespace, Table: name},
		Method: http.MethodDelete,
		Path:   branchPath(branch, "tables", name),
		Query:  q,
	})
	if err != nil {
		return refs.CatalogRef{}, err
	}
	return decodeRef(env)
}

// RevertTable restores a table on branch into to its state at sourceRef and
// returns the new head of into.
func (c *Client) RevertTable(ctx context.Context, sourceRef, name, into string, opts RevertOptions) (refs.CatalogRef, error) {
	if opts.Namespace != "" && !strings.Contains(name, ".") {
		name = opts.Namespace + "." + name
	}
	body := map[string]any{"replace": opts.Replace}
	opts.Commit.apply(body)

	env, err := c.Do(ctx, Request{
		Op:     Operation{Name: OpRevertTable, Ref: sourceRef, Branch: into, Namespace: opts.Namespace, Table: name},
		Method: http.MethodPost,
		Path:   refPath(sourceRef, "tables", name, "revert", into),
		Body:   body,
	})
	if err != nil {
		return refs.CatalogRef{}, err
	}
	return decodeRef(env)
}

// existence maps a failure of class missing to false. Any other error,
// including other not-found classes such as an unknown ref, is returned.
func existence(err error, missing *Class) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, missing) {
		return false, nil
	}
	return false, err
}
