// Package pagination streams paged Bauplan API listings (tags, branches,
// namespaces, tables, jobs) as a single lazy sequence of records.
//
// The API returns results one page at a time together with an opaque
// pagination token. A Paginator hides that bookkeeping: each call to Next
// hands back one record and only issues a network request when the buffered
// page is used up.
//
// Example usage:
//
//	p := pagination.New(fetchTags, pagination.WithLimit(50), pagination.WithResource("tags"))
//	for tag, err := range p.All(ctx) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(tag.Name)
//	}
//
// The paginator:
//   - Makes no request at construction time
//   - Issues at most one page request per Next call
//   - Stops right after the limit-th record, without fetching ahead
//   - Passes the remaining budget to the server as max_records
//   - Returns Done once finished and never fetches again
//
// Fetch failures are returned from the Next call that triggered them.
package pagination
