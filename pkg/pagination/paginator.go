package pagination

import (
	"context"
	"errors"
	"iter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for paginated reads.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bauplan_pagination_pages_total",
		Help: "Total page fetches issued by paginators, by resource",
	}, []string{"resource"})

	recordsYieldedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bauplan_pagination_records_total",
		Help: "Total records handed to callers by paginators, by resource",
	}, []string{"resource"})

	pageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bauplan_pagination_errors_total",
		Help: "Total failed page fetches, by resource",
	}, []string{"resource"})
)

// Done is returned by Next when the sequence has no more records.
var Done = errors.New("no more records")

// NoLimit disables the item cap.
const NoLimit = -1

// Page is one batch of records plus the token for the following batch.
// An empty NextToken means there are no more pages.
type Page[T any] struct {
	Items     []T
	NextToken string
}

// FetchFunc fetches one page. token is empty for the first page. remaining is
// the number of records still wanted, or 0 when the caller set no limit.
type FetchFunc[T any] func(ctx context.Context, token string, remaining int) (Page[T], error)

// Option configures a Paginator.
type Option func(*options)

type options struct {
	limit    int
	resource string
}

// WithLimit caps the total number of records yielded. Negative values mean
// no cap.
func WithLimit(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = NoLimit
		}
		o.limit = n
	}
}

// WithLimitPtr is WithLimit for optional limits; nil means no cap.
func WithLimitPtr(n *int) Option {
	if n == nil {
		return WithLimit(NoLimit)
	}
	return WithLimit(*n)
}

// WithResource labels the paginator's logs and metrics.
func WithResource(name string) Option {
	return func(o *options) {
		o.resource = name
	}
}

// Paginator turns a chain of page fetches into a flat, forward-only sequence.
// It fetches lazily: a page is requested only when the caller asks for a
// record and the current page is used up. A Paginator is not safe for
// concurrent use and cannot be restarted.
type Paginator[T any] struct {
	fetch    FetchFunc[T]
	resource string
	limit    int

	buf     []T
	pos     int
	token   string
	started bool

	yielded   int
	fetches   int
	exhausted bool
	err       error
}

// New returns a Paginator over fetch. No request is made until Next is called.
func New[T any](fetch FetchFunc[T], opts ...Option) *Paginator[T] {
	o := options{limit: NoLimit, resource: "unknown"}
	for _, opt := range opts {
		opt(&o)
	}

	return &Paginator[T]{
		fetch:    fetch,
		resource: o.resource,
		limit:    o.limit,
	}
}

// Next returns the next record. It returns Done once the page chain ends or
// the limit is reached, and the fetch error if a page request fails. Errors
// are sticky: after a failure every call returns the same error.
func (p *Paginator[T]) Next(ctx context.Context) (T, error) {
	var zero T

	if p.err != nil {
		return zero, p.err
	}
	if p.exhausted {
		return zero, Done
	}
	if p.limit != NoLimit && p.yielded >= p.limit {
		p.exhausted = true
		return zero, Done
	}

	if p.pos >= len(p.buf) {
		if p.started && p.token == "" {
			p.exhausted = true
			return zero, Done
		}
		if err := p.fetchPage(ctx); err != nil {
			return zero, err
		}
		if len(p.buf) == 0 {
			p.exhausted = true
			return zero, Done
		}
	}

	item := p.buf[p.pos]
	p.buf[p.pos] = zero
	p.pos++
	p.yielded++
	recordsYieldedTotal.WithLabelValues(p.resource).Inc()

	return item, nil
}

func (p *Paginator[T]) fetchPage(ctx context.Context) error {
	remaining := 0
	if p.limit != NoLimit {
		remaining = p.limit - p.yielded
	}

	p.fetches++
	pagesFetchedTotal.WithLabelValues(p.resource).Inc()

	page, err := p.fetch(ctx, p.token, remaining)
	if err != nil {
		pageErrorsTotal.WithLabelValues(p.resource).Inc()
		log.Debug().
			Err(err).
			Str("resource", p.resource).
			Int("page", p.fetches).
			Msg("Page fetch failed")
		p.err = err
		p.buf = nil
		return err
	}

	log.Debug().
		Str("resource", p.resource).
		Int("page", p.fetches).
		Int("items", len(page.Items)).
		Bool("has_next", page.NextToken != "").
		Msg("Fetched page")

	p.started = true
	p.buf = page.Items
	p.pos = 0
	p.token = page.NextToken
	return nil
}

// All returns a range-over-func iterator. Iteration ends at Done; any other
// error is yielded once and ends the sequence.
func (p *Paginator[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, err := p.Next(ctx)
			if errors.Is(err, Done) {
				return
			}
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect drains the paginator into a slice. On error it returns the records
// read so far along with the error.
func (p *Paginator[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for item, err := range p.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Fetches returns the number of page requests issued so far.
func (p *Paginator[T]) Fetches() int {
	return p.fetches
}

// Yielded returns the number of records returned so far.
func (p *Paginator[T]) Yielded() int {
	return p.yielded
}

// Exhausted reports whether the paginator will issue no further fetches.
func (p *Paginator[T]) Exhausted() bool {
	return p.exhausted || p.err != nil
}
