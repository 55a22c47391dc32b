package gateway

import (
	"context"
	"errors"
	"sync"

	"matchreview/internal/match"
)

// ErrClosed is returned for calls submitted after Close.
var ErrClosed = errors.New("gateway service closed")

type request struct {
	ctx context.Context
	run func(context.Context, *Client)
}

// Service owns a Client on a single goroutine. Callers never touch the
// connection state directly; they submit work and wait on a Future. Calls run
// one at a time in submission order.
type Service struct {
	client   *Client
	requests chan request
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

// NewService starts the owner goroutine for client.
func NewService(client *Client) *Service {
	s := &Service{
		client:   client,
		requests: make(chan request),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Service) loop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case req := <-s.requests:
			req.run(req.ctx, s.client)
		}
	}
}

// Close stops the owner goroutine after the in-flight call finishes.
func (s *Service) Close() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

// Future is the pending result of a submitted call.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the result is available or ctx ends.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func resolved[T any](err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// Submit queues fn on the service goroutine.
func Submit[T any](s *Service, ctx context.Context, fn func(context.Context, *Client) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	req := request{
		ctx: ctx,
		run: func(ctx context.Context, c *Client) {
			defer close(f.done)
			if err := ctx.Err(); err != nil {
				f.err = err
				return
			}
			f.value, f.err = fn(ctx, c)
		},
	}
	select {
	case <-s.done:
		return resolved[T](ErrClosed)
	case <-ctx.Done():
		return resolved[T](ctx.Err())
	case s.requests <- req:
		return f
	}
}

func await[T any](s *Service, ctx context.Context, fn func(context.Context, *Client) (T, error)) (T, error) {
	return Submit(s, ctx, fn).Await(ctx)
}

func awaitErr(s *Service, ctx context.Context, fn func(context.Context, *Client) error) error {
	_, err := await(s, ctx, func(ctx context.Context, c *Client) (struct{}, error) {
		return struct{}{}, fn(ctx, c)
	})
	return err
}

// The methods below mirror Client so a Service can stand in wherever the
// session expects a backend.

func (s *Service) OpenProject(ctx context.Context, req OpenProjectRequest) error {
	return awaitErr(s, ctx, func(ctx context.Context, c *Client) error { return c.OpenProject(ctx, req) })
}

func (s *Service) Scenes(ctx context.Context) ([]match.Scene, error) {
	return await(s, ctx, func(ctx context.Context, c *Client) ([]match.Scene, error) { return c.Scenes(ctx) })
}

func (s *Service) Segments(ctx context.Context, sceneID int64) ([]match.Segment, error) {
	return await(s, ctx, func(ctx context.Context, c *Client) ([]match.Segment, error) { return c.Segments(ctx, sceneID) })
}

func (s *Service) Candidates(ctx context.Context, segID int64, q CandidateQuery) ([]match.Candidate, error) {
	return await(s, ctx, func(ctx context.Context, c *Client) ([]match.Candidate, error) { return c.Candidates(ctx, segID, q) })
}

func (s *Service) SceneNeighborhood(ctx context.Context, segID int64, span int) ([]match.Candidate, error) {
	return await(s, ctx, func(ctx context.Context, c *Client) ([]match.Candidate, error) {
		return c.SceneNeighborhood(ctx, segID, span)
	})
}

func (s *Service) Corridor(ctx context.Context, segID int64, span int) (Corridor, error) {
	return await(s, ctx, func(ctx context.Context, c *Client) (Corridor, error) { return c.Corridor(ctx, segID, span) })
}

func (s *Service) Summary(ctx context.Context, segID int64, q SummaryQuery) (Summary, error) {
	return await(s, ctx, func(ctx context.Context, c *Client) (Summary, error) { return c.Summary(ctx, segID, q) })
}

func (s *Service) Apply(ctx context.Context, changes []Change) error {
	return awaitErr(s, ctx, func(ctx context.Context, c *Client) error { return c.Apply(ctx, changes) })
}

func (s *Service) Overrides(ctx context.Context) (map[int64]match.Candidate, error) {
	return await(s, ctx, func(ctx context.Context, c *Client) (map[int64]match.Candidate, error) { return c.Overrides(ctx) })
}

func (s *Service) UpdateReview(ctx context.Context, segID int64, status match.ReviewStatus) error {
	return awaitErr(s, ctx, func(ctx context.Context, c *Client) error { return c.UpdateReview(ctx, segID, status) })
}

func (s *Service) ReviewState(ctx context.Context) (map[int64]match.ReviewStatus, error) {
	return await(s, ctx, func(ctx context.Context, c *Client) (map[int64]match.ReviewStatus, error) {
		return c.ReviewState(ctx)
	})
}
