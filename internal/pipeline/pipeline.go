package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/cloudup/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Stage is one step of a pipeline.
//
// Process receives files one at a time and returns the files to pass
// downstream, which may be none. Flush is called exactly once after the
// stage's input is exhausted and may emit trailing files.
//
// A stage running with a single worker never sees concurrent Process calls,
// and Flush never overlaps Process.
type Stage interface {
	Name() string
	Process(ctx context.Context, f *File) ([]*File, error)
	Flush(ctx context.Context) ([]*File, error)
}

// StageFunc adapts a per-file transform without a flush step into a Stage.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, f *File) ([]*File, error)
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Process(ctx context.Context, f *File) ([]*File, error) {
	return s.Fn(ctx, f)
}

func (s StageFunc) Flush(context.Context) ([]*File, error) { return nil, nil }

type pipe struct {
	stage   Stage
	workers int
}

// PipeOption customizes how a stage is run.
type PipeOption func(*pipe)

// WithWorkers runs Process on n goroutines. Values below 1 are ignored.
func WithWorkers(n int) PipeOption {
	return func(p *pipe) {
		if n > 0 {
			p.workers = n
		}
	}
}

// Pipeline chains stages with channels, one goroutine group per stage.
type Pipeline struct {
	pipes  []pipe
	logger logging.Logger
}

func New(logger logging.Logger) *Pipeline {
	return &Pipeline{logger: logging.OrNop(logger)}
}

// Pipe appends a stage and returns the pipeline for chaining.
func (p *Pipeline) Pipe(s Stage, opts ...PipeOption) *Pipeline {
	pp := pipe{stage: s, workers: 1}
	for _, opt := range opts {
		opt(&pp)
	}
	p.pipes = append(p.pipes, pp)
	return p
}

// Run pushes files through every stage and returns what the last stage
// emitted. The first error from any stage cancels the whole run.
func (p *Pipeline) Run(ctx context.Context, files []*File) ([]*File, error) {
	g, gctx := errgroup.WithContext(ctx)
	// Stage failures cancel before the failing stage closes its output, so
	// no downstream Flush runs after an upstream error.
	ctx, cancel := context.WithCancelCause(gctx)
	defer cancel(nil)

	src := make(chan *File)
	g.Go(func() error {
		defer close(src)
		for _, f := range files {
			select {
			case src <- f:
			case <-ctx.Done():
				return context.Cause(ctx)
			}
		}
		return nil
	})

	var in <-chan *File = src
	for _, pp := range p.pipes {
		in = p.runStage(ctx, cancel, g, pp, in)
	}

	var out []*File
	g.Go(func() error {
		for f := range in {
			out = append(out, f)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		closeAll(files)
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) runStage(ctx context.Context, cancel context.CancelCauseFunc, g *errgroup.Group, pp pipe, in <-chan *File) <-chan *File {
	out := make(chan *File)
	log := p.logger.With("stage", pp.stage.Name())

	fail := func(err error) error {
		err = fmt.Errorf("%s: %w", pp.stage.Name(), err)
		cancel(err)
		return err
	}

	emit := func(files []*File) error {
		for _, f := range files {
			select {
			case out <- f:
			case <-ctx.Done():
				return context.Cause(ctx)
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(pp.workers)
	for i := 0; i < pp.workers; i++ {
		g.Go(func() error {
			defer wg.Done()
			for f := range in {
				res, err := pp.stage.Process(ctx, f)
				if err != nil {
					log.Error(ctx, "process failed", "file", f.Path, "error", err)
					return fail(err)
				}
				if err := emit(res); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(out)
		wg.Wait()
		if err := context.Cause(ctx); err != nil {
			return err
		}
		res, err := pp.stage.Flush(ctx)
		if err != nil {
			log.Error(ctx, "flush failed", "error", err)
			return fail(err)
		}
		return emit(res)
	})

	return out
}

func closeAll(files []*File) {
	for _, f := range files {
		_ = f.Close()
	}
}
