// Package pipeline is a small in-memory file pipeline.
//
// Files are read from disk with Src, pushed through a chain of Stage values
// by a Pipeline and, usually, written back with Dest. Each stage runs in its
// own goroutines and talks to its neighbours over unbuffered channels, so a
// slow stage applies backpressure upstream.
//
//	files, _ := pipeline.Src(ctx, []string{"src/images/**/*.png"}, pipeline.DefaultSrcOptions())
//	out, err := pipeline.New(log).
//		Pipe(uploader, pipeline.WithWorkers(4)).
//		Pipe(manifest).
//		Pipe(pipeline.Dest("build", log)).
//		Run(ctx, files)
//
// A stage emits zero or more files per input and may emit trailing files from
// Flush once its input is exhausted. The first stage error cancels the run;
// Flush is never called on a stage downstream of a failure.
package pipeline
