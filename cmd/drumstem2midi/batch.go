package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"github.com/james-see/drumstem2midi/pkg/watch"
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir|stem>...",
	Short: "Analyze many drum stems in parallel",
	Long: `Analyzes every stem given on the command line. Directories are searched
(non-recursively) for files matching --pattern. A failing stem does not stop
the others; the command fails if any stem failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

// collectStems expands directories into the stems they contain
func collectStems(args []string, pattern string) ([]string, error) {
	seen := map[string]bool{}
	var stems []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			stems = append(stems, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", arg, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && watch.Matches(pattern, e.Name()) {
				add(filepath.Join(arg, e.Name()))
			}
		}
	}
	sort.Strings(stems)
	return stems, nil
}

// newBatchProgress renders one bar counting analyzed stems. The ETA is fed by
// EwmaIncrement, so callers must report each stem's duration.
func newBatchProgress(ctx context.Context, out io.Writer, total int) (*mpb.Progress, *mpb.Bar) {
	p := mpb.NewWithContext(ctx, mpb.WithWidth(64), mpb.WithOutput(out))
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("Analyzing: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
		),
	)
	return p, bar
}

func runBatch(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.closeLog() }()

	stems, err := collectStems(args, a.settings.Watch.Pattern)
	if err != nil {
		return err
	}
	if len(stems) == 0 {
		fmt.Println("No stems found")
		return nil
	}

	p, bar := newBatchProgress(cmd.Context(), os.Stderr, len(stems))

	ro := a.runOptions()
	var (
		mu       sync.Mutex
		failures []error
		hits     int
	)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(a.settings.Batch.Concurrency)
	for _, stem := range stems {
		g.Go(func() error {
			started := time.Now()
			m, err := a.pipe.Run(ctx, stem, ro)

			mu.Lock()
			if err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", stem, err))
			} else {
				hits += m.NumHits
			}
			mu.Unlock()

			bar.EwmaIncrement(time.Since(started))
			// only cancellation aborts the batch
			return ctx.Err()
		})
	}
	waitErr := g.Wait()
	if waitErr != nil {
		bar.Abort(false)
	}
	p.Wait()

	fmt.Printf("Analyzed %d of %d stems, %d hits total\n", len(stems)-len(failures), len(stems), hits)
	if waitErr != nil {
		return waitErr
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d stems failed: %w", len(failures), errors.Join(failures...))
	}
	return nil
}
