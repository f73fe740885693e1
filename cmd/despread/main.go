// Command despread splits scanned two-page spreads into single pages.
// Each page of the input is cropped into its left and right (or top and
// bottom) halves, so a PDF of N spreads becomes a PDF of 2N pages in
// reading order.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/despread/despread/document"
	"github.com/despread/despread/geometry"
	"github.com/despread/despread/observability"
	"github.com/despread/despread/parser"
	"github.com/despread/despread/raw"
	"github.com/despread/despread/scripting"
	"github.com/despread/despread/splitter"
	"github.com/despread/despread/writer"
)

type options struct {
	input       string
	output      string
	orientation string
	ratio       float64
	offset      float64
	gutter      float64
	suffix      string
	onError     string
	rulesPath   string
	parallel    int
	verbose     bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "despread: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "despread: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: despread -i <pdf-or-dir> [flags]\n")
		flag.PrintDefaults()
	}
	flag.StringVar(&opts.input, "i", "", "Input PDF file or directory of PDFs")
	flag.StringVar(&opts.input, "input", "", "Input PDF file or directory of PDFs")
	flag.StringVar(&opts.output, "o", "", "Output directory (default: alongside each input)")
	flag.StringVar(&opts.output, "output", "", "Output directory (default: alongside each input)")
	flag.StringVar(&opts.orientation, "orientation", "vertical", "Split axis: vertical (left/right) or horizontal (top/bottom)")
	flag.Float64Var(&opts.ratio, "ratio", 0.5, "Fraction of the page given to the first half")
	flag.Float64Var(&opts.offset, "offset", 0, "Shift of the cut in points, positive toward the second half")
	flag.Float64Var(&opts.gutter, "gutter", 0, "Dead zone in points centered on the cut, removed from both halves")
	flag.StringVar(&opts.suffix, "suffix", "_split", "Suffix appended to output file names")
	flag.StringVar(&opts.onError, "on-error", "abort", "Per-page failure policy: abort or skip")
	flag.StringVar(&opts.rulesPath, "rules", "", "JavaScript file with a params(page) function for per-page overrides")
	flag.IntVar(&opts.parallel, "parallel", 0, "Files processed concurrently (default: number of CPUs)")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	flag.Parse()

	if opts.input == "" {
		flag.Usage()
		return options{}, fmt.Errorf("missing input path")
	}
	if flag.NArg() != 0 {
		return options{}, fmt.Errorf("unexpected argument %q", flag.Arg(0))
	}
	return opts, nil
}

func run(opts options) error {
	orientation, err := geometry.ParseOrientation(opts.orientation)
	if err != nil {
		return err
	}
	policy, err := splitter.ParseOnError(opts.onError)
	if err != nil {
		return err
	}
	params := geometry.SplitParams{
		Orientation: orientation,
		Ratio:       opts.ratio,
		Offset:      opts.offset,
		Gutter:      opts.gutter,
	}
	if err := params.Validate(); err != nil {
		return err
	}

	var rules *scripting.RuleSet
	if opts.rulesPath != "" {
		src, err := os.ReadFile(opts.rulesPath)
		if err != nil {
			return fmt.Errorf("read rules: %w", err)
		}
		rules, err = scripting.Compile(opts.rulesPath, string(src))
		if err != nil {
			return err
		}
	}

	inputs, err := collectInputs(opts.input)
	if err != nil {
		return err
	}

	if opts.output != "" {
		if err := os.MkdirAll(opts.output, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	parallel := opts.parallel
	if parallel <= 0 {
		parallel = runtime.GOMAXPROCS(0)
	}
	if parallel > len(inputs) {
		parallel = len(inputs)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewTextLogger(os.Stderr, opts.verbose)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	sem := make(chan struct{}, parallel)
	for _, input := range inputs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(input string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := processFile(ctx, input, opts, params, policy, rules, logger); err != nil {
				logger.Error("split failed",
					observability.String("file", input),
					observability.Error("error", err))
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(input)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(inputs))
	}
	return nil
}

// collectInputs expands a directory into its PDF files, sorted by name.
// A single-file path is returned as is.
func collectInputs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var inputs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".pdf" || ext == ".PDF" {
			inputs = append(inputs, filepath.Join(path, e.Name()))
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no PDF files in %s", path)
	}
	sort.Strings(inputs)
	return inputs, nil
}

func processFile(ctx context.Context, input string, opts options, params geometry.SplitParams, policy splitter.OnError, rules *scripting.RuleSet, logger observability.Logger) error {
	file, err := os.Open(input)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}

	doc, err := document.Load(ctx, file, info.Size(), parser.Config{})
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	result, err := splitter.Split(ctx, doc, splitter.Options{
		Params:  params,
		Rules:   rules,
		OnError: policy,
		Logger:  logger.With(observability.String("file", input)),
	})
	if err != nil {
		return err
	}

	output := outputPath(input, opts.output, opts.suffix)
	if err := writeAtomic(ctx, output, result.Document); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}

	logger.Info("split",
		observability.String("file", input),
		observability.String("output", output),
		observability.Int("pages", result.InputPages),
		observability.Int("outputs", result.OutputPages),
		observability.Int("skipped", len(result.Skipped)))
	return nil
}

// outputPath derives the destination name: basename plus suffix, in
// outDir when given, next to the input otherwise.
func outputPath(input, outDir, suffix string) string {
	dir := filepath.Dir(input)
	if outDir != "" {
		dir = outDir
	}
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".pdf"
	}
	return filepath.Join(dir, stem+suffix+ext)
}

// writeAtomic serializes the document to a temp file in the target
// directory and renames it into place, so a failed run never leaves a
// truncated PDF under the final name.
func writeAtomic(ctx context.Context, path string, doc *raw.Document) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writer.Write(ctx, doc, tmp, writer.Config{}); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
