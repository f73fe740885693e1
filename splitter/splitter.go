// Package splitter turns each two-page spread of a document into two
// single pages. It walks the input pages in order, asks the geometry
// resolver where to cut each one, and schedules the resulting crops on
// an output builder, so for input page N the output holds pages 2N-1
// and 2N in visual reading order.
package splitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/despread/despread/document"
	"github.com/despread/despread/geometry"
	"github.com/despread/despread/observability"
	"github.com/despread/despread/raw"
	"github.com/despread/despread/scripting"
)

// OnError selects what happens when one page cannot be split.
type OnError int

const (
	// Abort fails the whole document on the first bad page.
	Abort OnError = iota
	// Skip passes the offending page through unsplit, records it in the
	// result and keeps going.
	Skip
)

// ParseOnError accepts the flag spellings "abort" and "skip".
func ParseOnError(s string) (OnError, error) {
	switch s {
	case "abort":
		return Abort, nil
	case "skip":
		return Skip, nil
	}
	return 0, fmt.Errorf("unknown error policy %q (want abort or skip)", s)
}

// PageError ties a split failure to its 1-based page number.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string { return fmt.Sprintf("page %d: %v", e.Page, e.Err) }
func (e *PageError) Unwrap() error { return e.Err }

// Options tunes one split run. Zero values mean: default parameters, no
// rules, abort on error, no logging.
type Options struct {
	Params  geometry.SplitParams
	Rules   *scripting.RuleSet
	OnError OnError
	Logger  observability.Logger
	Tracer  observability.Tracer
}

// Result is the outcome of splitting one document.
type Result struct {
	Document    *raw.Document
	InputPages  int
	OutputPages int
	// Skipped lists pages passed through unsplit under the Skip policy.
	Skipped []*PageError
}

// Split builds the output document for doc. Under the Abort policy any
// page failure fails the run; under Skip the page is copied through
// unchanged and recorded.
func Split(ctx context.Context, doc *document.Document, opts Options) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NopTracer()
	}
	if opts.Params == (geometry.SplitParams{}) {
		opts.Params = geometry.DefaultParams()
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}

	ctx, span := opts.Tracer.StartSpan(ctx, "splitter.split")
	defer span.Finish()
	span.SetTag(observability.MetricPageCount, len(doc.Pages))

	builder := document.NewBuilder(doc)
	result := &Result{InputPages: len(doc.Pages)}

	for _, page := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageNum := page.Index + 1

		halves, err := resolvePage(ctx, page, opts)
		if err != nil {
			// A broken rules script or a canceled context is never a
			// per-page condition; those fail the run under any policy.
			fatal := opts.OnError == Abort ||
				errors.Is(err, scripting.ErrScript) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
			if fatal {
				span.SetError(err)
				return nil, &PageError{Page: pageNum, Err: err}
			}
			perr := &PageError{Page: pageNum, Err: err}
			result.Skipped = append(result.Skipped, perr)
			opts.Logger.Warn("page passed through unsplit",
				observability.Int("page", pageNum),
				observability.Error("reason", err))
			// Full effective box, original rotation: the page as it was.
			box := page.EffectiveBox()
			builder.AppendCrop(page, geometry.Rect{X1: box.Width(), Y1: box.Height()}, page.Rotate)
			continue
		}

		for _, half := range halves {
			builder.AppendCrop(page, half.Rect, half.Rotation)
		}
		opts.Logger.Debug("page split",
			observability.Int("page", pageNum),
			observability.String("first", halves[0].Rect.String()),
			observability.String("second", halves[1].Rect.String()))
	}

	out, err := builder.Build()
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	result.Document = out
	result.OutputPages = builder.Len()
	span.SetTag(observability.MetricOutputPages, result.OutputPages)
	span.SetTag(observability.MetricSkippedPages, len(result.Skipped))
	return result, nil
}

// resolvePage computes the two halves of one page, applying per-page
// rule overrides first.
func resolvePage(ctx context.Context, page *document.Page, opts Options) ([]geometry.OutputPage, error) {
	desc := page.Descriptor()
	params := opts.Params

	if opts.Rules != nil {
		rotation, err := geometry.NormalizeRotation(desc.Rotation)
		if err != nil {
			return nil, err
		}
		logicalW, logicalH := desc.Width, desc.Height
		if rotation == 90 || rotation == 270 {
			logicalW, logicalH = logicalH, logicalW
		}
		params, err = opts.Rules.ParamsFor(ctx, scripting.PageInfo{
			Index:    page.Index + 1,
			Width:    logicalW,
			Height:   logicalH,
			Rotation: rotation,
		}, params)
		if err != nil {
			return nil, err
		}
	}

	halves, err := geometry.Resolve(desc, params)
	if err != nil {
		return nil, err
	}
	if len(halves) != 2 {
		return nil, errors.New("resolver did not produce two halves")
	}
	return halves, nil
}
