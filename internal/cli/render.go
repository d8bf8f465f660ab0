package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/tobert/otlp-timeline/internal/filereader"
	"github.com/tobert/otlp-timeline/internal/timeline"
	"github.com/tobert/otlp-timeline/internal/viz"
)

// RenderCommand returns the CLI command definition for the 'render' subcommand.
// It renders one trace file without starting any server.
func RenderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Render a trace file as a text waterfall and PNG minimap",
		ArgsUsage: "FILE",
		Description: `Loads an OTLP JSON/JSONL, Jaeger JSON or span list file and prints the
detail grid for one trace. --lo/--hi zoom into a window (percent of the
trace duration), --collapse hides subtrees and --service dims every other
service. --png writes the minimap with the window drawn as an overlay.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "trace",
				Usage: "Trace ID to render when the file holds several (default: the first)",
			},
			&cli.StringFlag{
				Name:  "schema",
				Usage: "Force the record shape of span lists: parentId or reference",
			},
			&cli.FloatFlag{
				Name:  "lo",
				Usage: "Window start, percent of the trace duration",
				Value: 0,
			},
			&cli.FloatFlag{
				Name:  "hi",
				Usage: "Window end, percent of the trace duration",
				Value: 100,
			},
			&cli.StringSliceFlag{
				Name:  "collapse",
				Usage: "Span ID whose subtree is hidden (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "collapse-all",
				Usage: "Collapse every span with children",
			},
			&cli.StringSliceFlag{
				Name:  "service",
				Usage: "Service to emphasize; others are dimmed (repeatable)",
			},
			&cli.IntFlag{
				Name:  "width",
				Usage: "Output width in columns",
				Value: 100,
			},
			&cli.BoolFlag{
				Name:  "list",
				Usage: "List the traces in the file instead of rendering",
			},
			&cli.StringFlag{
				Name:  "png",
				Usage: "Write the minimap PNG to this path",
			},
			&cli.IntFlag{
				Name:  "png-width",
				Usage: "Minimap width in pixels",
				Value: 800,
			},
			&cli.IntFlag{
				Name:  "png-height",
				Usage: "Minimap height in pixels",
				Value: 60,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one trace file, got %d arguments", cmd.Args().Len())
			}
			opts := renderOptions{
				TraceID:     cmd.String("trace"),
				Schema:      cmd.String("schema"),
				Domain:      timeline.Domain{Lo: cmd.Float("lo"), Hi: cmd.Float("hi")},
				Collapsed:   cmd.StringSlice("collapse"),
				CollapseAll: cmd.Bool("collapse-all"),
				Services:    cmd.StringSlice("service"),
				Width:       cmd.Int("width"),
				List:        cmd.Bool("list"),
				PNGPath:     cmd.String("png"),
			}
			opts.Minimap = timeline.DefaultMinimapConfig()
			opts.Minimap.Width, opts.Minimap.Height = cmd.Int("png-width"), cmd.Int("png-height")
			return renderFile(os.Stdout, cmd.Args().First(), opts)
		},
	}
}

type renderOptions struct {
	TraceID     string
	Schema      string
	Domain      timeline.Domain
	Collapsed   []string
	CollapseAll bool
	Services    []string
	Width       int
	List        bool
	PNGPath     string
	Minimap     timeline.MinimapConfig
}

func renderFile(w io.Writer, path string, opts renderOptions) error {
	var decode filereader.Options
	if opts.Schema != "" {
		schema, err := timeline.ParseSchema(opts.Schema)
		if err != nil {
			return err
		}
		decode.Schema = &schema
	}

	raws, format, err := filereader.LoadFile(path, decode)
	if err != nil {
		return err
	}
	if len(raws) == 0 {
		return fmt.Errorf("%s: no traces found", path)
	}

	traces := make([]*timeline.Trace, len(raws))
	for i, raw := range raws {
		traces[i] = timeline.Load(raw)
	}

	if opts.List {
		entries := make([]viz.TraceListEntry, len(traces))
		for i, t := range traces {
			entries[i] = listEntry(t, path)
		}
		fmt.Fprintf(w, "%s (%s)\n", path, format)
		_, err := io.WriteString(w, viz.TraceList(entries))
		return err
	}

	t := traces[0]
	if opts.TraceID != "" {
		t = nil
		for _, cand := range traces {
			if cand.ID == opts.TraceID {
				t = cand
				break
			}
		}
		if t == nil {
			return fmt.Errorf("trace %s not found in %s", opts.TraceID, path)
		}
	}

	if !opts.Domain.Valid() {
		return fmt.Errorf("invalid window [%g, %g]: need 0 <= lo < hi <= 100", opts.Domain.Lo, opts.Domain.Hi)
	}

	sess := timeline.NewSession(timeline.SessionOptions{Minimap: opts.Minimap})
	defer sess.Close()
	sess.Load(t)
	sess.SetColors(viz.ServiceColors(t.Services()))
	sess.SetDomain(opts.Domain)
	if len(opts.Services) > 0 {
		sess.SetServices(opts.Services...)
	}
	if opts.CollapseAll {
		sess.CollapseAll()
	}
	for _, id := range opts.Collapsed {
		if !sess.Collapsed().Has(id) && !sess.ToggleCollapse(id) {
			return fmt.Errorf("cannot collapse span %q: not found or has no children", id)
		}
	}

	if t.Empty() {
		fmt.Fprintf(w, "Trace %s: no spans found\n", t.ID)
	} else {
		var b strings.Builder
		b.WriteString(viz.Waterfall(t, sess.Rows(), sess.Scale(), viz.WaterfallOptions{
			Width: opts.Width,
			Ticks: sess.Ticks(),
		}))
		b.WriteString("\n")
		b.WriteString(viz.ServiceSummary(viz.ServiceStatsFor(t, sess.Services()), opts.Width))
		if errs := viz.ErrorSpans(t); errs != "" {
			b.WriteString("\n")
			b.WriteString(errs)
		}
		if !t.Report.Clean() {
			fmt.Fprintf(&b, "\nRepaired input: %s\n", t.Report)
		}
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePNG(opts.PNGPath, sess); err != nil {
			return err
		}
		fmt.Fprintf(w, "\nMinimap written to %s\n", opts.PNGPath)
	}
	return nil
}

func writePNG(path string, sess *timeline.Session) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := timeline.EncodePNG(f, sess.MinimapImage()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func listEntry(t *timeline.Trace, source string) viz.TraceListEntry {
	e := viz.TraceListEntry{TraceID: t.ID, SpanCount: t.SpanCount, Source: source}
	if t.Empty() {
		return e
	}
	e.RootService = t.Roots[0].ServiceName
	e.RootOperation = t.Roots[0].OperationName
	e.DurationMs = t.Extent.Width()
	t.Walk(func(n *timeline.SpanNode, _ int) bool {
		if n.HasError {
			e.HasError = true
			return false
		}
		return true
	})
	return e
}
