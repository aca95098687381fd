package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/rodaine/table"

	"github.com/distribworks/xk6-substrate/pkg/chain"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()

	headerFmt = color.New(color.FgCyan, color.Underline).SprintfFunc()
)

func newTable(w io.Writer, cols ...interface{}) table.Table {
	return table.New(cols...).WithHeaderFormatter(headerFmt).WithWriter(w)
}

func formatLatency(d time.Duration) string {
	ms := d.Milliseconds()
	s := fmt.Sprintf("%dms", ms)
	switch {
	case ms < 100:
		return green(s)
	case ms < 300:
		return yellow(s)
	default:
		return red(s)
	}
}

func formatRate(r float64) string {
	s := fmt.Sprintf("%.0f%%", r*100)
	switch {
	case r >= 1:
		return green(s)
	case r >= 0.9:
		return yellow(s)
	default:
		return red(s)
	}
}

func short(h chain.Hash) string {
	s := h.Hex()
	return s[:10] + ".." + s[len(s)-6:]
}

func renderHeads(w io.Writer, results []headResult) {
	tbl := newTable(w, "Endpoint", "Best", "Hash", "Finalized", "Spec", "Latency")
	for _, r := range results {
		if r.Err != nil {
			tbl.AddRow(r.Endpoint, red("ERROR"), red(r.Err.Error()), "", "", "")
			continue
		}
		tbl.AddRow(r.Endpoint, r.Number, r.Best.Hex(), short(r.Finalized), r.SpecVersion, formatLatency(r.Latency))
	}
	tbl.Print()
}

func renderBlock(w io.Writer, b *chain.Block) {
	fmt.Fprintf(w, "%s #%d\n", bold("Block"), b.Header.Number)
	fmt.Fprintf(w, "  hash:       %s\n", b.Hash.Hex())
	fmt.Fprintf(w, "  parent:     %s\n", b.Header.ParentHash.Hex())
	fmt.Fprintf(w, "  state root: %s\n", b.Header.StateRoot.Hex())
	if b.SpecVersion != 0 {
		fmt.Fprintf(w, "  runtime:    %d\n", b.SpecVersion)
	}
	fmt.Fprintf(w, "  extrinsics: %d\n\n", len(b.Extrinsics))
	if len(b.Extrinsics) == 0 {
		return
	}

	tbl := newTable(w, "#", "Hash", "Signed", "Call")
	for i := range b.Extrinsics {
		x := &b.Extrinsics[i]
		call := dim("raw")
		signed := dim("-")
		if x.Decoded {
			signed = fmt.Sprint(x.Signed)
			if x.Call != nil {
				call = x.Call.Pallet + "." + x.Call.Name
			}
		}
		tbl.AddRow(x.Index, short(x.Hash), signed, call)
	}
	tbl.Print()
}

func renderBench(w io.Writer, results []benchResult) {
	tbl := newTable(w, "Endpoint", "Method", "Requests", "Success", "Mean", "p50", "p95", "p99", "Max", "Elapsed")
	for _, r := range results {
		if r.Err != nil {
			tbl.AddRow(r.Endpoint, r.Method, red("ERROR"), red(r.Err.Error()), "", "", "", "", "", "")
			continue
		}
		s := r.Summary
		tbl.AddRow(
			r.Endpoint,
			r.Method,
			s.Count+s.Failures,
			formatRate(s.SuccessRate()),
			formatLatency(s.Mean),
			formatLatency(s.P50),
			formatLatency(s.P95),
			formatLatency(s.P99),
			formatLatency(s.Max),
			r.Elapsed.Round(time.Millisecond),
		)
	}
	tbl.Print()
}
