package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// asciiPlot draws a crude vertical bar chart of values (0..1), one column
// per epoch.
func asciiPlot(values []float64) {
	fprintPlot(os.Stdout, values)
}

func fprintPlot(w io.Writer, values []float64) {
	const height = 10 // number of text rows
	n := len(values)
	if n == 0 {
		fmt.Fprintln(w, "no data to plot")
		return
	}
	for row := height; row >= 1; row-- {
		threshold := float64(row) / float64(height)
		var sb strings.Builder
		for _, v := range values {
			if v >= threshold {
				sb.WriteString("█")
			} else {
				sb.WriteString(" ")
			}
		}
		fmt.Fprintln(w, sb.String())
	}
	// x-axis
	fmt.Fprintln(w, strings.Repeat("─", n))
	// epoch digit every 5 columns
	var sb strings.Builder
	for i := range values {
		if i%5 == 0 {
			sb.WriteString(strconv.Itoa((i + 1) % 10))
		} else {
			sb.WriteString(" ")
		}
	}
	fmt.Fprintln(w, sb.String())
}
