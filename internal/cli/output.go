package cli

import (
	"encoding/json"
	"io"
	"strings"
	"text/tabwriter"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// output writes command results as aligned text or JSON.
type output struct {
	format string
	w      io.Writer
}

func newOutput(format string, w io.Writer) output {
	return output{format: format, w: w}
}

func (o output) isJSON() bool {
	return o.format == formatJSON
}

func (o output) json(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table prints header and rows through a tabwriter.
func (o output) table(header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	if _, err := io.WriteString(tw, strings.Join(header, "\t")+"\n"); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := io.WriteString(tw, strings.Join(row, "\t")+"\n"); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func (o output) line(s string) error {
	_, err := io.WriteString(o.w, s+"\n")
	return err
}
