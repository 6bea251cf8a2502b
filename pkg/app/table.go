package app

import (
	"fmt"
	"io"

	"github.com/gosuri/uitable"
)

// PrintTable writes rows under header as aligned columns.
func PrintTable(w io.Writer, header []any, rows [][]any) error {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow(header...)
	for _, row := range rows {
		table.AddRow(row...)
	}
	_, err := fmt.Fprintln(w, table)
	return err
}
