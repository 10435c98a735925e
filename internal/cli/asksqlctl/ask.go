package asksqlctl

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/asksql/asksql/internal/present"
	"github.com/asksql/asksql/internal/schema"
)

func (c *cli) askCommand() *cobra.Command {
	var debug, asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Translate a question into SQL and run it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("question must not be empty")
			}
			payload := map[string]any{"question": question, "debug": debug}
			status, raw, err := c.request(cmd.Context(), http.MethodPost, "/v1/ask", payload, c.resolveKey(), false)
			if err != nil {
				return err
			}
			var view present.View
			if err := json.Unmarshal(raw, &view); err != nil || (view.Error == nil && status >= 400) {
				return failed("http %d: %s", status, errorMessage(raw))
			}
			if asJSON {
				printJSON(cmd.OutOrStdout(), raw)
			} else {
				renderView(cmd.OutOrStdout(), view)
			}
			if view.Error != nil {
				return failed("%s: %s", view.ErrorCode, *view.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "include the pipeline trace")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func (c *cli) schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "List the tables and columns the assistant can query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, raw, err := c.request(cmd.Context(), http.MethodGet, "/v1/schema", nil, "", true)
			if err != nil {
				return err
			}
			var payload struct {
				Tables []schema.Table `json:"tables"`
			}
			if err := json.Unmarshal(raw, &payload); err != nil {
				return failed("decode schema: %v", err)
			}
			data := pterm.TableData{{"table", "columns"}}
			for _, table := range payload.Tables {
				columns := make([]string, 0, len(table.Columns))
				for _, column := range table.Columns {
					columns = append(columns, column.Name+" "+column.Type)
				}
				data = append(data, []string{table.Name, strings.Join(columns, ", ")})
			}
			return renderTable(cmd.OutOrStdout(), data)
		},
	}
}

func renderView(w io.Writer, view present.View) {
	if view.CorrectedQuery != nil {
		_, _ = fmt.Fprintf(w, "Corrected query: %s\n", *view.CorrectedQuery)
	}
	if view.GeneratedSQL != nil {
		_, _ = fmt.Fprintln(w, pterm.DefaultBox.WithTitle("SQL").WithPadding(1).Sprint(*view.GeneratedSQL))
	}
	for _, warning := range view.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if view.Error != nil {
		return
	}
	if len(view.ColumnNames) > 0 {
		data := pterm.TableData{view.ColumnNames}
		for _, row := range view.QueryResults {
			cells := make([]string, len(row))
			for i, value := range row {
				cells[i] = formatCell(value)
			}
			data = append(data, cells)
		}
		_ = renderTable(w, data)
	}
	_, _ = fmt.Fprintf(w, "%d row(s) in %d ms\n", view.RowCount(), view.DurationMS)
	for _, entry := range view.DebugInfo {
		raw, err := json.Marshal(entry.Output)
		if err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "[%s] %s\n", entry.Stage, raw)
	}
}

func renderTable(w io.Writer, data pterm.TableData) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return failed("render table: %v", err)
	}
	_, _ = fmt.Fprintln(w, out)
	return nil
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}
		return fmt.Sprintf("%g", typed)
	default:
		return fmt.Sprint(typed)
	}
}
