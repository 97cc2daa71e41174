// Package report renders cycle reports for people (tables plus sample
// documents) and for machines (indented JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"go.mongodb.org/mongo-driver/bson"

	"viewcheck/cycle"
)

// JSON writes v as indented JSON.
func JSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Console writes the cleanup, seed and settle summary followed by the view checks.
func Console(w io.Writer, rep cycle.Report) error {
	fmt.Fprintf(w, "run %s  tag=%s  account=%d  customer=%s\n", rep.RunID, rep.Tag, rep.AccountID, rep.CustomerID)

	fmt.Fprintf(w, "\ncleanup: removed %d document(s)", rep.Cleanup.Removed())
	if n := len(rep.Cleanup.Diagnostics); n > 0 {
		fmt.Fprintf(w, ", %d suppressed failure(s)", n)
	}
	fmt.Fprintln(w)
	if len(rep.Cleanup.Diagnostics) > 0 {
		t := newTable(w, []string{"Target", "Collection", "Error"})
		for _, d := range rep.Cleanup.Diagnostics {
			t.Append([]string{string(d.Target), d.Collection, d.Message})
		}
		t.Render()
	}

	kinds := make([]string, 0, len(rep.Seed.Inserted))
	for _, in := range rep.Seed.Inserted {
		kinds = append(kinds, in.Kind)
	}
	fmt.Fprintf(w, "seed: %s\n", strings.Join(kinds, ", "))

	if rep.Settle.Attempts > 0 {
		state := "converged"
		if !rep.Settle.Converged {
			state = "not converged"
		}
		fmt.Fprintf(w, "settle: %s after %d attempt(s) in %s\n",
			state, rep.Settle.Attempts, rep.Settle.Elapsed.Round(time.Millisecond))
	}

	if len(rep.Verification.Views) > 0 {
		fmt.Fprintln(w)
		if err := Verification(w, rep.Verification); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	if rep.Passed() {
		fmt.Fprintln(w, "PASS")
		return nil
	}
	fmt.Fprintf(w, "FAIL: %s\n", rep.Error)
	return nil
}

// Verification writes a status table, then every sampled document in relaxed
// extended JSON, one block per view.
func Verification(w io.Writer, ver cycle.Verification) error {
	t := newTable(w, []string{"View", "Status", "Count", "Shown", "Problems"})
	for _, v := range ver.Views {
		t.Append([]string{
			v.View,
			string(v.Status),
			fmt.Sprint(v.Count),
			fmt.Sprint(len(v.Docs)),
			strings.Join(v.Problems, "; "),
		})
	}
	t.Render()

	for _, v := range ver.Views {
		fmt.Fprintf(w, "\n--- %s ---\n", v.View)
		if len(v.Docs) == 0 {
			fmt.Fprintln(w, "(no documents)")
			continue
		}
		for _, d := range v.Docs {
			b, err := bson.MarshalExtJSON(d, false, false)
			if err != nil {
				return fmt.Errorf("render %s document: %w", v.View, err)
			}
			fmt.Fprintln(w, string(b))
		}
	}
	return nil
}

// Table writes rows under header.
func Table(w io.Writer, header []string, rows [][]string) {
	t := newTable(w, header)
	t.AppendBulk(rows)
	t.Render()
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	return t
}
