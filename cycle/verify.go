package cycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"viewcheck/fixture"
	"viewcheck/models"
	"viewcheck/schema"
	"viewcheck/store"
)

type Status string

const (
	StatusOK                Status = "ok"
	StatusNotConverged      Status = "not_converged"
	StatusSchemaMismatch    Status = "schema_mismatch"
	StatusOrderingViolation Status = "ordering_violation"
	StatusUnexpectedCount   Status = "unexpected_count"
)

// totalTolerance absorbs cent rounding and float noise on amount × price.
var totalTolerance = decimal.RequireFromString("0.005")

// Expectation describes what one materialized view must contain for a run.
type Expectation struct {
	View  string
	Query store.Query
	// MinCount and ExactCount bound CountDocuments(filter); zero disables.
	// With ExactCount set every expected document is read and checked, while
	// the reported sample stays at Query.Limit.
	MinCount   int64
	ExactCount int64
	// CheckTotals requires total ≈ amount × price on every returned document.
	CheckTotals bool
	// DescendingBy requires returned documents to be non-increasing on this field.
	DescendingBy string
	// CountField summed over returned documents whose DescendingBy value is at
	// or after RecentSince must reach MinRecentCount. Documents without the
	// field are skipped; if none has it the view is a schema mismatch.
	CountField     string
	RecentSince    time.Time
	MinRecentCount int64
}

type VerifyOptions struct {
	Limit           int64
	StatsCountField string
	// StatsWindow is the aggregation window width of the stats view.
	StatsWindow time.Duration
}

func (o VerifyOptions) withDefaults() VerifyOptions {
	if o.Limit <= 0 {
		o.Limit = 5
	}
	if o.StatsWindow <= 0 {
		o.StatsWindow = time.Minute
	}
	return o
}

// DefaultExpectations checks one bounded sample query per view.
func DefaultExpectations(run fixture.Run, opts VerifyOptions) []Expectation {
	opts = opts.withDefaults()
	limit := opts.Limit
	byAccount := bson.M{"account_id": run.AccountID}
	return []Expectation{
		{
			View:     models.AccountsRefColl,
			Query:    store.Query{Filter: byAccount, Limit: 1},
			MinCount: 1,
		},
		{
			View:     models.CustomersRefColl,
			Query:    store.Query{Filter: bson.M{"meta.tag": run.Tag}, Limit: 1},
			MinCount: 1,
		},
		{
			View:        models.TransactionsFlatColl,
			Query:       store.Query{Filter: byAccount, Sort: bson.D{{Key: "date", Value: 1}}, Limit: limit},
			ExactCount:  int64(fixture.ExpectedTradeCount()),
			CheckTotals: true,
		},
		{
			View:     models.TransactionsEnrichedColl,
			Query:    store.Query{Filter: byAccount, Sort: bson.D{{Key: "date", Value: 1}}, Limit: limit},
			MinCount: 1,
		},
		{
			View: models.MinuteStatsColl,
			Query: store.Query{
				Filter: bson.M{"symbol": fixture.BurstSymbol},
				Sort:   bson.D{{Key: "windowStart", Value: -1}},
				Limit:  limit,
			},
			MinCount:       1,
			DescendingBy:   "windowStart",
			CountField:     opts.StatsCountField,
			RecentSince:    run.T0.Truncate(opts.StatsWindow),
			MinRecentCount: int64(run.ExpectedBurstCount(fixture.BurstSymbol)),
		},
	}
}

// ViewResult is the structured outcome of checking one view.
type ViewResult struct {
	View     string   `json:"view"`
	Filter   bson.M   `json:"filter"`
	Count    int64    `json:"count"`
	Docs     []bson.M `json:"docs"`
	Status   Status   `json:"status"`
	Problems []string `json:"problems,omitempty"`
}

type Verification struct {
	Views []ViewResult `json:"views"`
}

// Pending reports whether any view is still waiting on the pipeline.
func (v Verification) Pending() bool {
	for _, r := range v.Views {
		if r.Status == StatusNotConverged {
			return true
		}
	}
	return false
}

// Err folds every non-ok view into one error matching the status kinds.
func (v Verification) Err() error {
	var errs []error
	for _, r := range v.Views {
		var kind error
		switch r.Status {
		case StatusOK:
			continue
		case StatusNotConverged:
			kind = ErrPipelineNotConverged
		case StatusSchemaMismatch:
			kind = ErrSchemaMismatch
		case StatusOrderingViolation:
			kind = ErrOrderingViolation
		default:
			kind = ErrUnexpectedCount
		}
		errs = append(errs, fmt.Errorf("%s: %w: %v", r.View, kind, r.Problems))
	}
	return errors.Join(errs...)
}

// Verify reads every view once and evaluates its expectation. An empty view
// is a not_converged result, not an error; only store failures return an error.
func Verify(ctx context.Context, st Store, v *schema.Validator, exps []Expectation) (Verification, error) {
	var out Verification
	for _, exp := range exps {
		docs, err := st.Find(ctx, store.Sink, exp.View, exp.readQuery())
		if err != nil {
			return out, newPhaseError("verify", store.Sink, exp.View, exp.Query.Filter, err)
		}
		count, err := st.Count(ctx, store.Sink, exp.View, exp.Query.Filter)
		if err != nil {
			return out, newPhaseError("verify", store.Sink, exp.View, exp.Query.Filter, err)
		}
		out.Views = append(out.Views, evaluate(exp, docs, count, v))
	}
	return out, nil
}

// readQuery widens the sample limit past ExactCount so one surplus document is seen too.
func (e Expectation) readQuery() store.Query {
	q := e.Query
	if q.Limit > 0 && e.ExactCount >= q.Limit {
		q.Limit = e.ExactCount + 1
	}
	return q
}

func evaluate(exp Expectation, docs []bson.M, count int64, v *schema.Validator) ViewResult {
	sample := docs
	if exp.Query.Limit > 0 && int64(len(sample)) > exp.Query.Limit {
		sample = sample[:exp.Query.Limit]
	}
	res := ViewResult{View: exp.View, Filter: exp.Query.Filter, Count: count, Docs: sample}

	var schemaProblems, orderProblems, countProblems, pending []string

	if v != nil {
		for i, d := range docs {
			if err := v.Validate(exp.View, d); err != nil {
				var verr *schema.ValidationError
				if errors.As(err, &verr) {
					schemaProblems = append(schemaProblems, fmt.Sprintf("doc %d: %v", i, verr.Problems))
					continue
				}
				schemaProblems = append(schemaProblems, fmt.Sprintf("doc %d: %v", i, err))
			}
		}
	}

	if exp.CheckTotals {
		for i, d := range docs {
			if p := checkTotal(d); p != "" {
				schemaProblems = append(schemaProblems, fmt.Sprintf("doc %d: %s", i, p))
			}
		}
	}

	if exp.DescendingBy != "" {
		for i := 1; i < len(docs); i++ {
			prev, okPrev := sortKey(docs[i-1][exp.DescendingBy])
			cur, okCur := sortKey(docs[i][exp.DescendingBy])
			if okPrev && okCur && cur > prev {
				orderProblems = append(orderProblems,
					fmt.Sprintf("%s not descending at doc %d", exp.DescendingBy, i))
			}
		}
	}

	if count < exp.MinCount {
		pending = append(pending, fmt.Sprintf("expected at least %d documents, found %d", exp.MinCount, count))
	}
	if exp.ExactCount > 0 {
		switch {
		case count < exp.ExactCount:
			pending = append(pending, fmt.Sprintf("expected %d documents, found %d", exp.ExactCount, count))
		case count > exp.ExactCount:
			countProblems = append(countProblems, fmt.Sprintf("expected %d documents, found %d", exp.ExactCount, count))
		}
	}

	if exp.CountField != "" && exp.MinRecentCount > 0 && len(docs) > 0 {
		n, seen := recentCount(exp, docs)
		switch {
		case !seen:
			schemaProblems = append(schemaProblems, fmt.Sprintf("count field %q absent from every document", exp.CountField))
		case n < float64(exp.MinRecentCount):
			pending = append(pending, fmt.Sprintf("windows since %s hold %s=%v, want at least %d",
				exp.RecentSince.Format(time.RFC3339), exp.CountField, n, exp.MinRecentCount))
		}
	}

	switch {
	case len(schemaProblems) > 0:
		res.Status, res.Problems = StatusSchemaMismatch, schemaProblems
	case len(orderProblems) > 0:
		res.Status, res.Problems = StatusOrderingViolation, orderProblems
	case len(countProblems) > 0:
		res.Status, res.Problems = StatusUnexpectedCount, countProblems
	case len(pending) > 0:
		res.Status, res.Problems = StatusNotConverged, pending
	default:
		res.Status = StatusOK
	}
	return res
}

// recentCount sums CountField over documents at or after RecentSince.
// seen is false when no returned document carries the field.
func recentCount(exp Expectation, docs []bson.M) (sum float64, seen bool) {
	since := float64(exp.RecentSince.UnixMilli())
	for _, d := range docs {
		n, ok := number(d[exp.CountField])
		if !ok {
			continue
		}
		seen = true
		if exp.DescendingBy != "" {
			if at, ok := sortKey(d[exp.DescendingBy]); ok && at < since {
				continue
			}
		}
		sum += n
	}
	return sum, seen
}

func checkTotal(d bson.M) string {
	amount, okA := number(d["amount"])
	price, okP := number(d["price"])
	total, okT := number(d["total"])
	if !okA || !okP || !okT {
		return "amount, price and total must be numeric"
	}
	want := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(price))
	got := decimal.NewFromFloat(total)
	if got.Sub(want).Abs().GreaterThan(totalTolerance) {
		return fmt.Sprintf("total %s != amount × price %s", got, want)
	}
	return ""
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n)
	default:
		return 0, false
	}
}

func sortKey(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case primitive.DateTime:
		return float64(t), true
	case time.Time:
		return float64(t.UnixMilli()), true
	default:
		return number(v)
	}
}
