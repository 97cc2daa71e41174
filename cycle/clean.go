package cycle

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"viewcheck/fixture"
	"viewcheck/logger"
	"viewcheck/models"
	"viewcheck/store"
)

// Deletion is one scoped delete of the cleanup plan and, after Clean, its outcome.
type Deletion struct {
	Target     store.Target `json:"target"`
	Collection string       `json:"collection"`
	Filter     bson.M       `json:"filter"`
	Deleted    int64        `json:"deleted"`
}

// Diagnostic records a suppressed cleanup failure.
type Diagnostic struct {
	Target     store.Target `json:"target"`
	Collection string       `json:"collection"`
	Filter     bson.M       `json:"filter"`
	Err        error        `json:"-"`
	Message    string       `json:"error"`
}

type CleanupResult struct {
	Deletions   []Deletion   `json:"deletions"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Removed sums deleted documents across all collections.
func (r CleanupResult) Removed() int64 {
	var n int64
	for _, d := range r.Deletions {
		n += d.Deleted
	}
	return n
}

// CleanupPlan lists every scoped delete for run. Source collections and
// customers_ref match on tag or account; the other views are matched on
// account or symbol because the pipeline does not carry meta through.
func CleanupPlan(run fixture.Run) []Deletion {
	byTagOrOwner := bson.M{"$or": []bson.M{
		{"meta.tag": run.Tag},
		{"accounts": run.AccountID},
	}}
	byTagOrAccount := bson.M{"$or": []bson.M{
		{"meta.tag": run.Tag},
		{"account_id": run.AccountID},
	}}
	byAccount := bson.M{"account_id": run.AccountID}

	return []Deletion{
		{Target: store.Source, Collection: models.CustomersColl, Filter: byTagOrOwner},
		{Target: store.Source, Collection: models.AccountsColl, Filter: byTagOrAccount},
		{Target: store.Source, Collection: models.TransactionsColl, Filter: byTagOrAccount},
		{Target: store.Sink, Collection: models.CustomersRefColl, Filter: byTagOrOwner},
		{Target: store.Sink, Collection: models.AccountsRefColl, Filter: byAccount},
		{Target: store.Sink, Collection: models.TransactionsFlatColl, Filter: byAccount},
		{Target: store.Sink, Collection: models.TransactionsEnrichedColl, Filter: byAccount},
		{Target: store.Sink, Collection: models.MinuteStatsColl, Filter: bson.M{"symbol": bson.M{"$in": run.CleanupSymbols()}}},
	}
}

// Clean attempts every deletion of the plan. Failures never stop the
// remaining deletions and are returned as diagnostics, not errors.
func Clean(ctx context.Context, st Store, run fixture.Run) CleanupResult {
	var res CleanupResult
	for _, d := range CleanupPlan(run) {
		n, err := st.DeleteMany(ctx, d.Target, d.Collection, d.Filter)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Target:     d.Target,
				Collection: d.Collection,
				Filter:     d.Filter,
				Err:        err,
				Message:    err.Error(),
			})
			continue
		}
		d.Deleted = n
		res.Deletions = append(res.Deletions, d)
		logger.Debug("cleanup delete",
			logger.FieldKV("target", d.Target),
			logger.FieldKV("collection", d.Collection),
			logger.FieldKV("deleted", n))
	}
	for _, diag := range res.Diagnostics {
		logger.Warn("cleanup delete suppressed", diag.Err,
			logger.FieldKV("run_id", run.ID),
			logger.FieldKV("target", diag.Target),
			logger.FieldKV("collection", diag.Collection),
			logger.FieldKV("filter", diag.Filter))
	}
	logger.Info("cleared old test data",
		logger.FieldKV("run_id", run.ID),
		logger.FieldKV("removed", res.Removed()),
		logger.FieldKV("suppressed", len(res.Diagnostics)))
	return res
}
