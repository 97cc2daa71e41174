package cycle

import (
	"context"

	"viewcheck/fixture"
	"viewcheck/logger"
	"viewcheck/models"
	"viewcheck/schema"
	"viewcheck/store"
)

// Inserted describes one seeded source document.
type Inserted struct {
	Collection string `json:"collection"`
	Kind       string `json:"kind"`
}

type SeedResult struct {
	Inserted []Inserted `json:"inserted"`
}

type seedDoc struct {
	coll string
	kind string
	doc  interface{}
}

func seedPlan(run fixture.Run) []seedDoc {
	return []seedDoc{
		{coll: models.CustomersColl, kind: "customer", doc: run.Customer()},
		{coll: models.AccountsColl, kind: "account", doc: run.Account()},
		{coll: models.TransactionsColl, kind: "historical_bucket", doc: run.HistoricalBucket()},
		{coll: models.TransactionsColl, kind: "burst_bucket", doc: run.BurstBucket()},
	}
}

// Seed validates and inserts the customer, the account and both transaction
// buckets, in that order. The first failure aborts with a *PhaseError; the
// result lists what was inserted before it.
func Seed(ctx context.Context, st Store, v *schema.Validator, run fixture.Run) (SeedResult, error) {
	var res SeedResult
	plan := seedPlan(run)

	if v != nil {
		for _, d := range plan {
			if err := v.Validate(d.coll, d.doc); err != nil {
				return res, newPhaseError("seed", store.Source, d.coll, nil, err)
			}
		}
	}

	for i, d := range plan {
		if err := st.InsertOne(ctx, store.Source, d.coll, d.doc); err != nil {
			perr := newPhaseError("seed", store.Source, d.coll, nil, err)
			logger.Error("seed insert failed", err,
				logger.FieldKV("run_id", run.ID),
				logger.FieldKV("collection", d.coll),
				logger.FieldKV("kind", d.kind))
			return res, perr
		}
		res.Inserted = append(res.Inserted, Inserted{Collection: d.coll, Kind: d.kind})
		if i == 1 {
			logger.Info("inserted sample customer and account",
				logger.FieldKV("run_id", run.ID),
				logger.FieldKV("customer_id", run.CustomerID.Hex()),
				logger.FieldKV("account_id", run.AccountID))
		}
	}
	logger.Info("inserted test transactions",
		logger.FieldKV("run_id", run.ID),
		logger.FieldKV("burst_start", run.T0),
		logger.FieldKV("burst_end", run.Now))
	return res, nil
}
