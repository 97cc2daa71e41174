package cycle

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"viewcheck/models"
	"viewcheck/store"
	"viewcheck/store/storetest"
)

// materialize rebuilds every view from the source collections the way the
// stream processor would once it has caught up.
func materialize(m *storetest.Memory, window time.Duration) {
	ctx := context.Background()
	for _, v := range []string{
		models.AccountsRefColl, models.CustomersRefColl, models.TransactionsFlatColl,
		models.TransactionsEnrichedColl, models.MinuteStatsColl,
	} {
		_, _ = m.DeleteMany(ctx, store.Sink, v, bson.M{})
	}

	tiers := map[float64]string{}
	for _, c := range m.All(store.Source, models.CustomersColl) {
		m.Put(store.Sink, models.CustomersRefColl, c)
		tier, _ := c["tier_and_details"].(bson.M)
		accts, _ := c["accounts"].(primitive.A)
		for _, a := range accts {
			if n, ok := number(a); ok && tier != nil {
				tiers[n], _ = tier["tier"].(string)
			}
		}
	}
	for _, a := range m.All(store.Source, models.AccountsColl) {
		m.Put(store.Sink, models.AccountsRefColl, bson.M{
			"account_id": a["account_id"],
			"products":   a["products"],
			"limit":      a["limit"],
		})
	}

	type windowKey struct {
		symbol string
		start  int64
	}
	stats := map[windowKey]int{}
	for _, b := range m.All(store.Source, models.TransactionsColl) {
		trades, _ := b["transactions"].(primitive.A)
		acct, _ := number(b["account_id"])
		for _, t := range trades {
			tr := t.(bson.M)
			flat := bson.M{
				"account_id":       b["account_id"],
				"date":             tr["date"],
				"amount":           tr["amount"],
				"transaction_code": tr["transaction_code"],
				"symbol":           tr["symbol"],
				"price":            tr["price"],
				"total":            tr["total"],
			}
			m.Put(store.Sink, models.TransactionsFlatColl, flat)

			enriched := bson.M{"tier": tiers[acct]}
			for k, v := range flat {
				enriched[k] = v
			}
			m.Put(store.Sink, models.TransactionsEnrichedColl, enriched)

			at := tr["date"].(primitive.DateTime).Time().UTC()
			stats[windowKey{symbol: tr["symbol"].(string), start: at.Truncate(window).UnixMilli()}]++
		}
	}
	for k, n := range stats {
		m.Put(store.Sink, models.MinuteStatsColl, bson.M{
			"symbol":      k.symbol,
			"windowStart": primitive.DateTime(k.start),
			"count":       n,
		})
	}
}

// pipelineStore materializes the views before every sink read, standing in
// for a processor that keeps up instantly.
type pipelineStore struct {
	*storetest.Memory
	window time.Duration
}

func (p pipelineStore) Find(ctx context.Context, t store.Target, coll string, q store.Query) ([]bson.M, error) {
	if t == store.Sink {
		materialize(p.Memory, p.window)
	}
	return p.Memory.Find(ctx, t, coll, q)
}
