package cycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"viewcheck/fixture"
	"viewcheck/models"
	"viewcheck/schema"
	"viewcheck/store"
	"viewcheck/store/storetest"
)

var testVerify = VerifyOptions{Limit: 5, StatsCountField: "count", StatsWindow: time.Minute}

func seeded(t *testing.T, run fixture.Run) *storetest.Memory {
	t.Helper()
	m := storetest.NewMemory()
	_, err := Seed(context.Background(), m, nil, run)
	require.NoError(t, err)
	return m
}

func viewByName(t *testing.T, v Verification, name string) ViewResult {
	t.Helper()
	for _, r := range v.Views {
		if r.View == name {
			return r
		}
	}
	t.Fatalf("no result for view %s", name)
	return ViewResult{}
}

func TestVerifyConvergedPipeline(t *testing.T) {
	run := testRun()
	m := seeded(t, run)
	materialize(m, time.Minute)

	ver, err := Verify(context.Background(), m, schema.NewValidator(), DefaultExpectations(run, testVerify))
	require.NoError(t, err)
	require.Len(t, ver.Views, 5)
	for _, r := range ver.Views {
		assert.Equal(t, StatusOK, r.Status, "%s: %v", r.View, r.Problems)
	}
	assert.False(t, ver.Pending())
	assert.NoError(t, ver.Err())

	flat := viewByName(t, ver, models.TransactionsFlatColl)
	assert.EqualValues(t, 6, flat.Count)
	require.Len(t, flat.Docs, 5)
	for i := 1; i < len(flat.Docs); i++ {
		prev := flat.Docs[i-1]["date"].(primitive.DateTime)
		cur := flat.Docs[i]["date"].(primitive.DateTime)
		assert.LessOrEqual(t, int64(prev), int64(cur))
	}
	assert.Equal(t, 1000.0, flat.Docs[0]["total"])

	stats := viewByName(t, ver, models.MinuteStatsColl)
	require.NotEmpty(t, stats.Docs)
	assert.Equal(t, primitive.NewDateTimeFromTime(run.T0), stats.Docs[0]["windowStart"])
	assert.EqualValues(t, 3, stats.Docs[0]["count"])
}

func TestVerifyFlatTotalsMatchAmountTimesPrice(t *testing.T) {
	run := testRun()
	m := seeded(t, run)
	materialize(m, time.Minute)

	docs, err := m.Find(context.Background(), store.Sink, models.TransactionsFlatColl, store.Query{
		Filter: bson.M{"symbol": "ZZZ"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.InDelta(t, 593.67, docs[0]["total"], 1e-9)
	assert.Empty(t, checkTotal(docs[0]))
}

func TestVerifyEmptyViewsArePending(t *testing.T) {
	run := testRun()
	m := seeded(t, run)

	ver, err := Verify(context.Background(), m, schema.NewValidator(), DefaultExpectations(run, testVerify))
	require.NoError(t, err)
	assert.True(t, ver.Pending())
	for _, r := range ver.Views {
		assert.Equal(t, StatusNotConverged, r.Status, r.View)
		assert.Empty(t, r.Docs)
	}
	assert.ErrorIs(t, ver.Err(), ErrPipelineNotConverged)
}

func TestVerifyPartialFlatViewIsPending(t *testing.T) {
	run := testRun()
	m := seeded(t, run)
	materialize(m, time.Minute)
	_, err := m.DeleteMany(context.Background(), store.Sink, models.TransactionsFlatColl, bson.M{"symbol": "ZZZ"})
	require.NoError(t, err)

	ver, err := Verify(context.Background(), m, nil, DefaultExpectations(run, testVerify))
	require.NoError(t, err)
	assert.Equal(t, StatusNotConverged, viewByName(t, ver, models.TransactionsFlatColl).Status)
}

func TestVerifyExtraFlatDocumentIsUnexpected(t *testing.T) {
	run := testRun()
	m := seeded(t, run)
	materialize(m, time.Minute)
	docs := m.All(store.Sink, models.TransactionsFlatColl)
	dup := bson.M{}
	for k, v := range docs[0] {
		if k != "_id" {
			dup[k] = v
		}
	}
	m.Put(store.Sink, models.TransactionsFlatColl, dup)

	ver, err := Verify(context.Background(), m, nil, DefaultExpectations(run, testVerify))
	require.NoError(t, err)
	assert.Equal(t, StatusUnexpectedCount, viewByName(t, ver, models.TransactionsFlatColl).Status)
	assert.ErrorIs(t, ver.Err(), ErrUnexpectedCount)
	assert.False(t, ver.Pending())
}

func TestVerifyWrongTotalIsSchemaMismatch(t *testing.T) {
	run := testRun()
	m := seeded(t, run)
	materialize(m, time.Minute)
	m.Put(store.Sink, models.TransactionsFlatColl, bson.M{
		"account_id":       run.AccountID,
		"date":             primitive.NewDateTimeFromTime(fixture.HistoricalStart),
		"amount":           2.0,
		"transaction_code": models.TradeBuy,
		"symbol":           "ACME",
		"price":            3.0,
		"total":            7.0,
	})

	ver, err := Verify(context.Background(), m, schema.NewValidator(), DefaultExpectations(run, testVerify))
	require.NoError(t, err)
	flat := viewByName(t, ver, models.TransactionsFlatColl)
	assert.Equal(t, StatusSchemaMismatch, flat.Status)
	assert.ErrorIs(t, ver.Err(), ErrSchemaMismatch)
}

func TestVerifyMissingRequiredFieldIsSchemaMismatch(t *testing.T) {
	run := testRun()
	m := seeded(t, run)
	materialize(m, time.Minute)
	_, err := m.DeleteMany(context.Background(), store.Sink, models.AccountsRefColl, bson.M{})
	require.NoError(t, err)
	m.Put(store.Sink, models.AccountsRefColl, bson.M{"account_id": run.AccountID, "limit": "lots"})

	ver, err := Verify(context.Background(), m, schema.NewValidator(), DefaultExpectations(run, testVerify))
	require.NoError(t, err)
	assert.Equal(t, StatusSchemaMismatch, viewByName(t, ver, models.AccountsRefColl).Status)
}

func TestEvaluateOrderingViolation(t *testing.T) {
	run := testRun()
	exp := DefaultExpectations(run, testVerify)[4]
	require.Equal(t, models.MinuteStatsColl, exp.View)

	docs := []bson.M{
		{"symbol": "ACME", "windowStart": primitive.NewDateTimeFromTime(run.T0.Add(-time.Minute)), "count": 1},
		{"symbol": "ACME", "windowStart": primitive.NewDateTimeFromTime(run.T0), "count": 3},
	}
	res := evaluate(exp, docs, 2, nil)
	assert.Equal(t, StatusOrderingViolation, res.Status)
	assert.NotEmpty(t, res.Problems)
}

func TestEvaluateRecentWindowsSpanningBoundary(t *testing.T) {
	// T0 11:59:30, T1 12:00:00, T2 12:00:20 split across two windows.
	run := fixture.NewRun(testIdentity, time.Date(2026, 3, 2, 12, 0, 30, 0, time.UTC))
	require.False(t, run.BurstContained(run.T0.Truncate(time.Minute), time.Minute))
	m := seeded(t, run)
	materialize(m, time.Minute)

	ver, err := Verify(context.Background(), m, nil, DefaultExpectations(run, testVerify))
	require.NoError(t, err)
	stats := viewByName(t, ver, models.MinuteStatsColl)
	assert.Equal(t, StatusOK, stats.Status, stats.Problems)
	require.GreaterOrEqual(t, len(stats.Docs), 2)
	assert.EqualValues(t, 2, stats.Docs[0]["count"])
	assert.EqualValues(t, 1, stats.Docs[1]["count"])
}

func TestEvaluateIncompleteLatestWindowIsPending(t *testing.T) {
	run := testRun()
	exp := DefaultExpectations(run, testVerify)[4]
	docs := []bson.M{
		{"symbol": "ACME", "windowStart": primitive.NewDateTimeFromTime(run.T0), "count": int32(2)},
		{"symbol": "ACME", "windowStart": primitive.NewDateTimeFromTime(fixture.HistoricalStart), "count": int32(5)},
	}
	res := evaluate(exp, docs, 2, nil)
	assert.Equal(t, StatusNotConverged, res.Status)
}

func TestEvaluateStatsWithoutCountFieldIsSchemaMismatch(t *testing.T) {
	run := testRun()
	exp := DefaultExpectations(run, testVerify)[4]
	docs := []bson.M{{"symbol": "ACME", "windowStart": primitive.NewDateTimeFromTime(run.T0), "n": 3}}
	res := evaluate(exp, docs, 1, nil)
	assert.Equal(t, StatusSchemaMismatch, res.Status)
	require.Len(t, res.Problems, 1)
	assert.Contains(t, res.Problems[0], `"count"`)
}

func TestVerifyStoreFailureIsPhaseError(t *testing.T) {
	m := storetest.NewMemory()
	m.FailOn("count", store.Sink, models.CustomersRefColl, context.DeadlineExceeded)

	_, err := Verify(context.Background(), m, nil, DefaultExpectations(testRun(), testVerify))
	var perr *PhaseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "verify", perr.Phase)
	assert.Equal(t, models.CustomersRefColl, perr.Collection)
	assert.ErrorIs(t, err, ErrConnectivity)
}

func TestNumberRejectsNonDoubles(t *testing.T) {
	d, err := primitive.ParseDecimal128("593.67")
	require.NoError(t, err)
	_, ok := number(d)
	assert.False(t, ok)

	_, ok = number("12")
	assert.False(t, ok)

	n, ok := number(int32(3))
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)
}

func TestVerifyDecimalTotalIsSchemaMismatch(t *testing.T) {
	run := testRun()
	m := seeded(t, run)
	materialize(m, time.Minute)
	docs, err := m.Find(context.Background(), store.Sink, models.TransactionsFlatColl, store.Query{
		Filter: bson.M{"symbol": "ZZZ"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	total, err := primitive.ParseDecimal128("593.67")
	require.NoError(t, err)
	docs[0]["total"] = total

	for _, v := range []*schema.Validator{nil, schema.NewValidator()} {
		ver, err := Verify(context.Background(), m, v, DefaultExpectations(run, testVerify))
		require.NoError(t, err)
		assert.Equal(t, StatusSchemaMismatch, viewByName(t, ver, models.TransactionsFlatColl).Status)
	}
}

func TestVerifyChecksTotalsBeyondSampleLimit(t *testing.T) {
	run := testRun()
	m := seeded(t, run)
	materialize(m, time.Minute)

	// Sorted by date the last burst trade is the sixth document, outside a sample of five.
	last, err := m.Find(context.Background(), store.Sink, models.TransactionsFlatColl, store.Query{
		Filter: bson.M{"account_id": run.AccountID},
		Sort:   bson.D{{Key: "date", Value: -1}},
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, last, 1)
	require.Equal(t, primitive.NewDateTimeFromTime(run.T2), last[0]["date"])
	last[0]["total"] = 99999.0

	ver, err := Verify(context.Background(), m, schema.NewValidator(), DefaultExpectations(run, testVerify))
	require.NoError(t, err)
	flat := viewByName(t, ver, models.TransactionsFlatColl)
	assert.Equal(t, StatusSchemaMismatch, flat.Status)
	require.Len(t, flat.Problems, 1)
	assert.Contains(t, flat.Problems[0], "doc 5")
	assert.Len(t, flat.Docs, 5)
}

func TestExpectationReadQueryCoversExactCount(t *testing.T) {
	exps := DefaultExpectations(testRun(), testVerify)
	flat := exps[2]
	require.Equal(t, models.TransactionsFlatColl, flat.View)
	assert.EqualValues(t, 5, flat.Query.Limit)
	assert.EqualValues(t, 7, flat.readQuery().Limit)

	stats := exps[4]
	assert.Equal(t, stats.Query, stats.readQuery())
}
