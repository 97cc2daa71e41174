package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"viewcheck/store"
)

func TestMatches(t *testing.T) {
	doc := bson.M{
		"account_id": int32(990001),
		"accounts":   bson.A{int64(990001), int64(5)},
		"meta":       bson.M{"tag": "asp_demo"},
		"symbol":     "ACME",
	}
	cases := []struct {
		name   string
		filter bson.M
		want   bool
	}{
		{"numeric across types", bson.M{"account_id": int64(990001)}, true},
		{"dotted path", bson.M{"meta.tag": "asp_demo"}, true},
		{"dotted path miss", bson.M{"meta.tag": "other"}, false},
		{"array contains", bson.M{"accounts": 5}, true},
		{"in", bson.M{"symbol": bson.M{"$in": []string{"ZZZ", "ACME"}}}, true},
		{"in miss", bson.M{"symbol": bson.M{"$in": []string{"ZZZ"}}}, false},
		{"or", bson.M{"$or": []bson.M{{"meta.tag": "x"}, {"account_id": 990001}}}, true},
		{"or miss", bson.M{"$or": []bson.M{{"meta.tag": "x"}, {"account_id": 1}}}, false},
		{"empty", bson.M{}, true},
		{"missing field", bson.M{"nope": 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Matches(doc, tc.filter))
		})
	}
}

func TestMemoryInsertDuplicate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.InsertOne(ctx, store.Source, "customers", bson.M{"_id": "c1"}))
	err := m.InsertOne(ctx, store.Source, "customers", bson.M{"_id": "c1"})
	require.Error(t, err)
	assert.True(t, mongo.IsDuplicateKeyError(err))
}

func TestMemoryFindSortLimit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		m.Put(store.Sink, "stats", bson.M{"symbol": "ACME", "windowStart": base.Add(time.Duration(i) * time.Minute)})
	}
	m.Put(store.Sink, "stats", bson.M{"symbol": "ZZZ", "windowStart": base})

	docs, err := m.Find(ctx, store.Sink, "stats", store.Query{
		Filter: bson.M{"symbol": "ACME"},
		Sort:   bson.D{{Key: "windowStart", Value: -1}},
		Limit:  3,
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	first := docs[0]["windowStart"].(interface{ Time() time.Time }).Time()
	assert.True(t, first.Equal(base.Add(3*time.Minute)))

	n, err := m.Count(ctx, store.Sink, "stats", bson.M{"symbol": "ACME"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestMemoryDeleteAndFailure(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Put(store.Source, "accounts", bson.M{"account_id": 1})
	m.Put(store.Source, "accounts", bson.M{"account_id": 2})

	boom := errors.New("boom")
	m.FailOn("delete", store.Source, "accounts", boom)
	_, err := m.DeleteMany(ctx, store.Source, "accounts", bson.M{"account_id": 1})
	assert.ErrorIs(t, err, boom)

	m.FailOn("delete", store.Source, "accounts", nil)
	n, err := m.DeleteMany(ctx, store.Source, "accounts", bson.M{"account_id": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, m.All(store.Source, "accounts"), 1)
}
