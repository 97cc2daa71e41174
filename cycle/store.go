package cycle

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"viewcheck/store"
)

// Store is the slice of document-store behaviour a cycle needs.
// store.Mongo and storetest.Memory implement it.
type Store interface {
	DeleteMany(ctx context.Context, t store.Target, coll string, filter bson.M) (int64, error)
	InsertOne(ctx context.Context, t store.Target, coll string, doc interface{}) error
	Find(ctx context.Context, t store.Target, coll string, q store.Query) ([]bson.M, error)
	Count(ctx context.Context, t store.Target, coll string, filter bson.M) (int64, error)
}
