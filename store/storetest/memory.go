// Package storetest provides an in-process store with the same method set as
// store.Mongo. It evaluates the filter subset viewcheck issues: equality on
// dotted paths (array fields match any element), $in, and top-level $or.
package storetest

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"viewcheck/store"
)

// Memory is safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	colls map[string][]bson.M
	fail  map[string]error
}

func NewMemory() *Memory {
	return &Memory{colls: map[string][]bson.M{}, fail: map[string]error{}}
}

func key(t store.Target, coll string) string { return string(t) + "/" + coll }

// FailOn makes op ("delete", "insert", "find", "count") on coll return err until cleared with a nil err.
func (m *Memory) FailOn(op string, t store.Target, coll string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := op + ":" + key(t, coll)
	if err == nil {
		delete(m.fail, k)
		return
	}
	m.fail[k] = err
}

func (m *Memory) failure(op string, t store.Target, coll string) error {
	return m.fail[op+":"+key(t, coll)]
}

// All returns a copy of every document in coll.
func (m *Memory) All(t store.Target, coll string) []bson.M {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bson.M(nil), m.colls[key(t, coll)]...)
}

// Put stores doc without duplicate checks, as an external writer would.
func (m *Memory) Put(t store.Target, coll string, doc interface{}) {
	d, err := normalize(doc)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.colls[key(t, coll)] = append(m.colls[key(t, coll)], d)
}

func normalize(doc interface{}) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if _, ok := out["_id"]; !ok {
		out["_id"] = primitive.NewObjectID()
	}
	return out, nil
}

func (m *Memory) DeleteMany(_ context.Context, t store.Target, coll string, filter bson.M) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("delete", t, coll); err != nil {
		return 0, err
	}
	k := key(t, coll)
	kept := m.colls[k][:0:0]
	var n int64
	for _, d := range m.colls[k] {
		if Matches(d, filter) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	m.colls[k] = kept
	return n, nil
}

func (m *Memory) InsertOne(_ context.Context, t store.Target, coll string, doc interface{}) error {
	d, err := normalize(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("insert", t, coll); err != nil {
		return err
	}
	k := key(t, coll)
	for _, existing := range m.colls[k] {
		if equal(existing["_id"], d["_id"]) {
			return mongo.WriteException{WriteErrors: mongo.WriteErrors{{
				Code:    11000,
				Message: fmt.Sprintf("E11000 duplicate key error collection: %s index: _id_", coll),
			}}}
		}
	}
	m.colls[k] = append(m.colls[k], d)
	return nil
}

func (m *Memory) Find(_ context.Context, t store.Target, coll string, q store.Query) ([]bson.M, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("find", t, coll); err != nil {
		return nil, err
	}
	out := []bson.M{}
	for _, d := range m.colls[key(t, coll)] {
		if Matches(d, q.Filter) {
			out = append(out, d)
		}
	}
	if len(q.Sort) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, s := range q.Sort {
				c := compare(lookup(out[i], s.Key), lookup(out[j], s.Key))
				if c == 0 {
					continue
				}
				if dir, _ := toFloat(s.Value); dir < 0 {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && int64(len(out)) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Count(_ context.Context, t store.Target, coll string, filter bson.M) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("count", t, coll); err != nil {
		return 0, err
	}
	var n int64
	for _, d := range m.colls[key(t, coll)] {
		if Matches(d, filter) {
			n++
		}
	}
	return n, nil
}

// Matches evaluates filter against doc.
func Matches(doc bson.M, filter bson.M) bool {
	for k, want := range filter {
		if k == "$or" {
			if !matchOr(doc, want) {
				return false
			}
			continue
		}
		got := lookup(doc, k)
		if ops, ok := want.(bson.M); ok {
			if in, ok := ops["$in"]; ok {
				if !matchIn(got, in) {
					return false
				}
				continue
			}
		}
		if !matchValue(got, want) {
			return false
		}
	}
	return true
}

func matchOr(doc bson.M, clauses interface{}) bool {
	for _, c := range asSlice(clauses) {
		if f, ok := c.(bson.M); ok && Matches(doc, f) {
			return true
		}
	}
	return false
}

func matchIn(got interface{}, in interface{}) bool {
	for _, v := range asSlice(in) {
		if matchValue(got, v) {
			return true
		}
	}
	return false
}

func matchValue(got, want interface{}) bool {
	if arr, ok := got.(primitive.A); ok {
		for _, el := range arr {
			if equal(el, want) {
				return true
			}
		}
		return false
	}
	return equal(got, want)
}

func asSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case []interface{}:
		return s
	case primitive.A:
		return s
	case []bson.M:
		out := make([]interface{}, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	case []string:
		out := make([]interface{}, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	default:
		return nil
	}
}

func lookup(doc bson.M, path string) interface{} {
	var cur interface{} = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(bson.M)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func equal(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// compare orders numbers, dates and strings; mismatched or missing values sort first.
func compare(a, b interface{}) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmp(fa, fb)
		}
	}
	if da, ok := a.(primitive.DateTime); ok {
		if db, ok := b.(primitive.DateTime); ok {
			return cmp(int64(da), int64(db))
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb)
		}
	}
	switch {
	case a == nil && b != nil:
		return -1
	case a != nil && b == nil:
		return 1
	}
	return 0
}

func cmp[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
