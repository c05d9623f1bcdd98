package mongodb

import (
	"time"

	"habitora-core/internal/docstore/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// buildQueryFilter translates a query into a MongoDB filter document. Field
// filters address the data subdocument; the collection match pins the scan to
// one logical collection.
func buildQueryFilter(query model.Query) bson.M {
	filter := bson.M{"collection": query.Collection}

	var clauses []bson.M
	for _, f := range query.Filters {
		clauses = append(clauses, singleFilter(f))
	}
	if len(clauses) == 1 {
		for k, v := range clauses[0] {
			filter[k] = v
		}
	} else if len(clauses) > 1 {
		filter["$and"] = clauses
	}
	return filter
}

func singleFilter(f model.Filter) bson.M {
	field := "data." + f.Field

	switch f.Operator {
	case model.OperatorEqual:
		return bson.M{field: f.Value}
	case model.OperatorNotEqual:
		return bson.M{field: bson.M{"$ne": f.Value}}
	case model.OperatorLessThan:
		return bson.M{field: bson.M{"$lt": f.Value}}
	case model.OperatorLessThanOrEqual:
		return bson.M{field: bson.M{"$lte": f.Value}}
	case model.OperatorGreaterThan:
		return bson.M{field: bson.M{"$gt": f.Value}}
	case model.OperatorGreaterThanOrEqual:
		return bson.M{field: bson.M{"$gte": f.Value}}
	case model.OperatorArrayContains:
		return bson.M{field: bson.M{"$elemMatch": bson.M{"$eq": f.Value}}}
	case model.OperatorArrayContainsAny:
		return bson.M{field: bson.M{"$in": f.Value}}
	case model.OperatorIn:
		return bson.M{field: bson.M{"$in": f.Value}}
	case model.OperatorNotIn:
		return bson.M{field: bson.M{"$nin": f.Value}}
	default:
		return bson.M{field: f.Value}
	}
}

// buildFindOptions maps ordering and limits. The _id tiebreak follows the
// last explicit direction, matching the client-side comparator, so indexed
// and fallback subscriptions produce the same sequence.
func buildFindOptions(query model.Query) *options.FindOptions {
	opts := options.Find()

	sort := bson.D{}
	tiebreak := 1
	for _, o := range query.Orders {
		dir := 1
		if o.Direction == model.Descending {
			dir = -1
		}
		tiebreak = dir
		sort = append(sort, bson.E{Key: "data." + o.Field, Value: dir})
	}
	sort = append(sort, bson.E{Key: "_id", Value: tiebreak})
	opts.SetSort(sort)

	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}
	return opts
}

// buildUpdateDocument produces the $set document for a merge update. Dotted
// keys pass through untouched; MongoDB interprets them as nested paths with
// the same semantics as the shared merge helper.
func buildUpdateDocument(data map[string]interface{}, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	for key, value := range data {
		if fv, ok := value.(model.FieldValue); ok && fv == model.ServerTimestamp {
			value = now
		}
		set["data."+key] = value
	}
	return bson.M{"$set": set}
}

// normalizeData rewrites a decoded BSON tree into the plain Go types the rest
// of the system works with: primitive.M to map, primitive.A to slice,
// primitive.DateTime to time.Time.
func normalizeData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case primitive.DateTime:
		return tv.Time().UTC()
	case primitive.M:
		return normalizeData(map[string]interface{}(tv))
	case map[string]interface{}:
		return normalizeData(tv)
	case primitive.A:
		return normalizeSlice([]interface{}(tv))
	case []interface{}:
		return normalizeSlice(tv)
	default:
		return v
	}
}

func normalizeSlice(in []interface{}) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = normalizeValue(v)
	}
	return out
}
