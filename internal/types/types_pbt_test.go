package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestLocationsBucketProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	locations := DefaultLocations()

	properties.Property("a bucketed manager id maps back to the same id", prop.ForAll(
		func(id int64) bool {
			loc := locations.Bucket(&id)
			if loc == LocationAll {
				return true
			}
			designated, ok := locations.ManagerID(loc)
			return ok && designated == id
		},
		gen.Int64Range(DefaultJumeirahManagerID-3, DefaultRAKManagerID+3),
	))

	properties.Property("ids outside the designated set stay unbucketed", prop.ForAll(
		func(id int64) bool {
			if id == DefaultJumeirahManagerID || id == DefaultRAKManagerID {
				return true
			}
			return locations.Bucket(&id) == LocationAll
		},
		gen.Int64(),
	))

	properties.Property("every sortBy parses to a known metric", prop.ForAll(
		func(s string) bool {
			m := ParseMetric(s)
			return m == MetricVisits || (m == MetricSpend && s == "spend")
		},
		gen.OneConstOf("spend", "visits", "Spend", "", "revenue", " spend"),
	))

	properties.TestingRun(t)
}
