package tablepath

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_ParseRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("parsing the rendered URI yields the same path", prop.ForAll(
		func(bucket string, segments []string, trailing bool, quoted bool) bool {
			raw := buildRaw(bucket, segments, trailing)
			if quoted {
				raw = "'" + raw + "'"
			}
			first, err := Parse(raw)
			if err != nil {
				return false
			}
			second, err := Parse(first.String())
			if err != nil {
				return false
			}
			return first == second
		},
		bucketGen(),
		segmentsGen(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestProperty_TableNameIsLastSegmentOrBucket(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("table name is the final path segment, or the bucket when there is none", prop.ForAll(
		func(bucket string, segments []string, trailing bool) bool {
			path, err := Parse(buildRaw(bucket, segments, trailing))
			if err != nil {
				return false
			}
			name, err := path.TableName()
			if err != nil {
				return false
			}
			if len(segments) == 0 {
				return name == bucket
			}
			return name == segments[len(segments)-1]
		},
		bucketGen(),
		segmentsGen(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func buildRaw(bucket string, segments []string, trailing bool) string {
	raw := "s3://" + bucket
	if len(segments) > 0 {
		raw += "/" + strings.Join(segments, "/")
	}
	if trailing {
		raw += "/"
	}
	return raw
}

func bucketGen() gopter.Gen {
	return gen.RegexMatch(`[a-z][a-z0-9-]{2,20}`)
}

func segmentsGen() gopter.Gen {
	return gen.SliceOf(gen.RegexMatch(`[a-z0-9_-]{1,12}`))
}
