package sqlprep

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/lakequery/lakequery/internal/failure"
)

func TestProperty_PrepareRejectsNonSelectStatements(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("non-query statements are unsupported", prop.ForAll(
		func(template, table string) bool {
			_, err := NewPreparer(1000).Prepare(fmt.Sprintf(template, table))
			return failure.CodeOf(err) == failure.CodeUnsupportedQueryType
		},
		gen.OneConstOf(
			"insert into %s values (1)",
			"update %s set a = 1",
			"delete from %s",
			"create table %s (a int)",
			"drop table %s",
			"alter table %s add column b int",
			"truncate %s",
			"copy %s to 'out.csv'",
		),
		identGen(),
	))

	properties.TestingRun(t)
}

func TestProperty_PrepareInjectsOrKeepsLimit(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("missing LIMIT is injected with the row cap", prop.ForAll(
		func(table string, maxRows int) bool {
			got, err := NewPreparer(maxRows).Prepare("select * from " + table)
			if err != nil {
				return false
			}
			return got.TableName == table && strings.HasSuffix(got.Query, fmt.Sprintf(" LIMIT %d", maxRows))
		},
		identGen(),
		gen.IntRange(1, 1_000_000),
	))

	properties.Property("explicit LIMIT is kept unchanged", prop.ForAll(
		func(table string, maxRows, limit int) bool {
			got, err := NewPreparer(maxRows).Prepare(fmt.Sprintf("select * from %s limit %d", table, limit))
			if err != nil {
				return false
			}
			return got.Query == fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, limit) &&
				strings.Count(got.Query, "LIMIT") == 1
		},
		identGen(),
		gen.IntRange(1, 1000),
		gen.IntRange(0, 10_000_000),
	))

	properties.TestingRun(t)
}

func TestProperty_ReplaceTableName(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("queries without the scheme are unchanged", prop.ForAll(
		func(query, name string) bool {
			return ReplaceTableName(query, name) == query
		},
		gen.AnyString().SuchThat(func(s string) bool { return !strings.Contains(s, SchemePrefix) }),
		identGen(),
	))

	properties.Property("only the quoted literal span is replaced", prop.ForAll(
		func(before, path, after, name string, doubleQuoted bool) bool {
			quote := "'"
			if doubleQuoted {
				quote = `"`
			}
			query := before + quote + SchemePrefix + path + quote + after
			return ReplaceTableName(query, name) == before+name+after
		},
		gen.AlphaString(),
		gen.RegexMatch(`[a-z0-9][a-z0-9/_-]{0,40}`),
		gen.AlphaString(),
		identGen(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func identGen() gopter.Gen {
	return gen.RegexMatch(`[a-z][a-z0-9_]{0,10}`).SuchThat(func(s string) bool {
		_, reserved := keywords[strings.ToUpper(s)]
		return !reserved
	})
}
