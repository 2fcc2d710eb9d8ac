// Package planner turns a submitted query into a dispatchable plan: the
// query is validated and capped, its table path resolved and probed, and any
// object-store literal swapped for the logical table name.
package planner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lakequery/lakequery/internal/failure"
	"github.com/lakequery/lakequery/internal/sqlprep"
	"github.com/lakequery/lakequery/internal/storage"
	"github.com/lakequery/lakequery/internal/tablepath"
)

var bareIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type Plan struct {
	SubmittedQuery string
	// Query is the prepared query with the table reference rewritten to
	// TableName.
	Query     string
	TableName string
	TablePath tablepath.TablePath
}

// SyntaxChecker parses a query in the dialect of the engine that will run
// it.
type SyntaxChecker interface {
	CheckSyntax(ctx context.Context, query string) error
}

type Planner struct {
	Preparer sqlprep.Preparer
	Prober   storage.Prober
	// Syntax, when set, checks the rewritten query before the table path is
	// probed.
	Syntax           SyntaxChecker
	DefaultTablePath string
}

func New(prober storage.Prober, maxRows int, defaultTablePath string) *Planner {
	return &Planner{
		Preparer:         sqlprep.NewPreparer(maxRows),
		Prober:           prober,
		DefaultTablePath: strings.TrimSpace(defaultTablePath),
	}
}

// Plan prepares rawQuery and resolves its table path. A quoted s3:// literal
// in the FROM clause is the table path; otherwise the reference is the
// logical table name and the path comes from tablePath or the configured
// default.
func (p *Planner) Plan(ctx context.Context, rawQuery, tablePath string) (Plan, error) {
	if p.Prober == nil {
		return Plan{}, errors.New("object store prober is required")
	}

	prepared, err := p.Preparer.Prepare(rawQuery)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{SubmittedQuery: rawQuery, Query: prepared.Query}
	if literal, ok := prepared.TableLiteral(); ok {
		path, err := tablepath.Parse(literal)
		if err != nil {
			return Plan{}, err
		}
		name, err := path.TableName()
		if err != nil {
			return Plan{}, err
		}
		plan.TablePath = path
		plan.TableName = name
		ref := sqlReference(name)
		plan.Query = sqlprep.ReplaceTableName(prepared.Query, ref)
		if plan.Query == prepared.Query {
			// Scheme written in upper case.
			plan.Query = strings.Replace(prepared.Query, prepared.TableName, ref, 1)
		}
	} else {
		name, err := logicalName(prepared.TableName)
		if err != nil {
			return Plan{}, err
		}
		path, err := p.resolvePath(tablePath)
		if err != nil {
			return Plan{}, err
		}
		plan.TablePath = path
		plan.TableName = name
	}

	if p.Syntax != nil {
		if err := p.Syntax.CheckSyntax(ctx, plan.Query); err != nil {
			return Plan{}, err
		}
	}

	exists, err := tablepath.ValidateExistence(ctx, plan.TablePath, p.Prober)
	if err != nil {
		return Plan{}, err
	}
	if !exists {
		return Plan{}, failure.Semantic(failure.CodeTablePathNotFound, fmt.Sprintf("table path %s does not exist", plan.TablePath), nil)
	}
	return plan, nil
}

func (p *Planner) resolvePath(requested string) (tablepath.TablePath, error) {
	raw := strings.TrimSpace(requested)
	if raw == "" {
		raw = p.DefaultTablePath
	}
	if raw == "" {
		return tablepath.TablePath{}, failure.Semantic(failure.CodeTablePathRequired, "query names a table but no table_path was given", nil)
	}
	return tablepath.Parse(raw)
}

// logicalName unquotes a double-quoted identifier. String literals that are
// not s3:// URIs and schema-qualified names cannot be registered as a view.
func logicalName(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "'"):
		if _, err := tablepath.Parse(ref); err != nil {
			return "", err
		}
		return "", failure.Semantic(failure.CodeInvalidTableName, fmt.Sprintf("table reference %s is not a table name", ref), nil)
	case len(ref) >= 2 && strings.HasPrefix(ref, `"`) && strings.HasSuffix(ref, `"`):
		name := strings.ReplaceAll(ref[1:len(ref)-1], `""`, `"`)
		if strings.TrimSpace(name) == "" {
			return "", failure.Semantic(failure.CodeInvalidTableName, "table name is empty", nil)
		}
		return name, nil
	case strings.Contains(ref, "."):
		return "", failure.Semantic(failure.CodeInvalidTableName, fmt.Sprintf("qualified table name %s is not supported", ref), nil)
	default:
		return ref, nil
	}
}

// sqlReference quotes name unless it is a lower-case bare identifier.
func sqlReference(name string) string {
	if bareIdentifier.MatchString(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
