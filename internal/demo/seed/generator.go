package seed

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/lakequery/lakequery/internal/query"
)

// Columns is the schema of every generated events table.
var Columns = []query.Column{
	{Name: "event_id", Type: query.TypeInt64},
	{Name: "user_id", Type: query.TypeString},
	{Name: "session_id", Type: query.TypeString},
	{Name: "event_type", Type: query.TypeString},
	{Name: "amount", Type: query.TypeFloat64},
	{Name: "currency", Type: query.TypeString},
	{Name: "country", Type: query.TypeString},
	{Name: "device", Type: query.TypeString},
	{Name: "is_mobile", Type: query.TypeBool},
	{Name: "occurred_at", Type: query.TypeTimestamp},
}

type Generator struct {
	rnd             *rand.Rand
	userCardinality int
	sequence        int64
	now             func() time.Time
}

func NewGenerator(seed int64, userCardinality int) *Generator {
	if userCardinality <= 0 {
		userCardinality = 1
	}
	return &Generator{
		rnd:             rand.New(rand.NewSource(seed)),
		userCardinality: userCardinality,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// NextBatch returns size rows laid out as Columns. Event ids keep counting
// across batches.
func (g *Generator) NextBatch(size int) query.Batch {
	rows := make([][]any, 0, size)
	for i := 0; i < size; i++ {
		rows = append(rows, g.nextRow())
	}
	return query.Batch{Rows: rows}
}

func (g *Generator) nextRow() []any {
	g.sequence++
	eventType := g.pickEventType()
	device := pickOne(g.rnd, []string{"desktop", "mobile", "tablet"})
	// Spread events over the last day.
	occurredAt := g.now().Add(-time.Duration(g.rnd.Int63n(int64(24 * time.Hour)))).Truncate(time.Microsecond)

	return []any{
		g.sequence,
		fmt.Sprintf("user-%04d", g.rnd.Intn(g.userCardinality)+1),
		fmt.Sprintf("sess-%08x", g.rnd.Uint32()),
		eventType,
		g.pickAmount(eventType),
		"USD",
		pickOne(g.rnd, []string{"US", "DE", "GB", "IN", "JP", "BR"}),
		device,
		device == "mobile",
		occurredAt,
	}
}

func (g *Generator) pickEventType() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 55:
		return "page_view"
	case p < 75:
		return "search"
	case p < 88:
		return "add_to_cart"
	case p < 97:
		return "checkout"
	default:
		return "purchase"
	}
}

func (g *Generator) pickAmount(eventType string) float64 {
	switch eventType {
	case "purchase":
		return round2(20 + g.rnd.Float64()*280)
	case "checkout":
		return round2(15 + g.rnd.Float64()*240)
	case "add_to_cart":
		return round2(5 + g.rnd.Float64()*120)
	default:
		return 0
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
