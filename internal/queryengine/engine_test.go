package queryengine

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

type fakeExecutor struct {
	rows []map[string]any
	err  error
	sql  string
}

func (f *fakeExecutor) Query(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error) {
	f.sql = sqlText
	return f.rows, f.err
}

func newTestEngine(exec Executor) *Engine {
	return New(exec, log.New(io.Discard))
}

func TestClassifyBattleQuestion(t *testing.T) {
	e := newTestEngine(&fakeExecutor{})

	a := e.classify("Which addresses are likely used in the battle context?")
	if a.template.Name != "battle_addresses" {
		t.Errorf("template = %q, want battle_addresses", a.template.Name)
	}
	if a.confidence <= 0.6 {
		t.Errorf("confidence = %f, want > 0.6", a.confidence)
	}
	// "battle" in the question also becomes a context predicate
	found := false
	for _, f := range a.filters {
		if strings.Contains(f, "a.context LIKE '%battle%'") {
			found = true
		}
	}
	if !found {
		t.Errorf("filters = %v, missing battle context predicate", a.filters)
	}
}

func TestClassifyHealthQuestion(t *testing.T) {
	e := newTestEngine(&fakeExecutor{})
	a := e.classify("show me enemy health addresses with damage")
	if a.template.Name != "health_addresses" {
		t.Errorf("template = %q, want health_addresses", a.template.Name)
	}
}

func TestClassifyFallback(t *testing.T) {
	e := newTestEngine(&fakeExecutor{})
	a := e.classify("tell me something interesting")
	if a.template.Name != "address_exploration" {
		t.Errorf("template = %q, want address_exploration fallback", a.template.Name)
	}
	if a.confidence != 0.5 {
		t.Errorf("fallback confidence = %f, want 0.5", a.confidence)
	}
}

func TestClassifyConfidenceCap(t *testing.T) {
	e := newTestEngine(&fakeExecutor{})
	a := e.classify("battle combat fight attack enemy during battle")
	if a.confidence != 0.9 {
		t.Errorf("confidence = %f, want capped at 0.9", a.confidence)
	}
}

func TestClassifyLimitExtraction(t *testing.T) {
	e := newTestEngine(&fakeExecutor{})

	a := e.classify("show me the top 10 battle addresses")
	if a.limit != 10 {
		t.Errorf("limit = %d, want 10", a.limit)
	}

	a = e.classify("show me 5000 battle addresses")
	if a.limit != 100 {
		t.Errorf("limit = %d, want capped at 100", a.limit)
	}

	a = e.classify("battle addresses")
	if a.limit != 25 {
		t.Errorf("limit = %d, want template default 25", a.limit)
	}
}

func TestAnswerRunsRenderedQuery(t *testing.T) {
	exec := &fakeExecutor{rows: []map[string]any{
		{"address": "0000C502", "change_count": int64(12)},
	}}
	e := newTestEngine(exec)

	resp := e.Answer(context.Background(), "what addresses change during battle?")
	if resp.ResultCount != 1 {
		t.Errorf("result count = %d, want 1", resp.ResultCount)
	}
	if resp.SQLQuery != exec.sql {
		t.Error("response SQL differs from executed SQL")
	}
	if !strings.Contains(exec.sql, "LIMIT 25") {
		t.Errorf("sql missing default limit: %s", exec.sql)
	}
	if !strings.Contains(exec.sql, "GROUP BY mc.address") {
		t.Errorf("sql missing grouping: %s", exec.sql)
	}
	// extra predicates land inside the WHERE clause, before GROUP BY
	whereIdx := strings.Index(exec.sql, "WHERE")
	groupIdx := strings.Index(exec.sql, "GROUP BY")
	predIdx := strings.Index(exec.sql, "a.context LIKE '%battle%'")
	if predIdx < whereIdx || predIdx > groupIdx {
		t.Errorf("battle predicate outside WHERE clause: %s", exec.sql)
	}
	if !strings.Contains(resp.Explanation, "1 memory addresses") {
		t.Errorf("explanation = %q", resp.Explanation)
	}
}

func TestAnswerQueryFailure(t *testing.T) {
	e := newTestEngine(&fakeExecutor{err: errors.New("no such table: memory_changes")})

	resp := e.Answer(context.Background(), "battle addresses")
	if resp.Confidence != 0.0 {
		t.Errorf("confidence = %f, want 0.0 on failure", resp.Confidence)
	}
	if resp.ResultCount != 0 || resp.Results != nil {
		t.Errorf("results = %v", resp.Results)
	}
	if !strings.Contains(resp.Explanation, "Query failed") {
		t.Errorf("explanation = %q", resp.Explanation)
	}
}

func TestAnswerNoResults(t *testing.T) {
	e := newTestEngine(&fakeExecutor{})

	resp := e.Answer(context.Background(), "battle addresses")
	if resp.ResultCount != 0 {
		t.Errorf("result count = %d", resp.ResultCount)
	}
	if !strings.Contains(resp.Explanation, "No results found") {
		t.Errorf("explanation = %q", resp.Explanation)
	}
}

func TestRenderClauseOrder(t *testing.T) {
	tmpl := Template{
		SelectBody:     "SELECT x\nFROM t",
		BasePredicates: []string{"x > 0"},
		GroupBy:        "x",
		Having:         "n >= %d",
		OrderBy:        "n DESC",
		MinCount:       2,
	}
	got := tmpl.Render([]string{"y = 1"}, 7)

	want := "SELECT x\nFROM t\nWHERE x > 0\n  AND y = 1\nGROUP BY x\nHAVING n >= 2\nORDER BY n DESC\nLIMIT 7"
	if got != want {
		t.Errorf("rendered:\n%s\nwant:\n%s", got, want)
	}
}
