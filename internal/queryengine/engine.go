// Package queryengine translates analyst questions into parameterized
// queries over the trace store. It is a state-free keyword classifier and
// template filler: every question gets an answer, never a classification
// failure.
package queryengine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// maxLimit caps any result-count limit extracted from a question.
const maxLimit = 100

// Executor runs read queries against the store.
type Executor interface {
	Query(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error)
}

// Response is the structured answer to one question.
type Response struct {
	Query         string           `json:"query"`
	SQLQuery      string           `json:"sql_query"`
	Results       []map[string]any `json:"results"`
	Explanation   string           `json:"explanation"`
	Confidence    float64          `json:"confidence"`
	ExecutionTime float64          `json:"execution_time"`
	ResultCount   int              `json:"result_count"`
}

// Engine classifies questions against a fixed template set and executes
// the filled template.
type Engine struct {
	exec      Executor
	templates []Template
	logger    *log.Logger
}

func New(exec Executor, logger *log.Logger) *Engine {
	return &Engine{exec: exec, templates: defaultTemplates(), logger: logger}
}

// analysis is the outcome of intent classification for one question.
type analysis struct {
	template   *Template
	score      int
	confidence float64
	filters    []string
	limit      int
}

var intRe = regexp.MustCompile(`\d+`)

// classify scores each template by keyword hits plus phrase bonuses. The
// strictly highest score wins; ties go to the first-registered template.
// Zero everywhere falls back to address exploration at confidence 0.5.
func (e *Engine) classify(question string) analysis {
	q := strings.ToLower(question)

	a := analysis{
		template:   &e.templates[len(e.templates)-1],
		confidence: 0.5,
	}

	best := 0
	for i := range e.templates {
		t := &e.templates[i]
		score := 0
		for _, kw := range t.Keywords {
			if strings.Contains(q, kw) {
				score++
			}
		}
		for _, ph := range t.Phrases {
			if strings.Contains(q, ph) {
				score += 2
				break
			}
		}
		if score > best {
			best = score
			a.template = t
			a.score = score
			a.confidence = 0.3 + 0.15*float64(score)
			if a.confidence > 0.9 {
				a.confidence = 0.9
			}
		}
	}

	// recognized substrings become extra predicates
	if strings.Contains(q, "enemy") {
		a.filters = append(a.filters, `a.description LIKE '%enemy%'`)
	}
	if strings.Contains(q, "player") {
		a.filters = append(a.filters, `a.description LIKE '%player%'`)
	}
	if strings.Contains(q, "overworld") {
		a.filters = append(a.filters, `a.context LIKE '%overworld%'`)
	}
	if strings.Contains(q, "battle") {
		a.filters = append(a.filters, `a.context LIKE '%battle%'`)
	}

	a.limit = a.template.DefaultLimit
	if m := intRe.FindString(question); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			if n > maxLimit {
				n = maxLimit
			}
			if n > 0 {
				a.limit = n
			}
		}
	}
	return a
}

// Answer processes one natural-language question. Query-execution failures
// are converted into a zero-result response with the error text as the
// explanation; Answer never returns an error to the caller.
func (e *Engine) Answer(ctx context.Context, question string) *Response {
	a := e.classify(question)
	sqlText := a.template.Render(a.filters, a.limit)

	e.logger.Info("answering question",
		"intent", a.template.Name, "score", a.score, "confidence", a.confidence)

	start := time.Now()
	results, err := e.exec.Query(ctx, sqlText)
	elapsed := time.Since(start).Seconds()

	resp := &Response{
		Query:         question,
		SQLQuery:      sqlText,
		Results:       results,
		Confidence:    a.confidence,
		ExecutionTime: elapsed,
		ResultCount:   len(results),
	}

	if err != nil {
		resp.Results = nil
		resp.ResultCount = 0
		resp.Confidence = 0.0
		resp.Explanation = fmt.Sprintf("Query failed: %v", err)
		e.logger.Error("query execution failed", "err", err)
		return resp
	}

	resp.Explanation = e.explain(question, a, resp)
	return resp
}

func (e *Engine) explain(question string, a analysis, resp *Response) string {
	if resp.ResultCount == 0 {
		return fmt.Sprintf("No results found for %q. Try different keywords or rephrasing your question.", question)
	}

	explanation := fmt.Sprintf("Found %d results for your query.", resp.ResultCount)
	if a.template.Explanation != "" {
		explanation = fmt.Sprintf(a.template.Explanation, resp.ResultCount, a.confidence*100)
	}
	if resp.ExecutionTime > 1.0 {
		explanation += fmt.Sprintf(" (Query executed in %.2fs)", resp.ExecutionTime)
	}
	return explanation
}
