package repositories

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	infraNeo4j "github.com/turtacn/paperd/internal/infrastructure/database/neo4j"
)

// infraResult shortens scripted-result literals in the repo tests.
type infraResult = infraNeo4j.Result

// fakeDriver satisfies infraNeo4j.DriverInterface by handing every unit of
// work a scripted transaction.  Tests inspect tx.calls afterwards.
type fakeDriver struct {
	tx      *fakeTransaction
	execErr error
	readErr error
}

func (d *fakeDriver) ExecuteRead(_ context.Context, work infraNeo4j.TransactionWork) (interface{}, error) {
	if d.readErr != nil {
		return nil, d.readErr
	}
	return work(d.tx)
}

func (d *fakeDriver) ExecuteWrite(_ context.Context, work infraNeo4j.TransactionWork) (interface{}, error) {
	if d.execErr != nil {
		return nil, d.execErr
	}
	return work(d.tx)
}

func (d *fakeDriver) HealthCheck(context.Context) error { return nil }
func (d *fakeDriver) Close() error                      { return nil }

type runCall struct {
	cypher string
	params map[string]any
}

// fakeTransaction records every Run call and pops one scripted result per
// call; when the script is exhausted it returns an empty result.
type fakeTransaction struct {
	calls   []runCall
	results []infraNeo4j.Result
	runErr  error
}

func (t *fakeTransaction) Run(_ context.Context, cypher string, params map[string]any) (infraNeo4j.Result, error) {
	t.calls = append(t.calls, runCall{cypher: cypher, params: params})
	if t.runErr != nil {
		return nil, t.runErr
	}
	if len(t.results) == 0 {
		return &fakeResult{}, nil
	}
	head := t.results[0]
	t.results = t.results[1:]
	return head, nil
}

// fakeResult yields a fixed sequence of value rows.
type fakeResult struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeResult) Next(context.Context) bool {
	if r.idx < len(r.rows) {
		r.idx++
		return true
	}
	return false
}

func (r *fakeResult) Record() *neo4j.Record {
	return &db.Record{Values: r.rows[r.idx-1]}
}

func (r *fakeResult) Err() error { return r.err }

func (r *fakeResult) Consume(context.Context) (neo4j.ResultSummary, error) { return nil, nil }
