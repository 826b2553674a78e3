package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/synclone/internal/replay"
)

// TraceSnapshot captures the replay trace of a scenario execution.
// Fields that depend on temporary paths or driver messages are left out.
type TraceSnapshot struct {
	ScenarioName string         `json:"scenario_name"`
	Session      string         `json:"session"`
	Trace        []TraceEvent   `json:"trace"`
	IDMap        []replay.Entry `json:"id_map"`
	Pending      []int64        `json:"pending"`
	Aborted      bool           `json:"aborted"`
}

// Snapshot builds the snapshot of result for the named scenario.
func Snapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: name,
		Session:      result.Report.Session,
		Trace:        result.Trace,
		IDMap:        append([]replay.Entry{}, result.Report.IDMap...),
		Pending:      append([]int64{}, result.Report.Pending...),
		Aborted:      result.Report.Aborted,
	}
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
func (s TraceSnapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
