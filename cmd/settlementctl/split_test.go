package main

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSplitPreviewKeepsRemainderOnFirstMilestone(t *testing.T) {
	cmd := splitCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--total", "100000", "--count", "3", "--fee-pct", "10"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var lines []splitLine
	if err := json.Unmarshal(out.Bytes(), &lines); err != nil {
		t.Fatalf("decode output: %v body=%s", err, out.String())
	}
	want := []splitLine{
		{MilestoneNumber: 1, AmountInPence: 33334, FeeInPence: 3333, NetInPence: 30001},
		{MilestoneNumber: 2, AmountInPence: 33333, FeeInPence: 3333, NetInPence: 30000},
		{MilestoneNumber: 3, AmountInPence: 33333, FeeInPence: 3333, NetInPence: 30000},
	}
	if len(lines) != len(want) {
		t.Fatalf("unexpected line count: got=%d want=%d", len(lines), len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: got=%+v want=%+v", i, lines[i], want[i])
		}
	}
}
