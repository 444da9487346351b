package bus

import (
	"path/filepath"
	"testing"
)

func TestDeadLetterLog_RecordAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead-letter.jsonl")

	dl, err := NewDeadLetterLog(path, true)
	if err != nil {
		t.Fatalf("NewDeadLetterLog() error = %v", err)
	}
	defer dl.Close()

	if err := dl.Record("connection.test.requested", ReasonParseFailure, []byte("{not json")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := dl.Record("report.data.requested", ReasonDispatchMiss, []byte(`{"id":"evt_1"}`)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := dl.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ReadAll() returned %d entries, want 2", len(entries))
	}

	if entries[0].Reason != ReasonParseFailure {
		t.Errorf("entries[0].Reason = %q, want %q", entries[0].Reason, ReasonParseFailure)
	}
	if string(entries[0].Body) != "{not json" {
		t.Errorf("entries[0].Body = %q, original body not preserved", entries[0].Body)
	}
	if entries[1].RoutingKey != "report.data.requested" {
		t.Errorf("entries[1].RoutingKey = %q", entries[1].RoutingKey)
	}
}

func TestDeadLetterLog_Disabled(t *testing.T) {
	dl, err := NewDeadLetterLog("", false)
	if err != nil {
		t.Fatalf("NewDeadLetterLog() error = %v", err)
	}

	if err := dl.Record("connection.test.requested", ReasonParseFailure, nil); err != nil {
		t.Errorf("Record() on disabled log error = %v", err)
	}
}

func TestDeadLetterLog_RecordAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead-letter.jsonl")

	dl, err := NewDeadLetterLog(path, true)
	if err != nil {
		t.Fatal(err)
	}
	dl.Close()

	if err := dl.Record("connection.test.requested", ReasonParseFailure, nil); err == nil {
		t.Error("Record() after Close() error = nil, want error")
	}
}
