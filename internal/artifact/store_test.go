package artifact

import (
	"strings"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	model := []byte(`{"base_prediction": 42}`)
	metrics := []byte(`{"metrics": {"test_mae": 1.5}}`)

	ref, err := store.Put("demand_forecast", "20260815_040000", model, metrics)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(ref, "file://") {
		t.Fatalf("ref = %q, want file:// scheme", ref)
	}

	got, err := store.Get(ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(model) {
		t.Errorf("Get = %q, want %q", got, model)
	}

	gotMetrics, err := store.GetMetrics(ref)
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if string(gotMetrics) != string(metrics) {
		t.Errorf("GetMetrics = %q, want %q", gotMetrics, metrics)
	}
}

func TestPutOverwritesVersion(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, err := store.Put("m", "v1", []byte("old"), []byte("{}")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ref, err := store.Put("m", "v1", []byte("new"), []byte("{}"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("Get = %q, want new bytes after rewrite", got)
	}
}

func TestGetRejectsBadRefs(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	tests := []struct {
		name string
		ref  string
	}{
		{"wrong scheme", "s3://bucket/model.json"},
		{"outside root", "file:///etc/passwd"},
		{"traversal", "file://" + store.root + "/models/../../secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Get(tt.ref); err == nil {
				t.Error("bad ref accepted")
			}
		})
	}
}
