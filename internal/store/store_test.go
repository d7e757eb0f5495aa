package store

import (
	"context"
	"sort"
	"testing"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemStore(),
		"sqlite": sqlite,
	}
}

func TestStoreGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, found, err := s.Get(ctx, NSWorkflow, "missing"); err != nil || found {
				t.Fatalf("expected miss, got found=%v err=%v", found, err)
			}
			if err := s.Set(ctx, NSWorkflow, "wf1", []byte("v1")); err != nil {
				t.Fatalf("set: %v", err)
			}
			v, found, err := s.Get(ctx, NSWorkflow, "wf1")
			if err != nil || !found || string(v) != "v1" {
				t.Fatalf("get after set: v=%q found=%v err=%v", v, found, err)
			}
			if err := s.Set(ctx, NSWorkflow, "wf1", []byte("v2")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			v, _, _ = s.Get(ctx, NSWorkflow, "wf1")
			if string(v) != "v2" {
				t.Fatalf("expected last-writer-wins, got %q", v)
			}
			if err := s.Delete(ctx, NSWorkflow, "wf1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, found, _ := s.Get(ctx, NSWorkflow, "wf1"); found {
				t.Fatal("expected miss after delete")
			}
			if err := s.Delete(ctx, NSWorkflow, "wf1"); err != nil {
				t.Fatalf("delete of missing key should not error: %v", err)
			}
		})
	}
}

func TestStoreNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, NSWorkflow, "k", []byte("workflow-value")); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := s.Set(ctx, NSRequest, "k", []byte("request-value")); err != nil {
				t.Fatalf("set: %v", err)
			}
			v, _, _ := s.Get(ctx, NSWorkflow, "k")
			if string(v) != "workflow-value" {
				t.Fatalf("namespace leaked: got %q", v)
			}
			v, _, _ = s.Get(ctx, NSRequest, "k")
			if string(v) != "request-value" {
				t.Fatalf("namespace leaked: got %q", v)
			}
		})
	}
}

func TestStoreGetGroupAndKeys(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"alpha", "alpha-2", "beta"} {
				if err := s.Set(ctx, NSSystemData, k, []byte(k)); err != nil {
					t.Fatalf("set %s: %v", k, err)
				}
			}
			group, err := s.GetGroup(ctx, NSSystemData)
			if err != nil || len(group) != 3 {
				t.Fatalf("get group: len=%d err=%v", len(group), err)
			}
			keys, err := s.Keys(ctx, NSSystemData, "alpha")
			if err != nil {
				t.Fatalf("keys: %v", err)
			}
			sort.Strings(keys)
			if len(keys) != 2 || keys[0] != "alpha" || keys[1] != "alpha-2" {
				t.Fatalf("unexpected prefix match: %v", keys)
			}
		})
	}
}

func TestStoreCheckAndSet(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.CheckAndSet(ctx, NSUserLock, "user:u1", false, nil, []byte("wf-1"))
			if err != nil || !ok {
				t.Fatalf("expected initial CAS to succeed: ok=%v err=%v", ok, err)
			}
			ok, err = s.CheckAndSet(ctx, NSUserLock, "user:u1", false, nil, []byte("wf-2"))
			if err != nil || ok {
				t.Fatalf("expected second CAS against an existing lock to fail: ok=%v err=%v", ok, err)
			}
			v, _, _ := s.Get(ctx, NSUserLock, "user:u1")
			if string(v) != "wf-1" {
				t.Fatalf("lock value should remain wf-1, got %q", v)
			}
			ok, err = s.CheckAndSet(ctx, NSUserLock, "user:u1", true, []byte("wf-1"), []byte("wf-3"))
			if err != nil || !ok {
				t.Fatalf("expected matching CAS to succeed: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestCheckpointNamespace(t *testing.T) {
	if got := CheckpointNamespace("wf-123"); got != "gdpr-checkpoint-wf-123" {
		t.Fatalf("unexpected checkpoint namespace: %q", got)
	}
}
