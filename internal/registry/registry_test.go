package registry

import (
	"sync"
	"testing"
	"time"

	"reconstructd/pkg/types"
)

func register(t *testing.T, r *Registry, id string) types.SessionSnapshot {
	t.Helper()
	snap, err := r.Register(types.SessionSnapshot{
		SessionID: id,
		Status:    types.StatusUploaded,
		StartedAt: time.Now(),
	}, []string{"/in/a.jpg", "/in/b.jpg"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return snap
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	register(t, r, "s1")
	snap, err := r.Get("s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Status != types.StatusUploaded {
		t.Fatalf("status %s", snap.Status)
	}
	if _, err := r.Register(types.SessionSnapshot{SessionID: "s1"}, nil); !IsAlreadyExists(err) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if _, err := r.Get("missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()
	register(t, r, "s1")
	_, err := r.Update("s1", func(s *types.SessionSnapshot) {
		s.Status = types.StatusComplete
		s.Manifest = &types.OutputManifest{SessionID: "s1", Artifacts: []types.Artifact{{Kind: "mesh"}}}
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	snap, _ := r.Get("s1")
	snap.Manifest.Artifacts[0].Kind = "mutated"
	snap.Status = types.StatusError
	again, _ := r.Get("s1")
	if again.Manifest.Artifacts[0].Kind != "mesh" || again.Status != types.StatusComplete {
		t.Fatalf("store mutated via snapshot: %+v", again)
	}
}

func TestInputsReturnsCopy(t *testing.T) {
	r := New()
	register(t, r, "s1")
	in, err := r.Inputs("s1")
	if err != nil || len(in) != 2 {
		t.Fatalf("inputs: %v %v", in, err)
	}
	in[0] = "mutated"
	again, _ := r.Inputs("s1")
	if again[0] != "/in/a.jpg" {
		t.Fatalf("inputs mutated via returned slice")
	}
}

func TestUpdateIsAtomicUnderConcurrency(t *testing.T) {
	r := New()
	register(t, r, "s1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Update("s1", func(s *types.SessionSnapshot) {
				s.ProgressPercent++
			})
		}()
	}
	wg.Wait()
	snap, _ := r.Get("s1")
	if snap.ProgressPercent != 50 {
		t.Fatalf("lost updates: %v", snap.ProgressPercent)
	}
}

func TestBeginRunSingleWriter(t *testing.T) {
	r := New()
	register(t, r, "s1")
	if err := r.BeginRun("s1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.BeginRun("s1"); !IsConcurrentModification(err) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	r.EndRun("s1")
	if err := r.BeginRun("s1"); err != nil {
		t.Fatalf("begin after end: %v", err)
	}
	if err := r.BeginRun("missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	r := New()
	register(t, r, "s1")
	if err := r.Remove("s1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := r.Remove("s1"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(r.Snapshots()) != 0 {
		t.Fatalf("snapshots not empty after remove")
	}
}
