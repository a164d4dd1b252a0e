package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"despair/pkg/dynarec"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func record(image string, started time.Time) *Record {
	return &Record{
		Image:   image,
		Mode:    "jit",
		Started: started,
		Elapsed: 1500 * time.Millisecond,
		Cores: []dynarec.Stats{
			{Core: 0, Compiled: 3, Executed: 12, Hits: 9, ServiceExits: 2, Controls: 11, Blocks: 3, CodeBytes: 180},
		},
	}
}

func TestPutGet(t *testing.T) {
	j := openTemp(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	r := record("imgA", started)
	r.Error = "core 0: stack bounds"

	id, err := j.Put(r)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id == uuid.Nil || r.ID != id {
		t.Fatalf("Put assigned id %s, record has %s", id, r.ID)
	}

	got, err := j.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestGetUnknown(t *testing.T) {
	j := openTemp(t)
	if _, err := j.Get(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestListByImage(t *testing.T) {
	j := openTemp(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Inserted out of order; listing is by start time.
	for _, r := range []*Record{
		record("imgB", base.Add(2*time.Second)),
		record("imgA", base.Add(time.Second)),
		record("imgB", base),
	} {
		if _, err := j.Put(r); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	b, err := j.List("imgB")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(b) != 2 || !b[0].Started.Equal(base) || !b[1].Started.Equal(base.Add(2*time.Second)) {
		t.Errorf("List(imgB) = %+v", b)
	}

	all, err := j.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var images []string
	for _, r := range all {
		images = append(images, r.Image)
	}
	if diff := cmp.Diff([]string{"imgA", "imgB", "imgB"}, images); diff != "" {
		t.Errorf("List(\"\") images mismatch (-want +got):\n%s", diff)
	}
}

func TestDelete(t *testing.T) {
	j := openTemp(t)
	id, err := j.Put(record("imgA", time.Now()))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := j.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := j.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v", err)
	}
	runs, err := j.List("imgA")
	if err != nil || len(runs) != 0 {
		t.Errorf("List after Delete = %v, %v", runs, err)
	}
	if err := j.Delete(id); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := j.Put(record("imgA", time.Now()))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	if _, err := j.Get(id); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}
