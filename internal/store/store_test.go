package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestResumptionFile_SaveOverwrites(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), DefaultResumptionFile)
	r := NewResumptionFile(path)

	for _, h := range []string{"handle-1", "h2"} {
		if err := r.Save(h); err != nil {
			t.Fatalf("Save(%q): %v", h, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "h2" {
		t.Errorf("file content = %q, want %q", data, "h2")
	}
	if r.Last() != "h2" {
		t.Errorf("Last = %q, want h2", r.Last())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the handle file", len(entries))
	}
}

func TestResumptionFile_LoadMissing(t *testing.T) {
	t.Parallel()
	r := NewResumptionFile(filepath.Join(t.TempDir(), "missing.txt"))
	h, err := r.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h != "" {
		t.Errorf("Load = %q, want empty", h)
	}
}

func TestResumptionFile_LoadTrims(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "handle.txt")
	if err := os.WriteFile(path, []byte("abc\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := NewResumptionFile(path).Load()
	if err != nil || h != "abc" {
		t.Errorf("Load = %q, %v; want abc", h, err)
	}
}

func TestResumptionFile_SaveBadDir(t *testing.T) {
	t.Parallel()
	r := NewResumptionFile(filepath.Join(t.TempDir(), "no", "such", "dir", "h.txt"))
	if err := r.Save("x"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestResumptionFile_ConcurrentSaves(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "h.txt")
	r := NewResumptionFile(path)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Save(string(rune('a' + i)))
		}()
	}
	wg.Wait()

	data, _ := os.ReadFile(path)
	if string(data) != r.Last() {
		t.Errorf("file = %q, Last = %q", data, r.Last())
	}
}

func TestAuditLog_Append(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), DefaultAuditLogFile)
	a := NewAuditLog(path)
	t.Cleanup(func() { _ = a.Close() })

	for _, rec := range []string{`{"setupComplete":{}}`, "", `{"serverContent":{"turnComplete":true}}`} {
		if err := a.Append([]byte(rec)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "{\"setupComplete\":{}}\n\n{\"serverContent\":{\"turnComplete\":true}}\n\n"
	if string(data) != want {
		t.Errorf("audit log = %q, want %q", data, want)
	}
}

func TestAuditLog_AppendsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.json")
	a := NewAuditLog(path)

	_ = a.Append([]byte("1"))
	_ = a.Close()
	_ = a.Append([]byte("2"))
	_ = a.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "1\n\n2\n\n" {
		t.Errorf("audit log = %q", data)
	}
}

func TestAuditLog_CloseUnopened(t *testing.T) {
	t.Parallel()
	if err := NewAuditLog(filepath.Join(t.TempDir(), "x")).Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}
