package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "sessions")
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("failed to create Store: %v", err)
	}
	return store, dir
}

// ========== Ids ==========

func TestSanitizeID(t *testing.T) {
	cases := map[string]string{
		"abc-DEF_123":   "abc-DEF_123",
		"../etc/passwd": "etcpasswd",
		"a b.c":         "abc",
		"!!!":           "default",
		"":              "default",
		"héllo":         "hllo",
	}
	for in, want := range cases {
		if got := SanitizeID(in); got != want {
			t.Errorf("SanitizeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGet_EmptyIDRejected(t *testing.T) {
	store, _ := tempStore(t)
	if _, err := store.Get(""); !errors.Is(err, ErrSessionIDRequired) {
		t.Fatalf("err = %v, want ErrSessionIDRequired", err)
	}
	if _, err := store.Update("", func(*State) error { return nil }); !errors.Is(err, ErrSessionIDRequired) {
		t.Fatalf("Update err = %v, want ErrSessionIDRequired", err)
	}
}

// ========== Defaults and persistence ==========

func TestGet_DefaultsAndPersisted(t *testing.T) {
	store, dir := tempStore(t)
	st, err := store.Get("s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !st.UseSearch || st.UseURLFetch || !st.AutoFetchTopResult {
		t.Errorf("flags = %v/%v/%v, want true/false/true", st.UseSearch, st.UseURLFetch, st.AutoFetchTopResult)
	}
	if len(st.History) != 0 {
		t.Errorf("history len = %d, want 0", len(st.History))
	}
	if _, err := os.Stat(filepath.Join(dir, "s1.json")); err != nil {
		t.Errorf("expected session file on first access: %v", err)
	}
}

func TestLoad_FillsMissingKeys(t *testing.T) {
	store, dir := tempStore(t)
	body := `{"history": [["user","hi"],["assistant","hello"]], "use_search": false}`
	if err := os.WriteFile(filepath.Join(dir, "old.json"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	st, err := store.Get("old")
	if err != nil {
		t.Fatal(err)
	}
	if st.UseSearch {
		t.Error("use_search from file should be kept")
	}
	if !st.AutoFetchTopResult {
		t.Error("missing auto_fetch_top_result should default to true")
	}
	if len(st.History) != 2 || st.History[1].Role != RoleAssistant || st.History[1].Text != "hello" {
		t.Errorf("history = %+v", st.History)
	}
	if st.Jobs == nil || st.PendingRequests == nil {
		t.Error("collections should be initialized")
	}
}

func TestCorruptFile_StartsFresh(t *testing.T) {
	store, dir := tempStore(t)
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}
	st, err := store.Get("bad")
	if err != nil {
		t.Fatal(err)
	}
	if len(st.History) != 0 || !st.UseSearch {
		t.Errorf("expected defaults for corrupt file, got %+v", st)
	}
}

func TestUpdate_RoundTripThroughDisk(t *testing.T) {
	store, dir := tempStore(t)
	_, err := store.Update("s2", func(st *State) error {
		st.AppendTurn(RoleUser, "what's new")
		st.AppendFile("a.txt", "  alpha  ")
		st.UserLocation = &Location{Lat: 1.5, Lon: -2.25}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// A second store over the same dir sees the persisted data.
	other, err := NewStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	st, err := other.Get("s2")
	if err != nil {
		t.Fatal(err)
	}
	if len(st.History) != 1 || st.History[0].Text != "what's new" {
		t.Errorf("history = %+v", st.History)
	}
	if st.FileContext != "FILE a.txt:\nalpha\n\n" {
		t.Errorf("file_context = %q", st.FileContext)
	}
	if st.UserLocation == nil || st.UserLocation.Lon != -2.25 {
		t.Errorf("user_location = %+v", st.UserLocation)
	}

	raw, _ := os.ReadFile(filepath.Join(dir, "s2.json"))
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("session file is not JSON: %v", err)
	}
	for _, k := range []string{"history", "use_search", "file_context", "jobs", "pending_requests", "dbg_log"} {
		if _, ok := m[k]; !ok {
			t.Errorf("session file missing key %q", k)
		}
	}
}

func TestUpdate_ErrorSkipsPersist(t *testing.T) {
	store, _ := tempStore(t)
	boom := errors.New("boom")
	if _, err := store.Update("s3", func(st *State) error {
		st.AppendTurn(RoleUser, "x")
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	st, _ := store.Get("s3")
	if len(st.History) != 0 {
		t.Errorf("failed update should leave memory untouched, history = %+v", st.History)
	}
	other, _ := NewStore(filepath.Dir(store.Path("s3")), nil)
	st, _ = other.Get("s3")
	if len(st.History) != 0 {
		t.Errorf("failed update should not reach disk, history = %+v", st.History)
	}

	// A later successful update must not carry the discarded change.
	if _, err := store.Update("s3", func(st *State) error {
		st.AppendTurn(RoleUser, "y")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	st, _ = store.Get("s3")
	if len(st.History) != 1 || st.History[0].Text != "y" {
		t.Errorf("history = %+v, want only 'y'", st.History)
	}
}

func TestSave_RoundTripsThroughFreshStore(t *testing.T) {
	store, dir := tempStore(t)
	st, err := store.Get("rt")
	if err != nil {
		t.Fatal(err)
	}
	st.AppendTurn(RoleUser, "hello")
	st.AppendTurn(RoleAssistant, "hi there")
	st.AppendFile("notes.md", "some notes")
	st.UseSearch = false
	st.UserLocation = &Location{Lat: 10.5, Lon: 20.25}
	st.Jobs["j1"] = &Job{Prompt: "hello", Status: JobDone, Answer: "hi there"}
	if err := store.Save("rt", st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	fresh, err := NewStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := fresh.Get("rt")
	if err != nil {
		t.Fatal(err)
	}
	want, _ := json.Marshal(st)
	have, _ := json.Marshal(got)
	if string(have) != string(want) {
		t.Errorf("reloaded state differs\n got: %s\nwant: %s", have, want)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	store, _ := tempStore(t)
	st, _ := store.Get("copy")
	st.AppendTurn(RoleUser, "local only")
	st.Jobs["j"] = &Job{Prompt: "p"}

	again, _ := store.Get("copy")
	if len(again.History) != 0 || len(again.Jobs) != 0 {
		t.Errorf("mutating a returned state leaked into the store: %+v", again)
	}
}

func TestNoTmpFilesLeft(t *testing.T) {
	store, dir := tempStore(t)
	for i := 0; i < 5; i++ {
		if err := store.Save("atomic", NewState()); err != nil {
			t.Fatal(err)
		}
	}
	files, _ := os.ReadDir(dir)
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".tmp") {
			t.Errorf("leftover temp file %s", f.Name())
		}
	}
}

// ========== Concurrency ==========

func TestUpdate_ConcurrentAppendsNotLost(t *testing.T) {
	store, _ := tempStore(t)
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.Update("busy", func(st *State) error {
				st.AppendTurn(RoleUser, fmt.Sprintf("msg %d", i))
				return nil
			})
		}(i)
	}
	wg.Wait()
	st, _ := store.Get("busy")
	if len(st.History) != n {
		t.Errorf("history len = %d, want %d", len(st.History), n)
	}
}

// ========== List / Create / Delete ==========

func TestList_UnionOfDiskAndMemory(t *testing.T) {
	store, dir := tempStore(t)
	_ = os.WriteFile(filepath.Join(dir, "zeta.json"), []byte("{}"), 0644)
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	if _, err := store.Get("alpha"); err != nil {
		t.Fatal(err)
	}
	got := store.List()
	want := []string{"alpha", "zeta"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestCreate(t *testing.T) {
	store, dir := tempStore(t)
	id, err := store.Create("")
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 32 || strings.Contains(id, "-") {
		t.Errorf("generated id = %q, want 32 hex chars", id)
	}
	if _, err := os.Stat(filepath.Join(dir, id+".json")); err != nil {
		t.Errorf("created session not persisted: %v", err)
	}

	named, _ := store.Create("my session!")
	if named != "mysession" {
		t.Errorf("Create sanitized id = %q, want 'mysession'", named)
	}
}

type fakeArchiver struct{ paths []string }

func (f *fakeArchiver) Archive(path, id string) (string, error) {
	f.paths = append(f.paths, path)
	target := path + ".archived"
	return target, os.Rename(path, target)
}

func TestDelete(t *testing.T) {
	store, dir := tempStore(t)
	_, _ = store.Get("gone")
	var hooked []string
	store.OnDelete(func(id string) { hooked = append(hooked, id) })

	id, err := store.Delete("gone")
	if err != nil || id != "gone" {
		t.Fatalf("Delete = %q, %v", id, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gone.json")); !os.IsNotExist(err) {
		t.Error("session file should be removed")
	}
	for _, s := range store.List() {
		if s == "gone" {
			t.Error("deleted session still listed")
		}
	}
	if len(hooked) != 1 || hooked[0] != "gone" {
		t.Errorf("delete hooks = %v", hooked)
	}
}

func TestUpdateExisting(t *testing.T) {
	store, dir := tempStore(t)
	if _, err := store.UpdateExisting("nobody", func(*State) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing session err = %v, want ErrSessionNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "nobody.json")); !os.IsNotExist(err) {
		t.Error("UpdateExisting must not create a session file")
	}
	for _, s := range store.List() {
		if s == "nobody" {
			t.Error("UpdateExisting must not register a session")
		}
	}

	// A session on disk but not yet in memory counts as existing.
	if err := os.WriteFile(filepath.Join(dir, "ondisk.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	st, err := store.UpdateExisting("ondisk", func(st *State) error {
		st.AppendTurn(RoleUser, "x")
		return nil
	})
	if err != nil || len(st.History) != 1 {
		t.Fatalf("UpdateExisting on disk session = %+v, %v", st.History, err)
	}
}

func TestUpdateExisting_AfterDelete(t *testing.T) {
	store, dir := tempStore(t)
	if _, err := store.Update("s1", func(st *State) error {
		st.AppendTurn(RoleUser, "q")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Delete("s1"); err != nil {
		t.Fatal(err)
	}

	_, err := store.UpdateExisting("s1", func(st *State) error {
		st.AppendTurn(RoleAssistant, "late answer")
		return nil
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "s1.json")); !os.IsNotExist(err) {
		t.Error("deleted session file was written again")
	}
	if got := store.List(); len(got) != 0 {
		t.Errorf("List() = %v, want empty", got)
	}

	// A plain Update still starts the session over.
	st, err := store.Update("s1", func(st *State) error {
		st.AppendTurn(RoleUser, "new start")
		return nil
	})
	if err != nil || len(st.History) != 1 || st.History[0].Text != "new start" {
		t.Errorf("Update after delete = %+v, %v", st.History, err)
	}
}

func TestDelete_UnknownIsNoError(t *testing.T) {
	store, _ := tempStore(t)
	if _, err := store.Delete("never-existed"); err != nil {
		t.Errorf("Delete unknown: %v", err)
	}
}

func TestDelete_UsesArchiver(t *testing.T) {
	store, dir := tempStore(t)
	arch := &fakeArchiver{}
	store.SetArchiver(arch)
	_, _ = store.Get("keep")
	if _, err := store.Delete("keep"); err != nil {
		t.Fatal(err)
	}
	if len(arch.paths) != 1 {
		t.Fatalf("archiver calls = %d, want 1", len(arch.paths))
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.json.archived")); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
}
