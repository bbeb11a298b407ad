package loader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/taskloader/internal/apperr"
	"github.com/starford/taskloader/internal/models"
	"github.com/starford/taskloader/internal/schema"
	"github.com/starford/taskloader/internal/source"
	"github.com/starford/taskloader/internal/store"
)

type fakeSource struct {
	entries []source.Entry
	files   map[string]string
	listErr error
	fetch   func(ctx context.Context, e source.Entry) ([]byte, error)
}

func newFakeSource(files map[string]string) *fakeSource {
	fs := &fakeSource{files: files}
	for name := range files {
		fs.entries = append(fs.entries, source.Entry{Name: name, Path: name, Type: source.EntryFile})
	}
	return fs
}

func (f *fakeSource) List(context.Context) ([]source.Entry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.entries, nil
}

func (f *fakeSource) Fetch(ctx context.Context, e source.Entry) ([]byte, error) {
	if f.fetch != nil {
		return f.fetch(ctx, e)
	}
	content, ok := f.files[e.Name]
	if !ok {
		return nil, errors.New("missing file " + e.Name)
	}
	return []byte(content), nil
}

func (f *fakeSource) String() string { return "fake" }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLoader(t *testing.T, src source.Source, st store.Store, opts ...Option) *Loader {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	l, err := New(src, st, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func seed(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	var tasks []models.Task
	for _, id := range ids {
		tasks = append(tasks, models.Task{ID: id, Title: id, Frontmatter: map[string]any{}, Content: "old"})
	}
	if err := store.Replace(context.Background(), st, tasks); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestLoad_OneRecordPerFile(t *testing.T) {
	src := newFakeSource(map[string]string{
		"a.md": "---\nstatus: open\n---\nfirst",
		"b.md": "second",
		"c.md": "---\n---\nthird",
	})
	st := store.NewMemory()
	l := newLoader(t, src, st)

	res, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Count != 3 {
		t.Errorf("Count = %d, want 3", res.Count)
	}
	if res.LoadID == "" || res.Digest == "" {
		t.Errorf("result missing id or digest: %+v", res)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := st.Get(context.Background(), id); err != nil {
			t.Errorf("Get(%s): %v", id, err)
		}
	}
}

func TestLoad_RecordFields(t *testing.T) {
	src := newFakeSource(map[string]string{"example.md": "---\nkey: value\n---\nBody text"})
	st := store.NewMemory()
	if _, err := newLoader(t, src, st).Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, err := st.Get(context.Background(), "example")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := models.Task{
		ID:          "example",
		Title:       "example",
		Frontmatter: map[string]any{"key": "value"},
		Content:     "Body text",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("task = %#v, want %#v", got, want)
	}
}

func TestLoad_NonStringFrontmatterKeys(t *testing.T) {
	src := newFakeSource(map[string]string{"x.md": "---\n1: one\ndue: 2024-10-01\n---\nBody"})
	st := store.NewMemory()
	if _, err := newLoader(t, src, st).Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := st.Get(context.Background(), "x")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := map[string]any{"1": "one", "due": "2024-10-01"}
	if !reflect.DeepEqual(got.Frontmatter, want) {
		t.Errorf("frontmatter = %#v, want %#v", got.Frontmatter, want)
	}
}

// countFailStore commits normally but cannot count.
type countFailStore struct {
	*store.Memory
}

func (countFailStore) Count(context.Context) (int, error) {
	return 0, errors.New("count unavailable")
}

func TestLoad_CountFailureAfterCommitSucceeds(t *testing.T) {
	src := newFakeSource(map[string]string{"a.md": "a", "b.md": "b"})
	st := countFailStore{Memory: store.NewMemory()}
	obs := &recordingObserver{}

	res, err := newLoader(t, src, st, WithObserver(obs)).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Count != 2 || res.Digest == "" {
		t.Errorf("result = %+v", res)
	}
	tasks, err := st.List(context.Background())
	if err != nil || len(tasks) != 2 {
		t.Fatalf("List = %v, %v", tasks, err)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.finished) != 1 || obs.finished[0] != nil {
		t.Errorf("observer errors = %v, want one nil", obs.finished)
	}
}

func TestLoad_ReplacesPreviousRecords(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, "stale")

	src := newFakeSource(map[string]string{"fresh.md": "x"})
	if _, err := newLoader(t, src, st).Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := st.Get(context.Background(), "stale"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stale record survived the load: %v", err)
	}
}

func TestLoad_Idempotent(t *testing.T) {
	src := newFakeSource(map[string]string{
		"a.md": "---\nn: 1\n---\nA",
		"b.md": "B",
	})
	st := store.NewMemory()
	l := newLoader(t, src, st)

	first, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	list1, _ := st.List(context.Background())

	second, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	list2, _ := st.List(context.Background())

	if !reflect.DeepEqual(list1, list2) {
		t.Errorf("store contents differ between loads:\n%v\n%v", list1, list2)
	}
	if first.Digest != second.Digest {
		t.Errorf("digest changed: %s vs %s", first.Digest, second.Digest)
	}
	if first.LoadID == second.LoadID {
		t.Error("load ids should differ")
	}
}

func TestLoad_ListingNotFoundKeepsStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	gh, err := source.NewGitHub(source.GitHubConfig{BaseURL: srv.URL, Owner: "o", Repo: "r", Path: "p", Token: "t"})
	if err != nil {
		t.Fatalf("NewGitHub: %v", err)
	}
	st := store.NewMemory()
	seed(t, st, "previous")

	_, err = newLoader(t, gh, st).Load(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should mention 404: %v", err)
	}
	var se *source.StatusError
	if !errors.As(err, &se) {
		t.Errorf("error should wrap StatusError: %v", err)
	}
	if n, _ := st.Count(context.Background()); n != 1 {
		t.Errorf("store count = %d, want previous contents kept", n)
	}
}

func TestLoad_GitHubEndToEnd(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/o/r/contents/Tasks":
			_, _ = w.Write([]byte(`[
				{"name":"one.md","type":"file","download_url":"` + srv.URL + `/raw/one.md"},
				{"name":"archive","type":"dir","download_url":null}
			]`))
		case "/raw/one.md":
			_, _ = w.Write([]byte("---\nowner: me\n---\n\nDo the thing.\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gh, _ := source.NewGitHub(source.GitHubConfig{BaseURL: srv.URL, Owner: "o", Repo: "r", Path: "Tasks", Token: "t"})
	st := store.NewMemory()
	res, err := newLoader(t, gh, st).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Count != 1 {
		t.Fatalf("Count = %d, want 1 (directories skipped)", res.Count)
	}
	got, _ := st.Get(context.Background(), "one")
	if got.Content != "Do the thing." {
		t.Errorf("content = %q", got.Content)
	}
}

func TestLoad_FetchErrorAborts(t *testing.T) {
	src := newFakeSource(map[string]string{"a.md": "a", "b.md": "b"})
	src.entries = append(src.entries, source.Entry{Name: "gone.md", Type: source.EntryFile})

	st := store.NewMemory()
	seed(t, st, "previous")

	_, err := newLoader(t, src, st).Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "gone.md") {
		t.Fatalf("err = %v, want fetch error naming gone.md", err)
	}
	list, _ := st.List(context.Background())
	if len(list) != 1 || list[0].ID != "previous" {
		t.Errorf("store = %+v, want previous contents", list)
	}
}

func TestLoad_ParseErrorAborts(t *testing.T) {
	src := newFakeSource(map[string]string{"bad.md": "---\nkey: [oops\n---\nbody"})
	_, err := newLoader(t, src, store.NewMemory()).Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "parse bad.md") {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestLoad_SchemaErrorAborts(t *testing.T) {
	src := newFakeSource(map[string]string{".md": "nameless"})
	_, err := newLoader(t, src, store.NewMemory()).Load(context.Background())
	if !errors.Is(err, schema.ErrInvalidRecord) {
		t.Fatalf("err = %v, want ErrInvalidRecord", err)
	}
}

func TestLoad_DuplicateID(t *testing.T) {
	src := newFakeSource(map[string]string{"a.md": "x", "a": "y"})
	_, err := newLoader(t, src, store.NewMemory()).Load(context.Background())
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
}

func TestLoad_FirstErrorCancelsInFlight(t *testing.T) {
	boom := errors.New("boom")
	var cancelled atomic.Int32

	src := newFakeSource(map[string]string{"bad.md": "", "slow1.md": "", "slow2.md": ""})
	src.fetch = func(ctx context.Context, e source.Entry) ([]byte, error) {
		if e.Name == "bad.md" {
			return nil, boom
		}
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return []byte("late"), nil
		}
	}

	start := time.Now()
	_, err := newLoader(t, src, store.NewMemory(), WithConcurrency(3)).Load(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("in-flight fetches were not cancelled")
	}
	if cancelled.Load() == 0 {
		t.Error("expected at least one fetch to observe cancellation")
	}
}

func TestLoad_ConcurrencyBound(t *testing.T) {
	files := map[string]string{}
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		files[n+".md"] = n
	}
	src := newFakeSource(files)

	var inFlight, peak atomic.Int32
	src.fetch = func(_ context.Context, e source.Entry) ([]byte, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return []byte(files[e.Name]), nil
	}

	for _, limit := range []int{1, 2} {
		peak.Store(0)
		res, err := newLoader(t, src, store.NewMemory(), WithConcurrency(limit)).Load(context.Background())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if res.Count != 6 {
			t.Errorf("Count = %d, want 6", res.Count)
		}
		if p := peak.Load(); p > int32(limit) {
			t.Errorf("limit %d: peak in-flight = %d", limit, p)
		}
	}
}

func TestTryLoad_Running(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	src := newFakeSource(map[string]string{"a.md": "a"})
	src.fetch = func(context.Context, source.Entry) ([]byte, error) {
		close(started)
		<-release
		return []byte("a"), nil
	}
	l := newLoader(t, src, store.NewMemory())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = l.Load(context.Background())
	}()
	<-started

	if _, err := l.TryLoad(context.Background()); !errors.Is(err, apperr.ErrLoadRunning) {
		t.Errorf("TryLoad = %v, want ErrLoadRunning", err)
	}
	close(release)
	wg.Wait()
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []error
	results  []*Result
}

func (o *recordingObserver) LoadStarted(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, id)
}

func (o *recordingObserver) LoadFinished(res *Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, res)
	o.finished = append(o.finished, err)
}

func TestLoad_NotifiesObservers(t *testing.T) {
	obs := &recordingObserver{}
	src := newFakeSource(map[string]string{"a.md": "a"})
	l := newLoader(t, src, store.NewMemory(), WithObserver(obs))

	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	src.listErr = errors.New("down")
	if _, err := l.Load(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if len(obs.started) != 2 || len(obs.finished) != 2 {
		t.Fatalf("observer calls: started=%d finished=%d", len(obs.started), len(obs.finished))
	}
	if obs.finished[0] != nil || obs.finished[1] == nil {
		t.Errorf("finished errors = %v", obs.finished)
	}
	if obs.results[0].LoadID != obs.started[0] || obs.results[0].Count != 1 {
		t.Errorf("first result = %+v", obs.results[0])
	}
}

func TestNew_RequiresSourceAndStore(t *testing.T) {
	if _, err := New(nil, store.NewMemory()); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := New(newFakeSource(nil), nil); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestDeriveID(t *testing.T) {
	cases := map[string]string{
		"example.md":   "example",
		"notes.md.md":  "notes.md",
		"README.MD":    "README.MD",
		"plain":        "plain",
		"archive.mdx":  "archive.mdx",
		"dots.in.name": "dots.in.name",
	}
	for in, want := range cases {
		if got := DeriveID(in); got != want {
			t.Errorf("DeriveID(%q) = %q, want %q", in, got, want)
		}
	}
}
