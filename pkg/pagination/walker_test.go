package pagination

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// pages serves fixed page contents; missing pages are empty.
func pages(content map[int][]string, requested *[]int) FetchFunc[string] {
	return func(ctx context.Context, page int) PageResult[string] {
		*requested = append(*requested, page)
		return NewPageResult(page, content[page], nil)
	}
}

func collect(visited *[]PageResult[string]) VisitFunc[string] {
	return func(r PageResult[string]) error {
		*visited = append(*visited, r)
		return nil
	}
}

func assertPages(t *testing.T, got, want []int) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Requested pages = %v, want %v", got, want)
	}
}

func TestNewPageResult(t *testing.T) {
	failed := NewPageResult[string](2, []string{"a"}, errors.New("boom"))
	if failed.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %v, want failed", failed.Outcome)
	}
	if len(failed.Items) != 0 {
		t.Errorf("Failed page carries items: %v", failed.Items)
	}
	if failed.Err == nil || failed.Err.Error() != "boom" {
		t.Errorf("Err = %v, want boom", failed.Err)
	}

	empty := NewPageResult[string](3, nil, nil)
	if empty.Outcome != OutcomeEmpty {
		t.Errorf("Outcome = %v, want empty", empty.Outcome)
	}
	if empty.Items == nil {
		t.Error("Empty page should have a non-nil item slice")
	}

	items := NewPageResult(1, []string{"a", "b"}, nil)
	if items.Outcome != OutcomeItems || len(items.Items) != 2 || items.Page != 1 {
		t.Errorf("Items page = %+v", items)
	}
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		outcome  Outcome
		expected string
	}{
		{OutcomeItems, "items"},
		{OutcomeEmpty, "empty"},
		{OutcomeFailed, "failed"},
		{Outcome(9), "outcome(9)"},
	}

	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.expected {
			t.Errorf("String() = %q, want %q", got, tt.expected)
		}
	}
}

func TestNewWalker_Defaults(t *testing.T) {
	w := NewWalker[string](Config{MaxPages: 0, StartPage: 0})
	if w.Config().StartPage != 1 || w.Config().MaxPages != 1 {
		t.Errorf("Config() = %+v, want start 1, max 1", w.Config())
	}

	cfg := DefaultConfig()
	if cfg.MaxPages != 5 || cfg.StartPage != 1 {
		t.Errorf("DefaultConfig() = %+v, want pages 1 through 5", cfg)
	}
}

func TestWalk_StopsAtPageLimit(t *testing.T) {
	content := map[int][]string{}
	for p := 1; p <= 10; p++ {
		content[p] = []string{"x", "y"}
	}

	var requested []int
	var visited []PageResult[string]
	w := NewWalker[string](DefaultConfig())

	stats, err := w.Walk(context.Background(), pages(content, &requested), collect(&visited))
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	assertPages(t, requested, []int{1, 2, 3, 4, 5})
	if len(visited) != 5 {
		t.Errorf("Visited %d pages, want 5", len(visited))
	}
	if stats.StopReason != StopPageLimit {
		t.Errorf("StopReason = %s, want %s", stats.StopReason, StopPageLimit)
	}
	if stats.Pages != 5 || stats.Items != 10 || stats.LastPage != 5 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestWalk_StopsOnEmptyPage(t *testing.T) {
	content := map[int][]string{
		1: {"a", "b"},
		2: {"c"},
	}

	var requested []int
	var visited []PageResult[string]
	w := NewWalker[string](DefaultConfig())

	stats, err := w.Walk(context.Background(), pages(content, &requested), collect(&visited))
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	assertPages(t, requested, []int{1, 2, 3})
	if len(visited) != 3 {
		t.Fatalf("Visited %d pages, want 3", len(visited))
	}
	if visited[2].Outcome != OutcomeEmpty || visited[2].Page != 3 {
		t.Errorf("Last visited = %+v, want empty page 3", visited[2])
	}
	if stats.StopReason != StopEmptyPage {
		t.Errorf("StopReason = %s, want %s", stats.StopReason, StopEmptyPage)
	}
	if stats.Items != 3 {
		t.Errorf("Items = %d, want 3", stats.Items)
	}
}

func TestWalk_StopsOnFailedPage(t *testing.T) {
	var requested []int
	var visited []PageResult[string]
	fetch := func(ctx context.Context, page int) PageResult[string] {
		requested = append(requested, page)
		if page == 2 {
			return NewPageResult[string](page, nil, errors.New("status 500"))
		}
		return NewPageResult(page, []string{"a"}, nil)
	}

	w := NewWalker[string](DefaultConfig())
	stats, err := w.Walk(context.Background(), fetch, collect(&visited))
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	assertPages(t, requested, []int{1, 2})
	if len(visited) != 2 {
		t.Fatalf("Visited %d pages, want 2", len(visited))
	}
	if visited[1].Outcome != OutcomeFailed || visited[1].Err == nil || visited[1].Err.Error() != "status 500" {
		t.Errorf("Failed page = %+v", visited[1])
	}
	if stats.StopReason != StopFailedPage {
		t.Errorf("StopReason = %s, want %s", stats.StopReason, StopFailedPage)
	}
}

func TestWalk_PageNumberIsAuthoritative(t *testing.T) {
	var visited []PageResult[string]
	fetch := func(ctx context.Context, page int) PageResult[string] {
		return PageResult[string]{Page: 99, Items: []string{"a"}, Outcome: OutcomeItems}
	}

	w := NewWalker[string](Config{StartPage: 1, MaxPages: 2})
	if _, err := w.Walk(context.Background(), fetch, collect(&visited)); err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	if len(visited) != 2 {
		t.Fatalf("Visited %d pages, want 2", len(visited))
	}
	if visited[0].Page != 1 || visited[1].Page != 2 {
		t.Errorf("Visited pages = %d, %d, want 1, 2", visited[0].Page, visited[1].Page)
	}
}

func TestWalk_VisitError(t *testing.T) {
	var requested []int
	content := map[int][]string{1: {"a"}, 2: {"b"}, 3: {"c"}}
	visitErr := errors.New("reporter closed")

	w := NewWalker[string](DefaultConfig())
	stats, err := w.Walk(context.Background(), pages(content, &requested), func(r PageResult[string]) error {
		if r.Page == 2 {
			return visitErr
		}
		return nil
	})

	if !errors.Is(err, visitErr) {
		t.Fatalf("Expected visit error, got %v", err)
	}
	assertPages(t, requested, []int{1, 2})
	if stats.StopReason != StopVisitError {
		t.Errorf("StopReason = %s, want %s", stats.StopReason, StopVisitError)
	}
}

func TestWalk_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var requested []int
	content := map[int][]string{1: {"a"}, 2: {"b"}, 3: {"c"}}

	w := NewWalker[string](DefaultConfig())
	stats, err := w.Walk(ctx, pages(content, &requested), func(r PageResult[string]) error {
		if r.Page == 1 {
			cancel()
		}
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	assertPages(t, requested, []int{1})
	if stats.StopReason != StopCancelled {
		t.Errorf("StopReason = %s, want %s", stats.StopReason, StopCancelled)
	}
}

func TestWalk_FailedByCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	visits := 0
	fetch := func(ctx context.Context, page int) PageResult[string] {
		cancel()
		return NewPageResult[string](page, nil, ctx.Err())
	}

	w := NewWalker[string](DefaultConfig())
	stats, err := w.Walk(ctx, fetch, func(r PageResult[string]) error {
		visits++
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if visits != 0 {
		t.Errorf("Visited %d pages, want 0", visits)
	}
	if stats.StopReason != StopCancelled {
		t.Errorf("StopReason = %s, want %s", stats.StopReason, StopCancelled)
	}
}

func TestWalk_StartPage(t *testing.T) {
	var requested []int
	content := map[int][]string{3: {"a"}, 4: {"b"}}

	w := NewWalker[string](Config{StartPage: 3, MaxPages: 4})
	stats, err := w.Walk(context.Background(), pages(content, &requested), func(PageResult[string]) error { return nil })
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	assertPages(t, requested, []int{3, 4})
	if stats.StopReason != StopPageLimit {
		t.Errorf("StopReason = %s, want %s", stats.StopReason, StopPageLimit)
	}
}
