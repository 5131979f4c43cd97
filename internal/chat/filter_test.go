package chat

import (
	"context"
	"testing"
	"time"

	"github.com/DERELya/instaking-chat/internal/model"
)

func TestFilterConversations(t *testing.T) {
	list := []model.Conversation{
		conv(1, "Alice", t0),
		conv(2, "bob", t0),
		conv(3, "carol", t0),
	}
	list[2].PreviewMessage = "see you at the ALIGNMENT meeting"

	tests := []struct {
		name string
		term string
		want []int64
	}{
		{"empty term matches all", "", []int64{1, 2, 3}},
		{"name match is case-insensitive", "ali", []int64{1, 3}},
		{"exact name", "bob", []int64{2}},
		{"preview match", "meeting", []int64{3}},
		{"no match", "zzz", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterConversations(list, tt.term, localUID)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("got[%d].ID = %d, want %d", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestFilterReturnsCopy(t *testing.T) {
	list := []model.Conversation{conv(1, "alice", t0)}
	got := filterConversations(list, "", localUID)
	got[0].PreviewMessage = "mutated"
	if list[0].PreviewMessage == "mutated" {
		t.Error("filter result aliases the input slice")
	}
}

func TestSearchDebounceCoalesces(t *testing.T) {
	g := &fakeGateway{list: []model.Conversation{
		conv(1, "alice", t0),
		conv(2, "bob", t0.Add(time.Hour)),
	}}
	s := newTestStore(g, nil, nil, Params{SearchDebounce: 20 * time.Millisecond})
	if err := s.LoadConversations(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Rapid keystrokes; only the final term may take effect.
	s.SetSearchTerm("b")
	s.SetSearchTerm("bo")
	s.SetSearchTerm("ali")

	if got := s.SearchTerm().Get(); got != "ali" {
		t.Errorf("raw term = %q, want the latest keystroke", got)
	}
	// The filtered list is untouched until the debounce window elapses.
	if got := s.FilteredConversations().Get(); len(got) != 2 {
		t.Errorf("filtered len = %d before debounce, want 2", len(got))
	}

	eventually(t, "debounced filter application", func() bool {
		got := s.FilteredConversations().Get()
		return len(got) == 1 && got[0].ID == 1
	})
}

func TestSearchTermNormalizedAndDistinct(t *testing.T) {
	g := &fakeGateway{list: []model.Conversation{conv(1, "alice", t0)}}
	s := newTestStore(g, nil, nil, Params{SearchDebounce: 5 * time.Millisecond})
	if err := s.LoadConversations(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.SetSearchTerm("  ALICE  ")
	eventually(t, "first filter application", func() bool {
		got := s.FilteredConversations().Get()
		return len(got) == 1
	})

	updates, cancel := s.FilteredConversations().Watch(8)
	defer cancel()
	<-updates // replayed current value

	// Same resolved term again: no new emission.
	s.SetSearchTerm("alice")
	time.Sleep(30 * time.Millisecond)
	select {
	case got := <-updates:
		t.Errorf("unexpected filtered emission %+v for an unchanged resolved term", got)
	default:
	}

	// A genuinely different term emits.
	s.SetSearchTerm("nobody")
	eventually(t, "changed-term emission", func() bool {
		select {
		case got := <-updates:
			return len(got) == 0
		default:
			return false
		}
	})
}

func TestClearingSearchRestoresFullList(t *testing.T) {
	g := &fakeGateway{list: []model.Conversation{
		conv(1, "alice", t0),
		conv(2, "bob", t0.Add(time.Hour)),
	}}
	s := newTestStore(g, nil, nil, Params{SearchDebounce: 5 * time.Millisecond})
	if err := s.LoadConversations(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.SetSearchTerm("bob")
	eventually(t, "narrowed list", func() bool {
		return len(s.FilteredConversations().Get()) == 1
	})

	s.SetSearchTerm("")
	eventually(t, "restored list", func() bool {
		return len(s.FilteredConversations().Get()) == 2
	})
}

func TestListRefreshReappliesFilter(t *testing.T) {
	g := &fakeGateway{list: []model.Conversation{conv(1, "alice", t0)}}
	s := newTestStore(g, nil, nil, Params{SearchDebounce: 5 * time.Millisecond})
	if err := s.LoadConversations(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.SetSearchTerm("ali")
	eventually(t, "filter application", func() bool {
		return len(s.FilteredConversations().Get()) == 1
	})

	// A new snapshot with a second matching conversation flows through
	// the still-active filter.
	g.mu.Lock()
	g.list = append(g.list, conv(2, "alina", t0.Add(time.Hour)))
	g.mu.Unlock()
	if err := s.LoadConversations(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := s.FilteredConversations().Get()
	if len(got) != 2 {
		t.Errorf("filtered len = %d after refresh, want 2: %+v", len(got), got)
	}
}
