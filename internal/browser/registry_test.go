package browser

import (
	"fmt"
	"sync"
	"testing"

	"groundwork-mcp-server/internal/page"
)

func TestNewElementRegistry(t *testing.T) {
	reg := NewElementRegistry()
	if reg.Count() != 0 {
		t.Errorf("expected empty registry, got %d elements", reg.Count())
	}
	if reg.GenerationID() != 0 {
		t.Errorf("expected initial generation ID 0, got %d", reg.GenerationID())
	}
}

func TestElementRegistryRegister(t *testing.T) {
	reg := NewElementRegistry()
	reg.Register(page.InteractiveElement{ID: "agent-1", Tag: "button", Text: "Submit", Visible: true})

	got, ok := reg.Get("agent-1")
	if !ok {
		t.Fatal("expected to retrieve element")
	}
	if got.Tag != "button" || got.Text != "Submit" {
		t.Errorf("unexpected element: %+v", got)
	}

	reg.Register(page.InteractiveElement{ID: "agent-1", Tag: "button", Text: "Send"})
	if reg.Count() != 1 {
		t.Errorf("overwrite should keep one entry, got %d", reg.Count())
	}
	if got, _ := reg.Get("agent-1"); got.Text != "Send" {
		t.Errorf("expected overwritten text, got %q", got.Text)
	}
}

func TestElementRegistryGetNonExistent(t *testing.T) {
	if _, ok := NewElementRegistry().Get("missing"); ok {
		t.Error("expected miss for unknown id")
	}
}

func TestElementRegistryRegisterBatchReplaces(t *testing.T) {
	reg := NewElementRegistry()
	reg.Register(page.InteractiveElement{ID: "stale"})

	reg.RegisterBatch([]page.InteractiveElement{
		{ID: "agent-b", Tag: "a"},
		{ID: "agent-a", Tag: "button"},
		{ID: "", Tag: "input"},
		{ID: "agent-b", Tag: "a", Text: "dup"},
	})

	if _, ok := reg.Get("stale"); ok {
		t.Error("batch should replace previous contents")
	}
	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(all))
	}
	if all[0].ID != "agent-b" || all[1].ID != "agent-a" {
		t.Errorf("enumeration order lost: %s, %s", all[0].ID, all[1].ID)
	}
	if all[0].Text != "dup" {
		t.Errorf("later duplicate should win, got %q", all[0].Text)
	}
}

func TestElementRegistryClear(t *testing.T) {
	reg := NewElementRegistry()
	reg.RegisterBatch([]page.InteractiveElement{{ID: "agent-1"}, {ID: "agent-2"}})

	for i := 1; i <= 3; i++ {
		reg.Clear()
		if reg.GenerationID() != int64(i) {
			t.Errorf("generation = %d, want %d", reg.GenerationID(), i)
		}
	}
	if reg.Count() != 0 || len(reg.All()) != 0 {
		t.Error("clear should drop every element")
	}
}

func TestElementRegistryConcurrency(t *testing.T) {
	reg := NewElementRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("agent-%d", n)
			reg.Register(page.InteractiveElement{ID: id})
			reg.Get(id)
			reg.All()
			if n%5 == 0 {
				reg.Clear()
			}
		}(i)
	}
	wg.Wait()
	if reg.GenerationID() != 4 {
		t.Errorf("expected 4 clears, got %d", reg.GenerationID())
	}
}
