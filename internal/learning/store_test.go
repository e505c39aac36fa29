package learning

import (
	"context"
	"path/filepath"
	"testing"

	"groundwork-mcp-server/internal/page"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	fileStore, err := NewFileStore(filepath.Join(dir, "learned.json"), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sqliteStore, err := NewSQLiteStore(filepath.Join(dir, "learned.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })
	return map[string]Store{"json": fileStore, "sqlite": sqliteStore}
}

func checkoutButton() page.InteractiveElement {
	return page.InteractiveElement{
		ID:         "ga-7",
		Tag:        "BUTTON",
		Text:       "Proceed to checkout",
		Identifier: "checkout-btn",
		Classes:    "btn btn-primary",
		Visible:    true,
	}
}

func TestLearnThenRecallCaseInsensitive(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sig := SignatureOf(checkoutButton())
			if err := store.Learn(ctx, "https://shop.example.com/cart", "Checkout", sig); err != nil {
				t.Fatalf("Learn: %v", err)
			}

			got, ok, err := store.Recall(ctx, "https://shop.example.com/other", "checkout")
			if err != nil {
				t.Fatalf("Recall: %v", err)
			}
			if !ok {
				t.Fatal("expected recall hit")
			}
			if got.Tag != "button" || got.Identifier != "checkout-btn" || got.Text != "Proceed to checkout" {
				t.Fatalf("unexpected signature %+v", got)
			}
		})
	}
}

func TestRecallSubstringBothDirections(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			origin := "https://app.example.com"
			if err := store.Learn(ctx, origin, "account settings", SignatureOf(checkoutButton())); err != nil {
				t.Fatalf("Learn: %v", err)
			}

			if _, ok, _ := store.Recall(ctx, origin, "open account settings page"); !ok {
				t.Error("expected stored key contained in query to match")
			}
			if _, ok, _ := store.Recall(ctx, origin, "settings"); !ok {
				t.Error("expected query contained in stored key to match")
			}
			if _, ok, _ := store.Recall(ctx, origin, "billing"); ok {
				t.Error("unrelated phrase should not match")
			}
		})
	}
}

func TestRecallIsOriginScoped(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Learn(ctx, "https://a.example.com", "checkout", SignatureOf(checkoutButton())); err != nil {
				t.Fatalf("Learn: %v", err)
			}
			if _, ok, _ := store.Recall(ctx, "https://b.example.com", "checkout"); ok {
				t.Fatal("mapping leaked across origins")
			}
		})
	}
}

func TestLearnLastWriteWins(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			origin := "https://shop.example.com"
			first := Signature{Tag: "a", Text: "Cart"}
			second := Signature{Tag: "button", Text: "View cart"}
			_ = store.Learn(ctx, origin, "cart", first)
			_ = store.Learn(ctx, origin, "Cart ", second)

			got, ok, err := store.Recall(ctx, origin, "cart")
			if err != nil || !ok {
				t.Fatalf("Recall ok=%v err=%v", ok, err)
			}
			if got.Tag != "button" {
				t.Fatalf("expected last write to win, got %+v", got)
			}
		})
	}
}

func TestLearnRejectsEmptyPhrase(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Learn(context.Background(), "https://x.example", "   ", Signature{Tag: "a"}); err == nil {
				t.Fatal("expected error for empty phrase")
			}
		})
	}
}

func TestFileStoreReloadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "learned.json")
	store, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Learn(context.Background(), "https://shop.example.com", "checkout", SignatureOf(checkoutButton())); err != nil {
		t.Fatalf("Learn: %v", err)
	}

	reopened, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok, _ := reopened.Recall(context.Background(), "https://shop.example.com", "checkout"); !ok {
		t.Fatal("expected mapping to survive reload")
	}
	if n := len(reopened.Mappings("https://shop.example.com")); n != 1 {
		t.Fatalf("expected 1 mapping, got %d", n)
	}
}

func TestSignatureMatches(t *testing.T) {
	sig := SignatureOf(checkoutButton())
	cases := []struct {
		name string
		el   page.InteractiveElement
		want bool
	}{
		{"same element", checkoutButton(), true},
		{"different tag", page.InteractiveElement{Tag: "a", Text: "Proceed to checkout"}, false},
		{"text contains signature", page.InteractiveElement{Tag: "button", Text: "Proceed to checkout now"}, true},
		{"identifier only", page.InteractiveElement{Tag: "button", Text: "Pay", Identifier: "checkout-btn"}, true},
		{"unrelated button", page.InteractiveElement{Tag: "button", Text: "Continue shopping"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sig.Matches(tc.el); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOrigin(t *testing.T) {
	cases := map[string]string{
		"https://Shop.Example.com/cart?x=1": "https://shop.example.com",
		"http://localhost:8080/a":           "http://localhost:8080",
		"shop.example.com":                  "shop.example.com",
	}
	for in, want := range cases {
		if got := Origin(in); got != want {
			t.Errorf("Origin(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("redis", "", nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
