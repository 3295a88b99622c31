package category

import "testing"

func TestCategorizeByMCC(t *testing.T) {
	cases := []struct {
		mcc  string
		want Category
	}{
		{"5411", Groceries},
		{"5812", Restaurants},
		{"4121", Transport},
		{"5942", Children},
		{"9999", Other},
	}
	for _, tc := range cases {
		if got := Categorize(tc.mcc, ""); got != tc.want {
			t.Fatalf("Categorize(%q): expected %s, got %s", tc.mcc, tc.want, got)
		}
	}
}

func TestCategorizeByKeywordWhenMCCUnknown(t *testing.T) {
	if got := Categorize("", "Оплата в Магнит Косино"); got != Groceries {
		t.Fatalf("expected groceries from keyword match, got %s", got)
	}
	if got := Categorize("0000", "Перевод другу"); got != Transfers {
		t.Fatalf("expected transfers from keyword match, got %s", got)
	}
}

func TestCategorizeMCCWinsOverKeyword(t *testing.T) {
	// MCC is authoritative even when the description matches another category.
	if got := Categorize("5812", "Магнит у дома"); got != Restaurants {
		t.Fatalf("expected MCC to take precedence, got %s", got)
	}
}

func TestCategorizeUnmatchedFallsBackToOther(t *testing.T) {
	if got := Categorize("", "unrelated text"); got != Other {
		t.Fatalf("expected other for unmatched description, got %s", got)
	}
}

func TestDisplayNameCoversEveryCategory(t *testing.T) {
	for _, c := range []Category{Groceries, Restaurants, Transport, Clothing, Health,
		Entertainment, Travel, Sports, Beauty, Utilities, Communications, Education,
		Children, Home, Transfers, Other} {
		if DisplayName(c) == "" {
			t.Fatalf("missing display name for category %s", c)
		}
	}
}
