package opportunity

import "testing"

func TestSearchText(t *testing.T) {
	tests := []struct {
		name string
		opp  Opportunity
		want string
	}{
		{"all parts", Opportunity{Title: "Cloud", Description: " migration ", Synopsis: "services"}, "Cloud migration services"},
		{"skips empty", Opportunity{Title: "Cloud", Synopsis: "services"}, "Cloud services"},
		{"nothing", Opportunity{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opp.SearchText(); got != tt.want {
				t.Errorf("SearchText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClone_Independent(t *testing.T) {
	orig := []Opportunity{{
		NoticeID:      "n1",
		Contacts:      []Contact{{FullName: "Pat"}},
		ResourceLinks: []string{"https://example.com/a.pdf"},
		Tags:          []string{"watch"},
	}}

	cp := Clone(orig)
	cp[0].RelevanceScore = 0.9
	cp[0].Contacts[0].FullName = "Sam"
	cp[0].ResourceLinks[0] = "changed"
	cp[0].Tags = append(cp[0].Tags, "extra")

	if orig[0].RelevanceScore != 0 {
		t.Error("score leaked into original")
	}
	if orig[0].Contacts[0].FullName != "Pat" || orig[0].ResourceLinks[0] != "https://example.com/a.pdf" {
		t.Error("nested slices shared with original")
	}
	if len(orig[0].Tags) != 1 {
		t.Error("tags shared with original")
	}
}

func TestClone_PreservesNilAndEmpty(t *testing.T) {
	cp := Clone([]Opportunity{{Tags: []string{}}})
	if cp[0].Tags == nil {
		t.Error("empty slice became nil")
	}
	if cp[0].Contacts != nil {
		t.Error("nil slice became non-nil")
	}
}
