package cache

import (
	"testing"

	"github.com/feedworks/feedpager/pkg/feed"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "unfiltered page",
			key:  Key{Page: 1, PageSize: 15},
			want: "feed:page=1:size=15",
		},
		{
			name: "query only",
			key:  Key{Query: "synthwave", Page: 2, PageSize: 15},
			want: "feed:q=synthwave:page=2:size=15",
		},
		{
			name: "filters sorted deterministically",
			key: Key{
				Filters:  feed.FilterSet{"mood": "chill", "genre": "electronic"},
				Page:     3,
				PageSize: 20,
			},
			want: "feed:genre=electronic:mood=chill:page=3:size=20",
		},
		{
			name: "query and filters",
			key: Key{
				Query:    "night",
				Filters:  feed.FilterSet{"kind": "track"},
				Page:     1,
				PageSize: 10,
			},
			want: "feed:q=night:kind=track:page=1:size=10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKey_String_FilterOrderIndependent(t *testing.T) {
	a := Key{Filters: feed.FilterSet{"a": "1", "b": "2"}, Page: 1, PageSize: 15}
	b := Key{Filters: feed.FilterSet{"b": "2", "a": "1"}, Page: 1, PageSize: 15}

	if a.String() != b.String() {
		t.Errorf("keys differ: %q vs %q", a.String(), b.String())
	}
}
