package feed

import "testing"

func TestFilterSet_Key_Deterministic(t *testing.T) {
	a := FilterSet{"genre": "jazz", "mood": "chill"}
	b := FilterSet{"mood": "chill", "genre": "jazz"}

	if a.Key() != b.Key() {
		t.Errorf("Key not deterministic: %q vs %q", a.Key(), b.Key())
	}
	if a.Key() != "genre=jazz:mood=chill" {
		t.Errorf("Key = %q, want %q", a.Key(), "genre=jazz:mood=chill")
	}
}

func TestFilterSet_Key_Empty(t *testing.T) {
	var f FilterSet
	if f.Key() != "" {
		t.Errorf("nil FilterSet Key = %q, want empty", f.Key())
	}
	if (FilterSet{}).Key() != "" {
		t.Error("empty FilterSet should produce empty key")
	}
}

func TestFilterSet_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b FilterSet
		want bool
	}{
		{
			name: "same entries different order",
			a:    FilterSet{"x": "1", "y": "2"},
			b:    FilterSet{"y": "2", "x": "1"},
			want: true,
		},
		{
			name: "different values",
			a:    FilterSet{"x": "1"},
			b:    FilterSet{"x": "2"},
			want: false,
		},
		{
			name: "both empty",
			a:    FilterSet{},
			b:    nil,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}
