package checksum

import "testing"

func TestSum(t *testing.T) {
	// SHA-256 of the empty string.
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != empty {
		t.Errorf("Sum(nil) = %s", got)
	}
	if Sum([]byte("a")) == Sum([]byte("b")) {
		t.Error("distinct inputs share a sum")
	}
}

func TestMatch(t *testing.T) {
	sum := Sum([]byte("doc"))
	tests := []struct {
		tag  string
		want bool
	}{
		{"", true},
		{"*", true},
		{sum, true},
		{ETag(sum), true},
		{"W/" + ETag(sum), true},
		{" " + ETag(sum) + " ", true},
		{"deadbeef", false},
	}
	for _, tt := range tests {
		if got := Match(tt.tag, sum); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.tag, got, tt.want)
		}
	}
}
