package eventbus

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"post.created", "post.created", true},
		{"post.created", "post.deleted", false},
		{"post.*", "post.deleted", true},
		{"post.*", "post.deleted.v2", false},
		{"post.#", "post", true},
		{"post.#", "post.deleted.v2", true},
		{"#", "anything.at.all", true},
		{"*.deleted", "post.deleted", true},
		{"#.deleted", "media.post.deleted", true},
		{"#.deleted", "post.created", false},
	}

	for _, tc := range cases {
		if got := Match(tc.pattern, tc.key); got != tc.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}

func TestValidatePattern(t *testing.T) {
	for _, bad := range []string{"", "post..created", "post.cre*"} {
		if err := ValidatePattern(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	if err := ValidatePattern("post.#"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
