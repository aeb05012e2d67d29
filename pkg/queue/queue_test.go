package queue

import "testing"

func TestRepositoryKey(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/owner/repo", "https%3A%2F%2Fgithub.com%2Fowner%2Frepo"},
		{"https://github.com/owner/repo/", "https%3A%2F%2Fgithub.com%2Fowner%2Frepo"},
		{"https://github.com/owner", "https%3A%2F%2Fgithub.com%2Fowner"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := RepositoryKey(tt.url); got != tt.want {
				t.Errorf("RepositoryKey(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestKey_StringDistinguishesTeams(t *testing.T) {
	a := Key{Repository: "r", Team: "a/b"}
	b := Key{Repository: "r/a", Team: "b"}
	if a.String() == b.String() {
		t.Errorf("keys collide: %q", a.String())
	}
}
