package cache

import "testing"

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want RepoId
	}{
		{"https", "https://github.com/example/repo.git", RepoId{"github.com", "example", "repo"}},
		{"https no suffix", "https://github.com/example/repo", RepoId{"github.com", "example", "repo"}},
		{"http", "http://github.com/example/repo", RepoId{"github.com", "example", "repo"}},
		{"ssh", "ssh://git@github.com/example/repo.git", RepoId{"github.com", "example", "repo"}},
		{"scp-like", "git@github.com:example/repo.git", RepoId{"github.com", "example", "repo"}},
		{"git proto", "git://github.com/example/repo.git", RepoId{"github.com", "example", "repo"}},
		{"git+https", "git+https://github.com/example/repo.git", RepoId{"github.com", "example", "repo"}},
		{"git+ssh", "git+ssh://git@github.com/example/repo.git", RepoId{"github.com", "example", "repo"}},
		{"bare slash", "github.com/example/repo", RepoId{"github.com", "example", "repo"}},
		{"bare colon", "github.com:example/repo", RepoId{"github.com", "example", "repo"}},
		{"nested owner", "https://gitlab.com/group/subgroup/repo.git", RepoId{"gitlab.com", "group/subgroup", "repo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRepoURL(tt.in)
			if err != nil {
				t.Fatalf("ParseRepoURL(%q): unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseRepoURL(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRepoURLRejectsInvalid(t *testing.T) {
	tests := []string{"", "https://", "https://github.com", "not a url at all with spaces"}
	for _, in := range tests {
		if _, err := ParseRepoURL(in); err == nil {
			t.Fatalf("ParseRepoURL(%q): expected error, got nil", in)
		}
	}
}

func TestRepoIdValid(t *testing.T) {
	if !(RepoId{"h", "o", "n"}).Valid() {
		t.Fatal("expected valid")
	}
	if (RepoId{"", "o", "n"}).Valid() {
		t.Fatal("expected invalid for empty host")
	}
	if !(RepoId{"h", "o/x", "n"}).Valid() {
		t.Fatal("expected owner with subgroup slash to be valid")
	}
	if (RepoId{"h", "../etc", "n"}).Valid() {
		t.Fatal("expected invalid for owner containing ..")
	}
}
