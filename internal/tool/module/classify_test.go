package module

import "testing"

func TestValidateGhCommandRejectsNonGh(t *testing.T) {
	if _, err := validateGhCommand("git log"); err == nil {
		t.Error("expected error for non-gh command")
	}
}

func TestValidateGhCommandAcceptsValid(t *testing.T) {
	args, err := validateGhCommand("gh pr list --json number")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"pr", "list", "--json", "number"}
	if !equalStrings(args, want) {
		t.Errorf("got %v, want %v", args, want)
	}
}

func TestValidateGhCommandQuotedArgs(t *testing.T) {
	args, err := validateGhCommand(`gh issue create --title "my issue" --body "details here"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"issue", "create", "--title", "my issue", "--body", "details here"}
	if !equalStrings(args, want) {
		t.Errorf("got %v, want %v", args, want)
	}
}

func TestValidateGhCommandAllowsPipeInsideQuotes(t *testing.T) {
	args, err := validateGhCommand(`gh api /repos --jq ".[] | .name"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"api", "/repos", "--jq", ".[] | .name"}
	if !equalStrings(args, want) {
		t.Errorf("got %v, want %v", args, want)
	}
}

func TestValidateGhCommandRejectsShellOperators(t *testing.T) {
	cases := []string{
		"gh pr list; rm -rf /",
		"gh pr list && echo pwned",
		"gh pr list `whoami`",
		"gh pr list $(whoami)",
		"gh pr list > output.txt",
	}
	for _, c := range cases {
		if _, err := validateGhCommand(c); err == nil {
			t.Errorf("expected rejection for %q", c)
		}
	}
}

func TestValidateGhCommandRejectsEmpty(t *testing.T) {
	if _, err := validateGhCommand("gh"); err == nil {
		t.Error("expected error for bare 'gh'")
	}
	if _, err := validateGhCommand("gh "); err == nil {
		t.Error("expected error for 'gh ' with no subcommand")
	}
}

func TestClassifyGh(t *testing.T) {
	cases := []struct {
		args []string
		want ghCommandClass
	}{
		{[]string{"pr", "list"}, ghReadOnly},
		{[]string{"pr", "create"}, ghMutating},
		{[]string{"pr", "checks", "20"}, ghReadOnly},
		{[]string{"pr", "diff", "20"}, ghReadOnly},
		{[]string{"issue", "status"}, ghReadOnly},
		{[]string{"issue", "close", "42"}, ghMutating},
		{[]string{"repo", "view"}, ghReadOnly},
		{[]string{"repo", "create"}, ghMutating},
		{[]string{"release", "list"}, ghReadOnly},
		{[]string{"release", "create"}, ghMutating},
		{[]string{"run", "watch"}, ghReadOnly},
		{[]string{"run", "cancel"}, ghMutating},
		{[]string{"workflow", "list"}, ghReadOnly},
		{[]string{"workflow", "run"}, ghMutating},
		{[]string{"gist", "view"}, ghReadOnly},
		{[]string{"gist", "create"}, ghMutating},
		{[]string{"search", "repos", "rust"}, ghReadOnly},
		{[]string{"search", "issues"}, ghReadOnly},
		{[]string{"auth", "status"}, ghReadOnly},
		{[]string{"auth", "login"}, ghMutating},
		{[]string{"api", "/repos/foo/bar"}, ghReadOnly},
		{[]string{"api", "/repos/foo/bar/issues", "--method", "POST"}, ghMutating},
		{[]string{"api", "/repos/foo/bar", "-X", "DELETE"}, ghMutating},
		{[]string{"api", "/repos/foo/bar", "--method", "PUT"}, ghMutating},
		{[]string{"label", "list"}, ghReadOnly},
		{[]string{"label", "create"}, ghMutating},
		{[]string{"project", "field-list"}, ghReadOnly},
		{[]string{"browse"}, ghReadOnly},
		{[]string{"variable", "get"}, ghReadOnly},
		{[]string{"secret", "set"}, ghMutating},
		{[]string{"codespace", "list"}, ghReadOnly},
		{[]string{"unknown-thing", "do-stuff"}, ghMutating},
	}
	for _, c := range cases {
		if got := classifyGh(c.args); got != c.want {
			t.Errorf("classifyGh(%v) = %v, want %v", c.args, got, c.want)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
