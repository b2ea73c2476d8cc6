package node

import (
	"io"
	"sort"
	"strings"
)

// Root is the privileged account name.
const Root = "root"

// Command is one invocation together with the session state it runs in.
type Command struct {
	// Text is the shell command line.
	Text string
	// User runs the command as this account. Empty means the login user.
	User string
	// Dir is the working directory to enter first. Empty skips the cd.
	Dir string
	// Env is exported before Text runs.
	Env map[string]string
	// Stdin is fed to the command when set.
	Stdin io.Reader
}

// Line renders the full command line sent to the shell:
//
//	cd '<dir>' || exit 1; export A="1" B="2"; <text>
//
// Environment values are double quoted so references such as $PATH expand
// on the target.
func (c Command) Line() string {
	var b strings.Builder
	if c.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(quoteDir(c.Dir))
		b.WriteString(" || exit 1; ")
	}
	if len(c.Env) > 0 {
		b.WriteString("export")
		for _, k := range sortedKeys(c.Env) {
			b.WriteString(" ")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(DoubleQuote(c.Env[k]))
		}
		b.WriteString("; ")
	}
	b.WriteString(c.Text)
	return b.String()
}

// Result is the captured outcome of exactly one Command.
type Result struct {
	// CommandLine is the line as it was handed to the transport.
	CommandLine string
	ExitCode    int
	Stdout      string
	Stderr      string
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Trimmed returns stdout without the trailing newline.
func (r Result) Trimmed() string {
	return strings.TrimRight(r.Stdout, "\r\n")
}

// SingleQuote quotes s for POSIX shells without any expansion.
func SingleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// DoubleQuote quotes s for POSIX shells keeping $VAR expansion.
func DoubleQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`")
	return `"` + r.Replace(s) + `"`
}

// quoteDir keeps a leading ~ unquoted so the shell still expands it.
func quoteDir(dir string) string {
	if dir == "~" {
		return dir
	}
	if rest, ok := strings.CutPrefix(dir, "~/"); ok {
		return "~/" + SingleQuote(rest)
	}
	return SingleQuote(dir)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
