// Package tone checks candidate bot replies against a fixed blocklist of
// disallowed rhetorical patterns. It is a substring blocklist, not semantic
// analysis: a reply that contains any blocked phrase, case-insensitively,
// is rejected.
package tone

import "strings"

// Result is the outcome of a tone check. Reason names the category of the
// first blocked phrase found.
type Result struct {
	Valid  bool
	Reason string
}

type category struct {
	name    string
	phrases []string
}

// blocklist groups disallowed phrases by category. Categories are checked
// in order, so a reply hitting several always reports the same one.
// Matching is case-insensitive whole-substring.
var blocklist = []category{
	{name: "blame", phrases: []string{
		"you never",
		"you always",
		"your fault",
		"you should have",
		"why didn't you",
	}},
	{name: "comparison", phrases: []string{
		"more than you",
		"better than you",
		"unlike you",
		"does more",
		"compared to",
	}},
	{name: "command", phrases: []string{
		"you must",
		"you need to",
		"go do",
		"do it now",
		"don't forget to",
	}},
	{name: "judgment", phrases: []string{
		"lazy",
		"not good enough",
		"disappointing",
		"you failed",
		"poorly done",
	}},
}

// Validate reports whether text is safe to send.
func Validate(text string) Result {
	lowered := strings.ToLower(text)
	for _, c := range blocklist {
		for _, phrase := range c.phrases {
			if strings.Contains(lowered, phrase) {
				return Result{Valid: false, Reason: c.name}
			}
		}
	}
	return Result{Valid: true}
}
