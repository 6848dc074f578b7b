package merge

import (
	"fmt"
	"strings"
)

// Policy decides how conflicts are resolved.
type Policy string

const (
	PolicyAsk       Policy = "ask"
	PolicySkip      Policy = "skip"
	PolicyOverwrite Policy = "overwrite"
	PolicyIfNewer   Policy = "ifnewer"
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ask", "interactive":
		return PolicyAsk, nil
	case "skip", "":
		return PolicySkip, nil
	case "overwrite":
		return PolicyOverwrite, nil
	case "ifnewer", "keepnewer", "newer":
		return PolicyIfNewer, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q (want ask, skip, overwrite or ifnewer)", s)
	}
}

// Decision is one answer of an interactive prompt.
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionOverwrite
	DecisionKeepNewer
	DecisionSkipAll
	DecisionOverwriteAll
	DecisionKeepNewerAll
	DecisionAbort
)

// sticky reports whether d applies to every remaining conflict, and the
// single-file decision it stands for.
func (d Decision) sticky() (Decision, bool) {
	switch d {
	case DecisionSkipAll:
		return DecisionSkip, true
	case DecisionOverwriteAll:
		return DecisionOverwrite, true
	case DecisionKeepNewerAll:
		return DecisionKeepNewer, true
	default:
		return d, false
	}
}

func (d Decision) String() string {
	switch d {
	case DecisionSkip:
		return "skip"
	case DecisionOverwrite:
		return "overwrite"
	case DecisionKeepNewer:
		return "keep newer"
	case DecisionSkipAll:
		return "skip all"
	case DecisionOverwriteAll:
		return "overwrite all"
	case DecisionKeepNewerAll:
		return "keep newer for all"
	case DecisionAbort:
		return "abort"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}
