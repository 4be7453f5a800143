// Package classifier maps raw direct-message text to an intent using an
// ordered table of pattern rules. It never fails: text that matches nothing
// is classified as help.
package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ashita-ai/tasklane/internal/model"
)

// Intent names produced by Classify.
const (
	IntentSwitchClient       = "switch_client"
	IntentSetDefaultClient   = "set_default_client"
	IntentClearDefaults      = "clear_defaults"
	IntentCreateTask         = "create_task"
	IntentWeeklyTasks        = "weekly_tasks"
	IntentConfirmDraftTask   = "confirm_draft_task"
	IntentClientLookup       = "cc_client_lookup"
	IntentBrandList          = "cc_brand_list"
	IntentMappingAudit       = "cc_brand_mapping_audit"
	IntentRemediationPreview = "cc_brand_mapping_remediation_preview"
	IntentRemediationApply   = "cc_brand_mapping_remediation_apply"
	IntentAssignmentUpsert   = "cc_assignment_upsert"
	IntentAssignmentRemove   = "cc_assignment_remove"
	IntentBrandCreate        = "cc_brand_create"
	IntentBrandUpdate        = "cc_brand_update"
	IntentHelp               = "help"
)

// Task-list windows.
const (
	WindowWeek  = "week"
	WindowMonth = "month"
	WindowDays  = "days"

	defaultWindowDays = 7
	monthWindowDays   = 30
	maxWindowDays     = 365
)

// rule is one entry in the ordered classification table. match receives the
// whitespace-normalized text and its lower-cased form and returns ok=false
// when the rule does not apply.
type rule struct {
	name  string
	match func(text, lower string) (model.Intent, bool)
}

// rules is evaluated top to bottom, first match wins. Order is load-bearing:
// preference phrases precede the generic patterns, and task creation precedes
// task-list queries so "create task for X" is never read as "tasks for X".
var rules = []rule{
	{"switch_client", matchSwitchClient},
	{"preferences", matchPreferences},
	{"create_task", matchCreateTask},
	{"task_list", matchTaskList},
	{"confirm_draft", matchConfirmDraft},
	{"command_center_reads", matchCommandCenterReads},
	{"remediation", matchRemediation},
	{"assignments", matchAssignments},
	{"brand_writes", matchBrandWrites},
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Classify returns exactly one intent for text.
func Classify(text string) model.Intent {
	normalized := normalize(text)
	lower := strings.ToLower(normalized)
	if len(lower) != len(normalized) {
		// Case folding changed byte offsets; rules slice both strings with
		// the same indexes, so fall back to the folded text.
		normalized = lower
	}
	for _, r := range rules {
		if intent, ok := r.match(normalized, lower); ok {
			return intent
		}
	}
	return model.Intent{Name: IntentHelp, Params: map[string]any{}}
}

// RuleNames lists the rule table in evaluation order.
func RuleNames() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}

func normalize(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// SanitizeHint collapses whitespace and strips trailing punctuation from a
// client or brand name hint.
func SanitizeHint(s string) string {
	s = normalize(s)
	s = strings.TrimRight(s, "?!.,:;")
	return strings.TrimSpace(s)
}

func intent(name string, kv ...any) model.Intent {
	params := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		switch v := kv[i+1].(type) {
		case string:
			if v != "" {
				params[key] = v
			}
		default:
			params[key] = v
		}
	}
	return model.Intent{Name: name, Params: params}
}

// group returns submatch i of m sliced from the original (case-preserving)
// text, or "" if it did not participate.
func group(text string, idx []int, i int) string {
	if 2*i+1 >= len(idx) || idx[2*i] < 0 {
		return ""
	}
	return text[idx[2*i]:idx[2*i+1]]
}

var switchRe = regexp.MustCompile(`^(?:switch to|work on)\s+(.+)$`)

func matchSwitchClient(text, lower string) (model.Intent, bool) {
	idx := switchRe.FindStringSubmatchIndex(lower)
	if idx == nil {
		return model.Intent{}, false
	}
	name := SanitizeHint(group(text, idx, 1))
	if name == "" {
		return model.Intent{}, false
	}
	return intent(IntentSwitchClient, "client_name", name), true
}

var (
	setDefaultRes = []*regexp.Regexp{
		regexp.MustCompile(`^(?:set|make|change|update)\s+(?:my\s+)?default\s+client\s+(?:to|as|=)\s*(.+)$`),
		regexp.MustCompile(`^(?:set|make|use)\s+(.+?)\s+(?:as\s+)?my\s+default(?:\s+client)?$`),
		regexp.MustCompile(`^my\s+default\s+client\s+is\s+(.+)$`),
	}
	clearDefaultsRe = regexp.MustCompile(`^(?:clear|reset|remove|forget)\s+(?:my\s+)?defaults?(?:\s+client)?$`)
)

func matchPreferences(_, lower string) (model.Intent, bool) {
	for _, re := range setDefaultRes {
		if m := re.FindStringSubmatch(lower); m != nil {
			name := SanitizeHint(m[1])
			if name == "" {
				continue
			}
			return intent(IntentSetDefaultClient, "client_name", name), true
		}
	}
	if clearDefaultsRe.MatchString(strings.TrimRight(lower, "?!.,:;")) {
		return intent(IntentClearDefaults), true
	}
	return model.Intent{}, false
}

var createTaskRe = regexp.MustCompile(`^(?:create|add|new)\s+(?:a\s+)?tasks?(?:$|[\s:])`)

var forTitleRe = regexp.MustCompile(`^for\s+([^:]+?)\s*(?::\s*(.*))?$`)

func matchCreateTask(text, lower string) (model.Intent, bool) {
	loc := createTaskRe.FindStringIndex(lower)
	if loc == nil {
		return model.Intent{}, false
	}
	// The delimiter (space or colon) is part of the match; step back over a
	// colon so the title branch below sees it.
	end := loc[1]
	if end > 0 && lower[end-1] == ':' {
		end--
	}
	rest := strings.TrimSpace(text[end:])
	restLower := strings.TrimSpace(lower[end:])

	var client, title string
	switch {
	case strings.HasPrefix(restLower, "for "):
		if idx := forTitleRe.FindStringSubmatchIndex(restLower); idx != nil {
			client = group(rest, idx, 1)
			title = group(rest, idx, 2)
		}
	case strings.HasPrefix(rest, ":"):
		title = rest[1:]
	default:
		title = strings.TrimPrefix(rest, "to ")
	}
	return intent(IntentCreateTask, "client_name", SanitizeHint(client), "task_title", strings.TrimSpace(title)), true
}

var (
	taskListRe  = regexp.MustCompile(`^(?:(?:show|list|get|what are|what's|whats|see)\s+)?(?:(?:me|my|the|all|our)\s+)*(?:weekly\s+|open\s+)?tasks?\b(.*)$`)
	lastDaysRe  = regexp.MustCompile(`\b(?:in\s+the\s+)?(?:last|past)\s+(\d+)\s+days?\b`)
	thisMonthRe = regexp.MustCompile(`\bthis\s+month\b`)
	thisWeekRe  = regexp.MustCompile(`\bthis\s+week\b`)
	forClientRe = regexp.MustCompile(`(?:^|\s)for\s+(.+)$`)
)

func matchTaskList(text, lower string) (model.Intent, bool) {
	idx := taskListRe.FindStringSubmatchIndex(lower)
	if idx == nil {
		return model.Intent{}, false
	}
	tailStart := idx[2]
	tail := lower[tailStart:]
	origTail := text[tailStart:]

	window, days := WindowWeek, defaultWindowDays
	if m := lastDaysRe.FindStringSubmatchIndex(tail); m != nil {
		if n, err := strconv.Atoi(tail[m[2]:m[3]]); err == nil && n >= 1 && n <= maxWindowDays {
			window, days = WindowDays, n
		}
		tail, origTail = cut(tail, origTail, m[0], m[1])
	} else if m := thisMonthRe.FindStringIndex(tail); m != nil {
		window, days = WindowMonth, monthWindowDays
		tail, origTail = cut(tail, origTail, m[0], m[1])
	} else if m := thisWeekRe.FindStringIndex(tail); m != nil {
		tail, origTail = cut(tail, origTail, m[0], m[1])
	}

	// Anything left must be empty or a "for CLIENT" hint; otherwise this is
	// not a task-list query.
	client := ""
	if m := forClientRe.FindStringSubmatchIndex(tail); m != nil {
		client = SanitizeHint(stripWindowWords(origTail[m[2]:m[3]]))
		tail = tail[:m[0]]
	}
	if strings.TrimSpace(strings.Trim(tail, "?!.,:;")) != "" {
		return model.Intent{}, false
	}
	return intent(IntentWeeklyTasks, "client_name", client, "window", window, "days", days), true
}

func cut(lower, orig string, start, end int) (string, string) {
	return lower[:start] + " " + lower[end:], orig[:start] + " " + orig[end:]
}

var trailingWindowRe = regexp.MustCompile(`(?i)\s+(?:this\s+(?:week|month)|(?:in\s+the\s+)?(?:last|past)\s+\d+\s+days?|today|lately|recently)\s*[?!.,:;]*$`)

func stripWindowWords(s string) string {
	for {
		next := trailingWindowRe.ReplaceAllString(s, "")
		if next == s {
			return s
		}
		s = next
	}
}

var confirmPhrases = map[string]bool{
	"create anyway":             true,
	"create it anyway":          true,
	"yes create it":             true,
	"yes create":                true,
	"yes please create it":      true,
	"create it":                 true,
	"confirm":                   true,
	"confirm create":            true,
	"go ahead":                  true,
	"go ahead and create it":    true,
	"yes go ahead":              true,
	"create without asin":       true,
	"create it without an asin": true,
}

var punctRe = regexp.MustCompile(`[^a-z0-9 ]+`)

func matchConfirmDraft(_, lower string) (model.Intent, bool) {
	key := normalize(punctRe.ReplaceAllString(lower, " "))
	if confirmPhrases[key] {
		return intent(IntentConfirmDraftTask), true
	}
	return model.Intent{}, false
}

// keywordRule maps any of its phrases (substring match) to an intent.
type keywordRule struct {
	intent  string
	phrases []string
}

var commandCenterReads = []keywordRule{
	{IntentMappingAudit, []string{"mapping audit", "audit mapping", "audit brand mapping", "audit the brand mapping", "brand mapping audit"}},
	{IntentBrandList, []string{"list brands", "show brands", "list the brands", "show the brands", "which brands", "what brands"}},
	{IntentClientLookup, []string{"client lookup", "lookup client", "look up client", "find client", "who works on", "who is on"}},
}

var remediation = []keywordRule{
	{IntentRemediationApply, []string{"apply remediation", "remediation apply", "apply brand mapping fix", "apply mapping fix", "fix brand mapping"}},
	{IntentRemediationPreview, []string{"preview remediation", "remediation preview", "preview brand mapping fix", "preview mapping fix", "remediate brand mapping"}},
}

var forSuffixRe = regexp.MustCompile(`^\s*(?:for|on)\s+(.+)$`)

// matchKeyword finds the first phrase contained in lower and returns the
// original-case text that follows it.
func matchKeyword(table []keywordRule, text, lower string) (string, string, bool) {
	for _, kr := range table {
		for _, p := range kr.phrases {
			if i := strings.Index(lower, p); i >= 0 {
				return kr.intent, text[i+len(p):], true
			}
		}
	}
	return "", "", false
}

func matchCommandCenterReads(text, lower string) (model.Intent, bool) {
	name, tail, ok := matchKeyword(commandCenterReads, text, lower)
	if !ok {
		return model.Intent{}, false
	}
	switch name {
	case IntentClientLookup:
		query := strings.TrimSpace(tail)
		if m := forSuffixRe.FindStringSubmatch(query); m != nil {
			query = m[1]
		}
		return intent(name, "query", SanitizeHint(query)), true
	case IntentBrandList:
		return intent(name, "client_name", forSuffix(tail)), true
	default:
		return intent(name), true
	}
}

func matchRemediation(text, lower string) (model.Intent, bool) {
	name, tail, ok := matchKeyword(remediation, text, lower)
	if !ok {
		return model.Intent{}, false
	}
	return intent(name, "client_name", forSuffix(tail)), true
}

func forSuffix(tail string) string {
	if m := forSuffixRe.FindStringSubmatch(tail); m != nil {
		return SanitizeHint(m[1])
	}
	return ""
}

var (
	assignRe   = regexp.MustCompile(`^(?:assign|make|set)\s+(.+?)\s+(?:as|to)\s+(?:the\s+|an?\s+)?(.+?)(?:\s+(?:on|for)\s+(.+))?$`)
	unassignRe = regexp.MustCompile(`^(?:remove|unassign)\s+(.+?)\s+(?:from|as)\s+(?:the\s+|an?\s+)?(.+?)(?:\s+(?:on|for)\s+(.+))?$`)
)

func matchAssignments(text, lower string) (model.Intent, bool) {
	for _, c := range []struct {
		re   *regexp.Regexp
		name string
	}{{assignRe, IntentAssignmentUpsert}, {unassignRe, IntentAssignmentRemove}} {
		idx := c.re.FindStringSubmatchIndex(lower)
		if idx == nil {
			continue
		}
		person := SanitizeHint(group(text, idx, 1))
		role := strings.ToLower(SanitizeHint(group(text, idx, 2)))
		if person == "" || role == "" {
			continue
		}
		return intent(c.name, "person", person, "role", role, "client_name", SanitizeHint(group(text, idx, 3))), true
	}
	return model.Intent{}, false
}

var (
	brandCreateRe = regexp.MustCompile(`^(?:create|add|new)\s+brand\s+(.+?)\s+(?:for|under|on)\s+(.+)$`)
	brandUpdateRe = regexp.MustCompile(`^(?:update|edit|rename)\s+brand\s+(.+?)(?:\s+(?:for|under|on)\s+(.+?))?(?:\s+to\s+(.+))?$`)
)

func matchBrandWrites(text, lower string) (model.Intent, bool) {
	if idx := brandCreateRe.FindStringSubmatchIndex(lower); idx != nil {
		return intent(IntentBrandCreate,
			"brand_name", SanitizeHint(group(text, idx, 1)),
			"client_name", SanitizeHint(group(text, idx, 2)),
		), true
	}
	if idx := brandUpdateRe.FindStringSubmatchIndex(lower); idx != nil {
		return intent(IntentBrandUpdate,
			"brand_name", SanitizeHint(group(text, idx, 1)),
			"client_name", SanitizeHint(group(text, idx, 2)),
			"new_name", SanitizeHint(group(text, idx, 3)),
		), true
	}
	return model.Intent{}, false
}
