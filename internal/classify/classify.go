// Package classify is the rule-based intent tagger. It decides, before any
// model call, whether a message is ignored (skip), archived for retrieval
// (passive), or processed end to end (active).
package classify

import (
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// Intent is the coarse processing decision for an inbound message.
type Intent string

const (
	Skip    Intent = "skip"
	Passive Intent = "passive"
	Active  Intent = "active"
)

// rank orders intents so that signal application can only upgrade.
func rank(i Intent) int {
	switch i {
	case Passive:
		return 1
	case Active:
		return 2
	default:
		return 0
	}
}

// Result is the classifier output. Confidence is a heuristic in [0,1].
// FlowOnly marks messages that bypass the intent router but still run
// flow-trigger matching.
type Result struct {
	Intent     Intent
	Confidence float64
	Reason     string
	FlowOnly   bool
}

// Classifier holds the source lists the tagger matches against.
type Classifier struct {
	passiveSources []string
	skipSources    []string
	agentNames     []string
}

func New(passiveSources, skipSources []string) *Classifier {
	return &Classifier{
		passiveSources: lowerAll(passiveSources),
		skipSources:    lowerAll(skipSources),
	}
}

// SetAgentNames registers names that, when @-mentioned, force active intent.
func (c *Classifier) SetAgentNames(names []string) {
	c.agentNames = lowerAll(names)
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}

var (
	commandRe = regexp.MustCompile(`^/[a-zA-Z]`)
	// Help words across the languages the assistant is deployed in.
	helpRe    = regexp.MustCompile(`(?i)\b(help|ayuda|aide|hilfe|ajuda|aiuto|tr\x{1ee3} gi\x{00fa}p|\x{043f}\x{043e}\x{043c}\x{043e}\x{0449}\x{044c})\b`)
	urlOnlyRe = regexp.MustCompile(`^https?://\S+$`)
)

// Classify tags one message. The agent record, when present, carries
// per-agent overrides that win over source and content signals.
func (c *Classifier) Classify(msg *bus.Message, agent *store.AgentRecord) Result {
	if msg.FromMe {
		return Result{Intent: Skip, Confidence: 1.0, Reason: "self_message"}
	}

	source := strings.ToLower(msg.From)
	if msg.IsGroup && msg.GroupID != "" {
		source = strings.ToLower(msg.GroupID)
	}

	if agent != nil {
		switch agent.ProcessingMode {
		case "disabled":
			return Result{Intent: Skip, Confidence: 1.0, Reason: "agent_disabled"}
		case "passive":
			return Result{Intent: Passive, Confidence: 0.95, Reason: "agent_passive"}
		case "flow_only":
			return Result{Intent: Active, Confidence: 0.95, Reason: "agent_flow_only", FlowOnly: true}
		}
		for _, s := range agent.SkipSources {
			if s != "" && strings.HasSuffix(source, strings.ToLower(s)) {
				return Result{Intent: Skip, Confidence: 0.95, Reason: "agent_skip_source"}
			}
		}
	}

	for _, s := range c.skipSources {
		if s != "" && strings.HasSuffix(source, s) {
			return Result{Intent: Skip, Confidence: 0.95, Reason: "skip_source"}
		}
	}

	res := c.bySource(source, msg.IsGroup)
	res = c.applyContentSignals(res, msg)
	return res
}

func (c *Classifier) bySource(source string, isGroup bool) Result {
	for _, s := range c.passiveSources {
		if s != "" && strings.HasSuffix(source, s) {
			return Result{Intent: Passive, Confidence: 0.9, Reason: "passive_source"}
		}
	}
	if isGroup {
		// Groups are undecided by source alone; content signals settle it.
		return Result{Intent: Passive, Confidence: 0.5, Reason: "group_default"}
	}
	return Result{Intent: Active, Confidence: 0.8, Reason: "direct_message"}
}

// applyContentSignals upgrades intent from content. Downgrades never happen:
// passive reinforcement only raises confidence when already passive.
func (c *Classifier) applyContentSignals(res Result, msg *bus.Message) Result {
	text := strings.TrimSpace(msg.Content)
	lower := strings.ToLower(text)

	upgrade := func(conf float64, reason string) {
		if rank(Active) > rank(res.Intent) || conf > res.Confidence {
			res = Result{Intent: Active, Confidence: conf, Reason: reason}
		}
	}

	switch {
	case commandRe.MatchString(text):
		upgrade(0.95, "command_prefix")
	case strings.HasSuffix(text, "?") || strings.HasPrefix(text, "?"):
		upgrade(0.85, "question_mark")
	case helpRe.MatchString(text):
		upgrade(0.85, "help_word")
	}
	for _, name := range c.agentNames {
		if name != "" && strings.Contains(lower, "@"+name) {
			upgrade(0.9, "agent_mention")
		}
	}

	if res.Intent == Passive {
		switch {
		case urlOnlyRe.MatchString(text):
			res.Confidence = max(res.Confidence, 0.85)
			res.Reason = "url_only"
		case strings.HasPrefix(lower, "forwarded") || strings.HasPrefix(lower, "fwd:"):
			res.Confidence = max(res.Confidence, 0.8)
			res.Reason = "forwarded"
		case strings.Contains(text, "\U0001F4E2") || strings.HasPrefix(lower, "[broadcast]"):
			res.Confidence = max(res.Confidence, 0.8)
			res.Reason = "broadcast_marker"
		}
	}
	return res
}
