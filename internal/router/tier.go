// Package router routes model calls through tiered provider failover
// chains with health tracking and circuit breaking.
package router

import (
	"regexp"
	"strings"
)

// Tier buckets a task by how much model capability it needs.
type Tier string

const (
	TierTrivial  Tier = "TRIVIAL"
	TierSimple   Tier = "SIMPLE"
	TierModerate Tier = "MODERATE"
	TierComplex  Tier = "COMPLEX"
	TierCritical Tier = "CRITICAL"
)

// Classification is the task classifier output.
type Classification struct {
	Tier       Tier    `json:"tier"`
	Confidence float64 `json:"confidence"`
	Analysis   string  `json:"analysis"`
}

var (
	codeFenceRe = regexp.MustCompile("```")
	// Verbs that signal multi-step reasoning rather than lookup.
	reasoningRe = regexp.MustCompile(`(?i)\b(analyze|analyse|design|architect|refactor|implement|debug|prove|optimi[sz]e|compare|evaluate|plan)\b`)
	criticalRe  = regexp.MustCompile(`(?i)\b(production|critical|urgent|security|vulnerability|incident|outage|data loss)\b`)
	// Sentence-ish instruction separators.
	instructionRe = regexp.MustCompile(`(?m)(^\s*[-*\d]+[.)]\s+|\bthen\b|\bafter that\b|\bfinally\b)`)
)

// ClassifyTask assigns a tier from surface features of the task text:
// length, code fences, explicit complexity hints, reasoning verbs and
// instruction count.
func ClassifyTask(text string) Classification {
	trimmed := strings.TrimSpace(text)
	length := len(trimmed)

	score := 0
	var signals []string

	switch {
	case length > 2000:
		score += 3
		signals = append(signals, "very long")
	case length > 600:
		score += 2
		signals = append(signals, "long")
	case length > 200:
		score++
		signals = append(signals, "medium length")
	}

	// Fences outweigh any other single signal; fenced code plus a
	// reasoning verb is already COMPLEX territory.
	if codeFenceRe.MatchString(trimmed) {
		score += 3
		signals = append(signals, "code fences")
	}
	if reasoningRe.MatchString(trimmed) {
		score += 2
		signals = append(signals, "reasoning verbs")
	}
	if n := len(instructionRe.FindAllString(trimmed, -1)); n >= 2 {
		score += 2
		signals = append(signals, "multiple instructions")
	} else if n == 1 {
		score++
		signals = append(signals, "compound instruction")
	}

	critical := criticalRe.MatchString(trimmed)
	if critical {
		signals = append(signals, "critical keywords")
	}

	var tier Tier
	switch {
	case critical && score >= 3:
		tier = TierCritical
	case score >= 5:
		tier = TierComplex
	case score >= 3:
		tier = TierModerate
	case score >= 1:
		tier = TierSimple
	default:
		tier = TierTrivial
	}

	// Confidence is higher at the extremes; mid-range scores are fuzzier.
	confidence := 0.6
	switch tier {
	case TierTrivial, TierCritical:
		confidence = 0.85
	case TierComplex:
		confidence = 0.75
	}

	analysis := "no strong signals"
	if len(signals) > 0 {
		analysis = strings.Join(signals, ", ")
	}
	return Classification{Tier: tier, Confidence: confidence, Analysis: analysis}
}

// DefaultChains are used when no failover configuration row is active.
func DefaultChains() map[string][]string {
	return map[string][]string{
		string(TierTrivial):  {"local", "remote-free", "cli-opencode"},
		string(TierSimple):   {"remote-free", "local", "cli-opencode"},
		string(TierModerate): {"remote-free", "cli-opencode", "cli-gemini"},
		string(TierComplex):  {"cli-claude", "cli-gemini", "cli-opencode", "remote-free"},
		string(TierCritical): {"cli-claude", "cli-gemini", "cli-opencode", "remote-free"},
	}
}
