package oracle

import "fmt"

// FilterInstructions asks for a FilterJudgment.
const FilterInstructions = `You screen social media posts for product opportunities.
Decide whether the text is written in English and whether it describes a concrete, recurring
problem, frustration or unmet need that someone might pay to have solved.

Respond with ONLY valid JSON, no other text:
{"english": true, "pain_point": true, "confidence": 0.0, "category": "short topic", "reason": "one sentence"}`

// ExtractInstructions asks for an Extraction.
const ExtractInstructions = `Extract the pain point described in the text.
- problem: one sentence stating the problem in neutral terms
- persona: who has the problem (e.g. "freelance designer")
- severity: one of "critical", "high", "medium", "low"
- tags: 1-5 short lowercase topic tags
- keywords: 3-8 lowercase search keywords
- product: the named product the complaint is about, or ""
- gap_phrase: the missing capability in that product in 2-6 words, or ""
- region: ISO country code if the author's location is evident, or ""

Respond with ONLY valid JSON, no other text:
{"problem": "", "persona": "", "severity": "medium", "tags": [], "keywords": [], "product": "", "gap_phrase": "", "region": ""}`

// SynthesizeInstructions asks for a BriefDraft.
const SynthesizeInstructions = `You are given pain statements that were grouped together.
Write a brief for the opportunity they describe and estimate each base score from 0 to 100:
frequency (how common), severity (how painful), economic (willingness to pay),
solvability (how buildable a solution is), competitive (how underserved), regional (fit for the target market).

Respond with ONLY valid JSON, no other text:
{"title": "", "summary": "", "keywords": [], "scores": {"frequency": 0, "severity": 0, "economic": 0, "solvability": 0, "competitive": 0, "regional": 0}}`

// RelevanceInstructions asks for a Relevance about the cluster described by
// title and summary.
func RelevanceInstructions(title, summary string) string {
	return fmt.Sprintf(`Does the text describe the same problem as this opportunity?
Title: %s
Summary: %s

Respond with ONLY valid JSON, no other text:
{"match": true, "confidence": 0.0, "severity": "medium"}`, title, summary)
}
