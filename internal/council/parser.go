package council

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Patterns for the structured block agreed by the ranking prompt template.
// Evaluators follow the template loosely at best, so every pattern accepts
// the common markdown variations (heading hashes, bold markers, bullets).
var (
	sectionHeaderPattern = regexp.MustCompile(`(?m)^\s*(?:#{1,6}\s*|\*\*)?(Response [A-Z])\b(?:\*\*|:)?\s*$`)
	criterionPattern     = regexp.MustCompile(`(?mi)^\s*[-*]?\s*\**([A-Za-z][A-Za-z ]*?)\**\s*:\s*\**([1-5])\**(?:\s*/\s*5)?\s*(?:[-–—]{1,2}\s*(.*?)\s*)?$`)
	bucketPattern        = regexp.MustCompile(`(?i)^\s*\**(Strengths|Weaknesses|Points Added|Points Docked)\**:?\**\s*$`)
	bulletPattern        = regexp.MustCompile(`^\s*[-*•]\s+(.+?)\s*$`)
	rankedEntryPattern   = regexp.MustCompile(`\d+\.\s*Response [A-Z]`)
	labelPattern         = regexp.MustCompile(`Response [A-Z]`)
	finalRankingPattern  = regexp.MustCompile(`(?i)FINAL RANKING:?`)
)

// ParseStage2 turns one evaluator's raw ranking text into structured
// evaluations plus an ordered best-to-worst label list. When nothing
// parses, the evaluations come back empty and the caller keeps the raw
// text; that is the contract's fallback path, not a failure.
func ParseStage2(raw string, labels []string) ([]ResponseEvaluation, []string) {
	evaluations := parseEvaluations(raw, labels)

	// Only an explicit FINAL RANKING section counts as the evaluator's own
	// ordering. Without one, parsed scores decide; the mention-order scan
	// is reserved for fully unstructured text.
	ranking, _ := explicitRanking(raw, labels)
	if len(ranking) == 0 {
		if len(evaluations) > 0 {
			ranking = rankingFromScores(evaluations)
		} else {
			ranking = filterLabels(labelPattern.FindAllString(raw, -1), labels)
		}
	}
	return evaluations, ranking
}

// parseEvaluations locates each label's section by header match and
// extracts criterion scores and bullet lists from it. Labels whose section
// is missing or empty are simply absent from the result.
func parseEvaluations(raw string, labels []string) []ResponseEvaluation {
	known := make(map[string]bool, len(labels))
	for _, l := range labels {
		known[l] = true
	}

	matches := sectionHeaderPattern.FindAllStringSubmatchIndex(raw, -1)
	var evaluations []ResponseEvaluation

	for i, m := range matches {
		label := raw[m[2]:m[3]]
		if len(known) > 0 && !known[label] {
			continue
		}

		start := m[1]
		end := len(raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		section := raw[start:end]

		// The final ranking list is not part of any label's section.
		if loc := finalRankingPattern.FindStringIndex(section); loc != nil {
			section = section[:loc[0]]
		}

		eval := parseSection(label, section)
		if len(eval.Scores) > 0 || len(eval.Strengths) > 0 || len(eval.Weaknesses) > 0 ||
			len(eval.PointsAdded) > 0 || len(eval.PointsDocked) > 0 {
			evaluations = append(evaluations, eval)
		}
	}
	return evaluations
}

// parseSection walks one label's section line by line, picking up
// criterion scores and routing bullets into whichever list header was seen
// last.
func parseSection(label, section string) ResponseEvaluation {
	eval := ResponseEvaluation{ResponseLabel: label}
	bucket := ""

	for _, line := range strings.Split(section, "\n") {
		if m := criterionPattern.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[1])
			if !strings.EqualFold(name, "Total") && isCriterion(name) {
				score, _ := strconv.Atoi(m[2])
				eval.Scores = append(eval.Scores, CriterionScore{
					Criterion:  name,
					Score:      score,
					Assessment: strings.TrimSpace(m[3]),
				})
				// Sum parsed components instead of trusting the model's
				// own Total line; arithmetic slips are common.
				eval.TotalScore += score
				continue
			}
		}

		if m := bucketPattern.FindStringSubmatch(line); m != nil {
			bucket = strings.ToLower(m[1])
			continue
		}

		if m := bulletPattern.FindStringSubmatch(line); m != nil && bucket != "" {
			item := m[1]
			switch bucket {
			case "strengths":
				eval.Strengths = append(eval.Strengths, item)
			case "weaknesses":
				eval.Weaknesses = append(eval.Weaknesses, item)
			case "points added":
				eval.PointsAdded = append(eval.PointsAdded, item)
			case "points docked":
				eval.PointsDocked = append(eval.PointsDocked, item)
			}
		}
	}
	return eval
}

func isCriterion(name string) bool {
	for _, c := range Criteria {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// ParseRanking extracts the ordered best-to-worst label list from a raw
// ranking response. It prefers the explicit "FINAL RANKING:" numbered
// list, then any labels inside that section, then any labels anywhere in
// the text. Duplicates keep their first position; unknown labels are
// dropped when the run's label set is known.
func ParseRanking(raw string, labels []string) []string {
	if ranking, explicit := explicitRanking(raw, labels); explicit {
		return ranking
	}
	return filterLabels(labelPattern.FindAllString(raw, -1), labels)
}

// explicitRanking reads the labels out of the "FINAL RANKING:" section,
// preferring its numbered entries. The second return reports whether the
// section was present at all.
func explicitRanking(raw string, labels []string) ([]string, bool) {
	loc := finalRankingPattern.FindStringIndex(raw)
	if loc == nil {
		return nil, false
	}
	section := raw[loc[1]:]
	if numbered := rankedEntryPattern.FindAllString(section, -1); len(numbered) > 0 {
		var results []string
		for _, entry := range numbered {
			results = append(results, labelPattern.FindString(entry))
		}
		return filterLabels(results, labels), true
	}
	return filterLabels(labelPattern.FindAllString(section, -1), labels), true
}

// filterLabels dedupes (first occurrence wins) and restricts to the run's
// known labels when they are provided.
func filterLabels(found, labels []string) []string {
	known := make(map[string]bool, len(labels))
	for _, l := range labels {
		known[l] = true
	}

	seen := make(map[string]bool, len(found))
	var out []string
	for _, label := range found {
		if seen[label] {
			continue
		}
		if len(known) > 0 && !known[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	return out
}

// rankingFromScores derives an ordering when the evaluator skipped the
// explicit ranking list: labels sorted by total score descending, ties
// broken by first appearance (stable sort).
func rankingFromScores(evaluations []ResponseEvaluation) []string {
	ordered := make([]ResponseEvaluation, len(evaluations))
	copy(ordered, evaluations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TotalScore > ordered[j].TotalScore
	})

	ranking := make([]string, len(ordered))
	for i, eval := range ordered {
		ranking[i] = eval.ResponseLabel
	}
	return ranking
}
