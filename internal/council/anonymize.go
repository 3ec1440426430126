package council

import (
	"fmt"
	"strings"
)

// Criteria is the fixed rubric every evaluator scores against. Order
// matters: the ranking prompt lists them in this order and the parser sums
// whatever subset it finds.
var Criteria = []string{"Accuracy", "Completeness", "Clarity", "Insight", "Conciseness"}

// Label returns the anonymized name for the i-th Stage 1 result:
// "Response A", "Response B", ... Labels are assigned by array order, never
// by completion time, so they are stable across re-reads of the same run.
func Label(i int) string {
	return fmt.Sprintf("Response %s", string(rune('A'+i)))
}

// RankingPrompt is the anonymizer's output: one prompt shared by every peer
// evaluator, plus the label map kept for the rest of the run.
type RankingPrompt struct {
	Prompt       string
	LabelToModel map[string]string
}

// BuildRankingPrompt assigns a label to each Stage 1 result and renders the
// peer-ranking prompt. Provider identity never appears in the prompt; the
// returned LabelToModel map is the only way to get it back, and the same
// map must be reused for every evaluator in the run.
func BuildRankingPrompt(query string, stage1 []Stage1Result) RankingPrompt {
	labelToModel := make(map[string]string, len(stage1))
	var responsesText strings.Builder

	for i, result := range stage1 {
		label := Label(i)
		labelToModel[label] = result.Model
		responsesText.WriteString(fmt.Sprintf("%s:\n%s\n\n", label, result.Response))
	}

	prompt := fmt.Sprintf(`You are evaluating different responses to the following question:

Question: %s

Here are the responses from different models (anonymized):

%s

Score each response on these criteria, each from 1 to 5:
%s

A score of 3 means baseline/acceptable. Whenever you give a score other
than 3, you MUST briefly justify why it deserves to be above or below the
baseline.

For EACH response, produce a section formatted EXACTLY like this:

## Response X

Accuracy: <score> - <one-line assessment>
Completeness: <score> - <one-line assessment>
Clarity: <score> - <one-line assessment>
Insight: <score> - <one-line assessment>
Conciseness: <score> - <one-line assessment>

Strengths:
- <specific strength>

Weaknesses:
- <specific weakness>

Points Added:
- <anything that earned extra credit>

Points Docked:
- <anything that lost points>

Total: <sum of the five scores>

After all sections, finish with the line "FINAL RANKING:" followed by a
numbered list from best to worst, one label per line, e.g.:

FINAL RANKING:
1. Response B
2. Response A

Now provide your evaluation and ranking:`, query, responsesText.String(), "- "+strings.Join(Criteria, "\n- "))

	return RankingPrompt{Prompt: prompt, LabelToModel: labelToModel}
}

// orderedLabels returns the map's labels in assignment order (A, B, C...).
func orderedLabels(labelToModel map[string]string) []string {
	labels := make([]string, 0, len(labelToModel))
	for i := 0; i < len(labelToModel); i++ {
		label := Label(i)
		if _, ok := labelToModel[label]; !ok {
			break
		}
		labels = append(labels, label)
	}
	return labels
}

// Deanonymize replaces each label with its model identifier. Used when
// rendering Stage 2 text for display and when building the synthesis
// prompt; anonymity only applies during ranking.
func Deanonymize(text string, labelToModel map[string]string) string {
	pairs := make([]string, 0, len(labelToModel)*2)
	for _, label := range orderedLabels(labelToModel) {
		pairs = append(pairs, label, labelToModel[label])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Reanonymize is the inverse of Deanonymize. On any text that does not
// already contain a different model's name, deanonymizing then
// reanonymizing is an identity.
func Reanonymize(text string, labelToModel map[string]string) string {
	pairs := make([]string, 0, len(labelToModel)*2)
	for _, label := range orderedLabels(labelToModel) {
		pairs = append(pairs, labelToModel[label], label)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
