// Package react implements a bounded think-act-observe loop: the model
// reasons in a fixed textual format, tool invocations feed observations back
// into the transcript, and the loop ends on a final answer or the iteration
// bound.
package react

import (
	"encoding/json"
	"regexp"
	"strings"
)

// DecisionKind discriminates the parsed forms of one model response.
type DecisionKind string

const (
	// DecisionFinalAnswer means the model is done and carries the answer.
	DecisionFinalAnswer DecisionKind = "final_answer"
	// DecisionToolAction means the model wants a tool invocation.
	DecisionToolAction DecisionKind = "tool_action"
	// DecisionUnparsed means the response did not follow the format. The
	// loop degrades by feeding a corrective observation back, not by
	// guessing at the model's intent.
	DecisionUnparsed DecisionKind = "unparsed"
)

// Decision is the parsed form of one model response. Exactly the fields for
// its Kind are populated.
type Decision struct {
	Kind    DecisionKind
	Thought string

	// DecisionFinalAnswer
	Answer string

	// DecisionToolAction
	ToolName  string
	ToolInput map[string]interface{}

	// DecisionUnparsed
	Raw string
}

// finalAnswerAction is the sentinel action name that ends the loop.
const finalAnswerAction = "Final Answer"

var (
	thoughtPattern     = regexp.MustCompile(`(?i)Thought:\s*(.+)`)
	actionPattern      = regexp.MustCompile(`(?i)Action:\s*(.+)`)
	actionInputPattern = regexp.MustCompile(`(?is)Action Input:\s*(\{.+\})`)
)

// ParseDecision parses one model response. Responses that carry no
// recognizable action, or an action input that is not a JSON object, come
// back as DecisionUnparsed.
func ParseDecision(response string) Decision {
	thought := ""
	if m := thoughtPattern.FindStringSubmatch(response); m != nil {
		thought = strings.TrimSpace(m[1])
	}

	actionMatch := actionPattern.FindStringSubmatch(response)
	if actionMatch == nil {
		return unparsedDecision(response, thought)
	}
	action := strings.TrimSpace(actionMatch[1])

	inputMatch := actionInputPattern.FindStringSubmatch(response)
	if inputMatch == nil {
		return unparsedDecision(response, thought)
	}

	var input map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inputMatch[1])), &input); err != nil {
		return unparsedDecision(response, thought)
	}

	if strings.EqualFold(action, finalAnswerAction) {
		answer, _ := input["answer"].(string)
		return Decision{Kind: DecisionFinalAnswer, Thought: thought, Answer: answer}
	}

	return Decision{
		Kind:      DecisionToolAction,
		Thought:   thought,
		ToolName:  action,
		ToolInput: input,
	}
}

// unparsedDecision degrades a malformed response. With no Thought line to
// extract, the whole response becomes the thought so its content survives in
// the transcript for the next reasoning call.
func unparsedDecision(response, thought string) Decision {
	if thought == "" {
		thought = strings.TrimSpace(response)
	}
	return Decision{Kind: DecisionUnparsed, Thought: thought, Raw: response}
}
