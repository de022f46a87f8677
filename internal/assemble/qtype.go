package assemble

import (
	"regexp"

	"github.com/local/questionextractor/internal/model"
)

var answerKeywords = regexp.MustCompile(`(?i)\b(explain|describe|define|state|evaluate|calculate|find|determine|solve|show|prove)\b`)

// QuestionType derives the coarse type of a node.
func QuestionType(n *model.QuestionNode) model.QuestionType {
	switch {
	case n.MCQ():
		return model.TypeMCQ
	case len(n.Children) > 0:
		return model.TypeMultiPart
	case answerKeywords.MatchString(n.Text):
		return model.TypeShortAnswer
	default:
		return model.TypeMisc
	}
}
