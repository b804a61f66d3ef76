package grading

import (
	_ "embed"
	"strconv"
	"strings"
)

var (
	//go:embed prompts/evaluator.md
	evaluatorPrompt string
	//go:embed prompts/evaluation_request.md
	evaluationRequestTemplate string
	//go:embed prompts/model_answer.md
	modelAnswerPrompt string
	//go:embed prompts/rubric.md
	rubricPrompt string
)

func buildModelAnswerRequest(question string, marks *int) string {
	var b strings.Builder
	b.WriteString("Assignment Question: ")
	b.WriteString(question)
	if marks != nil && *marks > 0 {
		b.WriteString("\n\nThis assignment is worth ")
		b.WriteString(strconv.Itoa(*marks))
		b.WriteString(" marks in total.")
	}
	b.WriteString("\n\nPlease provide a detailed model answer that demonstrates mastery of the subject matter.")
	return b.String()
}

func buildRubricRequest(question string, marks *int) string {
	var b strings.Builder
	b.WriteString("Assignment Question: ")
	b.WriteString(question)
	if marks != nil && *marks > 0 {
		b.WriteString("\n\nThis assignment is worth ")
		b.WriteString(strconv.Itoa(*marks))
		b.WriteString(" marks in total. Please distribute these marks across appropriate criteria in your rubric.")
	}
	return b.String()
}

func buildEvaluationRequest(ev *Evaluation) string {
	template := evaluationRequestTemplate
	if strings.TrimSpace(template) == "" {
		template = "Assignment Question: {{QUESTION}}\n\nStudent's Answer: {{ANSWER}}\n\n{{MARKS}}{{MODEL_ANSWER}}{{RUBRIC}}"
	}

	var marks string
	if ev.TotalMarks != nil {
		marks = "Total marks available: " + strconv.Itoa(*ev.TotalMarks) + "\n\n"
	}

	var modelAnswer string
	if strings.TrimSpace(ev.ModelAnswer) != "" {
		modelAnswer = "Model Answer (reference only, do not mention this directly to the student): " + ev.ModelAnswer + "\n\n"
	}

	rubric := "No rubric provided. Please create and use a suitable rubric based on the subject matter and academic level before evaluation."
	if strings.TrimSpace(ev.Rubric) != "" {
		rubric = "Rubric: " + ev.Rubric + "\n\nPlease evaluate strictly according to the provided rubric."
	}

	replacer := strings.NewReplacer(
		"{{QUESTION}}", ev.Question,
		"{{ANSWER}}", ev.Answer,
		"{{MARKS}}", marks,
		"{{MODEL_ANSWER}}", modelAnswer,
		"{{RUBRIC}}", rubric,
	)
	return replacer.Replace(template)
}
