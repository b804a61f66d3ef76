package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/grader/internal/extract"
	"github.com/spigell/grader/internal/grading"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one answer and print the report",
	Run: func(cmd *cobra.Command, _ []string) {
		evaluate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringP("question", "q", "", "assignment question text")
	evaluateCmd.Flags().String("question-file", "", "file with the assignment question")
	evaluateCmd.Flags().StringP("answer-file", "f", "", "file with the student answer (.txt, .md, .pdf, .docx)")
	evaluateCmd.Flags().String("model-answer-file", "", "file with a model answer to use instead of the stored or generated one")
	evaluateCmd.Flags().String("rubric-file", "", "file with a rubric to use instead of the stored or generated one")
	evaluateCmd.Flags().StringP("assignment", "a", "", "assignment ID (default is derived from the question)")
	evaluateCmd.Flags().StringP("student", "s", "", "student ID (default is an anonymous ID)")
	evaluateCmd.Flags().IntP("marks", "m", 0, "total marks available")
	evaluateCmd.Flags().Bool("output-json", false, "print the result as JSON")
}

func evaluate(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	req, err := evaluationRequest(cmd)
	if err != nil {
		logger.Fatal("reading the submission", zap.Error(err))
	}

	a, err := newApplication(ctx, logger, true, true)
	if err != nil {
		logger.Fatal("preparing the grader", zap.Error(err))
	}
	defer a.Close()

	result, err := a.evaluator.Evaluate(ctx, req)
	if err != nil {
		logger.Fatal("evaluating the answer", zap.Error(err))
	}

	if asJSON, _ := cmd.Flags().GetBool("output-json"); asJSON {
		pretty, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(pretty))
		return
	}
	fmt.Print(grading.Report(result))
}

func evaluationRequest(cmd *cobra.Command) (grading.Request, error) {
	flags := cmd.Flags()
	question, _ := flags.GetString("question")
	questionFile, _ := flags.GetString("question-file")
	answerFile, _ := flags.GetString("answer-file")
	modelAnswerFile, _ := flags.GetString("model-answer-file")
	rubricFile, _ := flags.GetString("rubric-file")
	assignment, _ := flags.GetString("assignment")
	student, _ := flags.GetString("student")
	marks, _ := flags.GetInt("marks")

	if strings.TrimSpace(question) == "" && questionFile != "" {
		text, err := extract.FromFile(questionFile)
		if err != nil {
			return grading.Request{}, err
		}
		question = text
	}
	if strings.TrimSpace(question) == "" {
		return grading.Request{}, errors.New("--question or --question-file is required")
	}
	if answerFile == "" {
		return grading.Request{}, errors.New("--answer-file is required")
	}

	answer, err := extract.FromFile(answerFile)
	if err != nil {
		return grading.Request{}, err
	}

	req := grading.Request{
		AssignmentID: assignment,
		StudentID:    student,
		Question:     question,
		Answer:       answer,
	}

	if modelAnswerFile != "" {
		if req.ModelAnswer, err = extract.FromFile(modelAnswerFile); err != nil {
			return grading.Request{}, err
		}
	}
	if rubricFile != "" {
		if req.Rubric, err = extract.FromFile(rubricFile); err != nil {
			return grading.Request{}, err
		}
	}
	if cmd.Flags().Changed("marks") {
		req.TotalMarks = &marks
	}

	return req, nil
}
