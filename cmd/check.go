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

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/grader/internal/extract"
	"github.com/spigell/grader/internal/grading"
	"github.com/spigell/grader/internal/storage"
)

var errNoAssignment = errors.New("assignment is required: pass --assignment or store some answers first")

var checkCmd = &cobra.Command{
	Use:   "check FILE",
	Short: "Check a submission for plagiarism against stored peer answers",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		check(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringP("assignment", "a", "", "assignment ID (asked interactively when empty)")
	checkCmd.Flags().StringP("student", "s", "", "student ID of the submission")
	checkCmd.Flags().Bool("save", false, "add the submission to the peer corpus")
	checkCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before saving")
	checkCmd.Flags().Bool("output-json", false, "print the result as JSON")
}

func check(cmd *cobra.Command, path string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	text, err := extract.FromFile(path)
	if err != nil {
		logger.Fatal("reading the submission", zap.String("file", path), zap.Error(err))
	}

	a, err := newApplication(ctx, logger, false, false)
	if err != nil {
		logger.Fatal("preparing the grader", zap.Error(err))
	}
	defer a.Close()

	flags := cmd.Flags()
	assignment, _ := flags.GetString("assignment")
	student, _ := flags.GetString("student")
	save, _ := flags.GetBool("save")
	autoApprove, _ := flags.GetBool("auto-approve")

	if strings.TrimSpace(assignment) == "" {
		assignment, err = selectAssignment(ctx, a.store)
		if err != nil {
			logger.Fatal("choosing an assignment", zap.Error(err))
		}
	}

	if save && !autoApprove {
		save = confirm(fmt.Sprintf("Add %s to the peer answers of %s", path, assignment))
		if !save {
			logger.Info("the submission will not be saved", zap.String("reason", "got no from prompt"))
		}
	}

	result, err := a.evaluator.Check(ctx, grading.CheckRequest{
		AssignmentID: assignment,
		StudentID:    student,
		Text:         text,
		Save:         save,
	})
	if err != nil {
		logger.Fatal("checking the submission", zap.Error(err))
	}

	if asJSON, _ := flags.GetBool("output-json"); asJSON {
		pretty, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(pretty))
		return
	}
	fmt.Print(grading.CheckReport(result))
}

func selectAssignment(ctx context.Context, store storage.Store) (string, error) {
	assignments, err := store.Assignments(ctx)
	if err != nil {
		return "", err
	}
	if len(assignments) == 0 {
		return "", errNoAssignment
	}

	assignmentPrompt := promptui.Select{
		Label: "Choose an assignment and press ENTER",
		Items: assignments,
	}

	_, selected, err := assignmentPrompt.Run()
	if err != nil {
		return "", err
	}
	return selected, nil
}

func confirm(label string) bool {
	confirmPrompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	_, err := confirmPrompt.Run()
	return err == nil
}
