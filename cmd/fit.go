package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/grader/internal/extract"
	"github.com/spigell/grader/internal/model"
	"github.com/spigell/grader/internal/plagiarism"
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit the plagiarism vectorizer and classifier on labelled texts",
	Run: func(cmd *cobra.Command, _ []string) {
		fit(cmd)
	},
}

func init() {
	rootCmd.AddCommand(fitCmd)

	fitCmd.Flags().StringP("out", "o", "", "where to write the model (default is plagiarism.model-path)")
	fitCmd.Flags().String("original", "", "directory with original texts")
	fitCmd.Flags().String("plagiarized", "", "directory with plagiarized texts; enables classifier training")
	fitCmd.Flags().Int("epochs", 0, "training epochs (default 300)")
	fitCmd.Flags().Float64("learning-rate", 0, "training learning rate (default 0.5)")
	fitCmd.Flags().Float64("l2", 0, "L2 penalty")

	fitCmd.MarkFlagRequired("original")
}

func fit(cmd *cobra.Command) {
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	flags := cmd.Flags()
	out, _ := flags.GetString("out")
	originalDir, _ := flags.GetString("original")
	plagiarizedDir, _ := flags.GetString("plagiarized")
	epochs, _ := flags.GetInt("epochs")
	learningRate, _ := flags.GetFloat64("learning-rate")
	l2, _ := flags.GetFloat64("l2")

	if out == "" {
		out = config.Plagiarism.ModelPath
	}

	// Texts are normalized the same way the scorer normalizes submissions.
	normalizer := plagiarism.NewNormalizer(config.Plagiarism.Stem)

	originals, err := readTexts(originalDir, normalizer, logger)
	if err != nil {
		logger.Fatal("reading original texts", zap.Error(err))
	}

	var plagiarized []string
	if plagiarizedDir != "" {
		plagiarized, err = readTexts(plagiarizedDir, normalizer, logger)
		if err != nil {
			logger.Fatal("reading plagiarized texts", zap.Error(err))
		}
	}

	docs := append(append([]string{}, originals...), plagiarized...)
	if len(docs) == 0 {
		logger.Fatal("no texts to fit on", zap.String("original", originalDir))
	}

	tfidf := model.FitTFIDF(docs)
	artifact := &model.Artifact{Vectorizer: tfidf}
	logger.Info("vectorizer fitted", zap.Int("documents", len(docs)), zap.Int("terms", tfidf.Size()))

	if len(plagiarized) > 0 {
		vectors := make([]plagiarism.Vector, 0, len(docs))
		labels := make([]bool, 0, len(docs))
		for i, doc := range docs {
			vectors = append(vectors, tfidf.Transform(doc))
			labels = append(labels, i >= len(originals))
		}

		classifier, err := model.FitLogistic(vectors, labels, tfidf.Size(), model.TrainOptions{
			LearningRate: learningRate,
			Epochs:       epochs,
			L2:           l2,
		})
		if err != nil {
			logger.Fatal("training the classifier", zap.Error(err))
		}
		artifact.Classifier = classifier
		logger.Info("classifier trained",
			zap.Int("original", len(originals)),
			zap.Int("plagiarized", len(plagiarized)),
		)
	} else {
		logger.Warn("no plagiarized texts given, only the vectorizer is written")
	}

	if err := model.Save(out, artifact); err != nil {
		logger.Fatal("saving the model", zap.Error(err))
	}
	logger.Info("model saved", zap.String("path", out))
}

// readTexts extracts and normalizes every supported file in dir, in name order.
func readTexts(dir string, normalizer *plagiarism.Normalizer, logger *zap.Logger) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	texts := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		text, err := extract.FromFile(path)
		if err != nil {
			logger.Warn("skipping file", zap.String("file", path), zap.Error(err))
			continue
		}

		normalized := normalizer.Normalize(text)
		if normalized == "" {
			logger.Warn("skipping empty file", zap.String("file", path))
			continue
		}
		texts = append(texts, normalized)
	}
	return texts, nil
}
