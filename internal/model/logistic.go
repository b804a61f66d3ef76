package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/spigell/grader/internal/plagiarism"
)

// ErrNoSamples is returned when a classifier is trained without data.
var ErrNoSamples = errors.New("no training samples")

// Logistic is a binary logistic-regression classifier. The positive class is
// "plagiarized".
type Logistic struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// PredictProbability returns p(plagiarized) for v. Features beyond the
// coefficient range contribute nothing.
func (l *Logistic) PredictProbability(v plagiarism.Vector) float64 {
	z := l.Intercept
	for _, idx := range v.Indices() {
		if idx < 0 || idx >= len(l.Coefficients) {
			continue
		}
		z += l.Coefficients[idx] * v[idx]
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// TrainOptions tunes FitLogistic.
type TrainOptions struct {
	LearningRate float64 `mapstructure:"learning-rate"`
	Epochs       int     `mapstructure:"epochs"`
	L2           float64 `mapstructure:"l2"`
}

func (o TrainOptions) withDefaults() TrainOptions {
	if o.LearningRate <= 0 {
		o.LearningRate = 0.5
	}
	if o.Epochs <= 0 {
		o.Epochs = 300
	}
	if o.L2 < 0 {
		o.L2 = 0
	}
	return o
}

// FitLogistic trains a classifier over features dimensions with batch gradient
// descent. labels[i] marks vectors[i] as plagiarized. The result depends only
// on its inputs.
func FitLogistic(vectors []plagiarism.Vector, labels []bool, features int, opts TrainOptions) (*Logistic, error) {
	if len(vectors) == 0 {
		return nil, ErrNoSamples
	}
	if len(vectors) != len(labels) {
		return nil, fmt.Errorf("got %d vectors and %d labels", len(vectors), len(labels))
	}
	if features <= 0 {
		return nil, fmt.Errorf("invalid feature count %d", features)
	}

	opts = opts.withDefaults()
	weights := make([]float64, features)
	var intercept float64
	n := float64(len(vectors))

	grad := make([]float64, features)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		for i := range grad {
			grad[i] = 0
		}
		var gradIntercept float64

		model := Logistic{Coefficients: weights, Intercept: intercept}
		for i, vec := range vectors {
			target := 0.0
			if labels[i] {
				target = 1
			}
			diff := model.PredictProbability(vec) - target
			for idx, value := range vec {
				if idx < 0 || idx >= features {
					continue
				}
				grad[idx] += diff * value
			}
			gradIntercept += diff
		}

		for i := range weights {
			weights[i] -= opts.LearningRate * (grad[i]/n + opts.L2*weights[i])
		}
		intercept -= opts.LearningRate * gradIntercept / n
	}

	return &Logistic{Coefficients: weights, Intercept: intercept}, nil
}
