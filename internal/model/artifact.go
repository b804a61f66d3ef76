package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const artifactVersion = 1

// ErrArtifactNotFound is returned by Load when no artifact exists at the path.
var ErrArtifactNotFound = errors.New("model artifact not found")

// Artifact is the persisted form of a fitted vectorizer and classifier.
// Either part may be absent.
type Artifact struct {
	Version    int       `json:"version"`
	Vectorizer *TFIDF    `json:"vectorizer,omitempty"`
	Classifier *Logistic `json:"classifier,omitempty"`
}

// Complete reports whether both the vectorizer and the classifier are present.
func (a *Artifact) Complete() bool {
	return a != nil && a.Vectorizer != nil && a.Classifier != nil
}

// Validate checks that the parts of the artifact agree on the feature space.
func (a *Artifact) Validate() error {
	if a.Version != artifactVersion {
		return fmt.Errorf("unsupported artifact version %d", a.Version)
	}

	if a.Vectorizer != nil {
		if len(a.Vectorizer.IDF) != len(a.Vectorizer.Vocabulary) {
			return fmt.Errorf("vectorizer has %d idf weights for %d terms", len(a.Vectorizer.IDF), len(a.Vectorizer.Vocabulary))
		}
		owners := make(map[int]string, len(a.Vectorizer.Vocabulary))
		for term, idx := range a.Vectorizer.Vocabulary {
			if idx < 0 || idx >= len(a.Vectorizer.IDF) {
				return fmt.Errorf("term %q has out of range index %d", term, idx)
			}
			if other, ok := owners[idx]; ok {
				return fmt.Errorf("terms %q and %q share index %d", other, term, idx)
			}
			owners[idx] = term
		}
	}

	if a.Vectorizer != nil && a.Classifier != nil && len(a.Classifier.Coefficients) != a.Vectorizer.Size() {
		return fmt.Errorf("classifier has %d coefficients for %d features", len(a.Classifier.Coefficients), a.Vectorizer.Size())
	}

	return nil
}

// Load reads and validates the artifact at path.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("read model artifact: %w", err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}

	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact %s: %w", path, err)
	}

	return &artifact, nil
}

// Save writes the artifact to path through a temporary file and a rename.
func Save(path string, artifact *Artifact) error {
	if artifact.Version == 0 {
		artifact.Version = artifactVersion
	}
	if err := artifact.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".model-*.json")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp artifact: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace model artifact: %w", err)
	}
	return nil
}
