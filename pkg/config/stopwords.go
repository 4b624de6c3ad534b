package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// stopwordsFile is the on-disk shape of the stop-word list. The list itself
// is deployment data maintained by operators, not source.
type stopwordsFile struct {
	Stopwords []string `yaml:"stopwords"`
}

// LoadStopwords reads the stop-word list from a YAML file. An empty path
// yields an empty list, which disables the stop-word stage of mechanical
// validation.
func LoadStopwords(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stopwords file: %w", err)
	}

	var f stopwordsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse stopwords file %s: %w", path, err)
	}
	return f.Stopwords, nil
}
