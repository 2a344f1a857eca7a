package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type pairsFile struct {
	Pairs []PairConfig `yaml:"pairs"`
}

// LoadPairs reads a standalone pairs file, which keeps watchdog settings out
// of the main config.
func LoadPairs(path string) ([]PairConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Не удалось прочитать файл пар %s: %w", path, err)
	}
	var file pairsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("Не удалось разобрать файл пар %s: %w", path, err)
	}
	return file.Pairs, nil
}
