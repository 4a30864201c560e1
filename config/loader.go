package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Loader reads Inputs from a YAML file.
type Loader struct {
	filePath string
}

func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Load reads and decodes the file. Unknown keys are rejected so that a
// misspelled setting does not pass silently.
func (l *Loader) Load() (Inputs, error) {
	if l.filePath == "" {
		return Inputs{}, errors.New("configuration file path is empty")
	}
	f, err := os.Open(l.filePath)
	if err != nil {
		return Inputs{}, errors.Wrapf(err, "failed to read config file '%s'", l.filePath)
	}
	defer f.Close()

	var in Inputs
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return Inputs{}, errors.Errorf("configuration file '%s' is empty", l.filePath)
		}
		return Inputs{}, errors.Wrapf(ErrInvalid, "failed to unmarshal config YAML from '%s': %v", l.filePath, err)
	}
	return in, nil
}
