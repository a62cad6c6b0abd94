package main

import (
	"os"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// LoadSecrets reads the DUA roster from a YAML file mapping DUA names
// to their plaintext bind passwords:
//
//	admin: s3cret
//	cloud: other-s3cret
//
// The passwords are hashed before they reach the database.
func LoadSecrets(path string) (map[string]string, error) {
	if path == "" {
		return nil, xerrors.New("no secrets file configured")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read secrets file: %s: %w", path, err)
	}

	passwords := map[string]string{}
	if err := yaml.Unmarshal(b, &passwords); err != nil {
		return nil, xerrors.Errorf("failed to parse secrets file: %s: %w", path, err)
	}

	for name := range passwords {
		if _, err := decodeDUAName(name); err != nil {
			return nil, xerrors.Errorf("invalid DUA name in secrets file: %s: %w", name, err)
		}
	}
	return passwords, nil
}
