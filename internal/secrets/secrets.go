// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials. Values come from the
// process environment (optionally seeded from a .env file) and fall back
// to a directory of plain-text files, where each filename is a key name and
// the trimmed contents are the value.
//
// Supported key files: tib-username, tib-password, anthropic-api-key,
// core-api-key, unpaywall-email, crossref-email, openalex-email,
// semantic-scholar-api-key, ncbi-api-key.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/internal/eventlog"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// Load reads the key files in dir: every regular, non-hidden file is a key
// named after the file with its trimmed contents as value. Empty files are
// skipped. A missing directory yields an empty map; an unreadable file is
// logged and skipped.
func Load(dir string, log *zap.Logger) (map[string]string, error) {
	log = eventlog.OrNop(log)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	keys := make(map[string]string, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn("secret file not readable", zap.String("key", name), zap.Error(err))
			continue
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			keys[name] = v
		}
	}
	return keys, nil
}

// fileKeys maps secret filenames to the credential field they fill.
var fileKeys = map[string]func(*types.Credentials) *string{
	"tib-username":             func(c *types.Credentials) *string { return &c.TIBUsername },
	"tib-password":             func(c *types.Credentials) *string { return &c.TIBPassword },
	"anthropic-api-key":        func(c *types.Credentials) *string { return &c.AnthropicAPIKey },
	"core-api-key":             func(c *types.Credentials) *string { return &c.CoreAPIKey },
	"unpaywall-email":          func(c *types.Credentials) *string { return &c.UnpaywallEmail },
	"crossref-email":           func(c *types.Credentials) *string { return &c.CrossRefEmail },
	"openalex-email":           func(c *types.Credentials) *string { return &c.OpenAlexEmail },
	"semantic-scholar-api-key": func(c *types.Credentials) *string { return &c.SemanticScholarAPIKey },
	"ncbi-api-key":             func(c *types.Credentials) *string { return &c.PubMedAPIKey },
}

// LoadCredentials loads dotenv (if the file exists; existing environment
// variables win), parses the environment into Credentials, and fills any
// still-empty field from the secrets directory. It returns the names of the
// keys that were taken from the directory.
func LoadCredentials(dotenv, dir string, log *zap.Logger) (types.Credentials, []string, error) {
	var creds types.Credentials
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return creds, nil, fmt.Errorf("loading %s: %w", dotenv, err)
		}
	}
	if err := env.Parse(&creds); err != nil {
		return creds, nil, fmt.Errorf("parsing credentials from environment: %w", err)
	}

	files, err := Load(dir, log)
	if err != nil {
		return creds, nil, err
	}
	var used []string
	for name, field := range fileKeys {
		v, ok := files[name]
		if !ok {
			continue
		}
		if p := field(&creds); *p == "" {
			*p = v
			used = append(used, name)
		}
	}
	sort.Strings(used)
	return creds, used, nil
}
