// Package importer moves plain environment values into the secret store.
//
// Values whose names look like secrets are added to the store and replaced
// by pointer entries; everything else is kept as plain configuration. The
// result is merged into a dotenv file.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/systmms/secretstage/internal/matcher"
	"github.com/systmms/secretstage/pkg/fetch"
	"github.com/systmms/secretstage/pkg/manager"
	"github.com/systmms/secretstage/pkg/secret"
	"github.com/systmms/secretstage/pkg/store"
)

// DefaultDoNotImportNames are platform variables never worth importing.
var DefaultDoNotImportNames = []string{
	"AWS_SECRET_ACCESS_KEY",
	"HEROKU_APP_DEFAULT_DOMAIN_NAME",
	"HEROKU_APP_ID",
	"HEROKU_APP_NAME",
	"HEROKU_RELEASE_COMMIT",
	"HEROKU_RELEASE_CREATED_AT",
	"HEROKU_RELEASE_DESCRIPTION",
	"HEROKU_RELEASE_VERSION",
	"HEROKU_SLUG_COMMIT",
	"HEROKU_SLUG_DESCRIPTION",
}

// ExistingSecretError is returned when the store already holds a different
// value for an imported secret and overwriting is off.
type ExistingSecretError struct {
	Name string
}

func (e *ExistingSecretError) Error() string {
	return fmt.Sprintf("secret named %s already exists with a different value", e.Name)
}

// ExistingConfigError is returned when the target dotenv file already holds a
// different value for a key and overwriting is off.
type ExistingConfigError struct {
	Key  string
	Path string
}

func (e *ExistingConfigError) Error() string {
	return fmt.Sprintf("value for %s differs from existing %s file", e.Key, e.Path)
}

// Options configures an import.
type Options struct {
	// Namespace is the store namespace for imported secrets. Empty uses the
	// naming default.
	Namespace string

	// Description is attached to newly created secrets.
	Description string

	// Overwrite replaces differing store values and dotenv entries instead of
	// failing.
	Overwrite bool

	// DoNotImport lists source names that are dropped entirely.
	DoNotImport []string
}

// Result summarises an import.
type Result struct {
	// Pointers maps each written pointer variable to its version number.
	Pointers map[string]int
	// Configs lists the plain keys written.
	Configs []string
	// Skipped lists source names dropped by DoNotImport.
	Skipped []string
}

// Importer imports env values into a store and a dotenv file.
type Importer struct {
	client  store.Client
	naming  secret.Naming
	matcher *matcher.Matcher
	logger  *zap.Logger
}

// New creates an Importer.
func New(client store.Client, naming secret.Naming, m *matcher.Matcher, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		client:  client,
		naming:  naming,
		matcher: m,
		logger:  logger,
	}
}

// ReadSource parses a dotenv file into a map.
func ReadSource(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return env, nil
}

// Import splits source into secrets and configs, stores the secrets, and
// merges configs plus pointer entries into the dotenv file at dotenvPath.
//
// Plain configuration clashes with the target file are detected before the
// store is touched.
func (imp *Importer) Import(ctx context.Context, source map[string]string, dotenvPath string, opts Options) (Result, error) {
	res := Result{Pointers: make(map[string]int)}

	skip := make(map[string]struct{}, len(opts.DoNotImport))
	for _, name := range opts.DoNotImport {
		skip[strings.ToUpper(strings.TrimSpace(name))] = struct{}{}
	}

	filtered := make(map[string]string, len(source))
	for k, v := range source {
		if _, ok := skip[strings.ToUpper(k)]; ok {
			res.Skipped = append(res.Skipped, k)
			continue
		}
		filtered[k] = v
	}
	sort.Strings(res.Skipped)

	secrets, plain := imp.matcher.Split(filtered)
	configs := make(map[string]string, len(plain))
	for k, v := range plain {
		configs[strings.ToUpper(k)] = v
	}

	existingFile, err := readTarget(dotenvPath)
	if err != nil {
		return res, err
	}
	if !opts.Overwrite {
		if err := imp.checkClashes(configs, existingFile, dotenvPath, false); err != nil {
			return res, err
		}
	}

	pointers, err := imp.storeSecrets(ctx, secrets, opts)
	if err != nil {
		return res, err
	}

	merged := make(map[string]string, len(configs)+len(pointers))
	for k, v := range configs {
		merged[k] = v
	}
	for name, version := range pointers {
		merged[name] = strconv.Itoa(version)
		res.Pointers[name] = version
	}
	if err := imp.checkClashes(merged, existingFile, dotenvPath, opts.Overwrite); err != nil {
		return res, err
	}
	for k, v := range existingFile {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}

	if err := godotenv.Write(merged, dotenvPath); err != nil {
		return res, fmt.Errorf("failed to write %s: %w", dotenvPath, err)
	}

	for k := range configs {
		res.Configs = append(res.Configs, k)
	}
	sort.Strings(res.Configs)
	return res, nil
}

func (imp *Importer) storeSecrets(ctx context.Context, secrets map[string]string, opts Options) (map[string]int, error) {
	if len(secrets) == 0 {
		return nil, nil
	}

	ids := make(map[string]secret.Identity, len(secrets))
	desired := make(secret.DesiredStages, len(secrets))
	for name := range secrets {
		id, err := imp.naming.Parse(secret.Source{Name: name, OverrideNamespace: opts.Namespace})
		if err != nil {
			return nil, err
		}
		ids[name] = id
		desired.Set(id, secret.NewestStage)
	}

	existing, err := fetch.New(imp.client,
		fetch.WithNaming(imp.naming),
		fetch.WithLogger(imp.logger),
		fetch.WithFailOnMissing(false),
	).SecretValuesByEnvName(ctx, desired)
	if err != nil {
		return nil, fmt.Errorf("failed to read existing secrets: %w", err)
	}

	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)

	m := manager.New(imp.client, manager.WithNaming(imp.naming), manager.WithLogger(imp.logger))
	pointers := make(map[string]int, len(secrets))
	for _, name := range names {
		id, value := ids[name], secrets[name]

		if current, ok := existing[id.EnvName()]; ok && current != value {
			if !opts.Overwrite {
				return nil, &ExistingSecretError{Name: name}
			}
			imp.logger.Warn("secret already exists with a different value; overwriting with new value",
				zap.String("secret", id.Name()))
		}

		imp.logger.Info("creating secret", zap.String("secret", id.Name()), zap.String("store_key", id.StoreKey()))
		version, err := m.AddVersion(ctx, id, value, opts.Description)
		if err != nil {
			return nil, err
		}
		pointers[id.PointerName()] = version
	}
	return pointers, nil
}

func (imp *Importer) checkClashes(next, existing map[string]string, path string, overwrite bool) error {
	keys := make([]string, 0, len(next))
	for k := range next {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		current, ok := existing[k]
		if !ok || current == next[k] {
			continue
		}
		if !overwrite {
			return &ExistingConfigError{Key: k, Path: path}
		}
		imp.logger.Warn("value differs from existing dotenv file; overwriting with new value",
			zap.String("key", k), zap.String("path", path))
	}
	return nil
}

func readTarget(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	upper := make(map[string]string, len(env))
	for k, v := range env {
		upper[strings.ToUpper(k)] = v
	}
	return upper, nil
}
