package providers

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/systmms/secretstage/pkg/store"
)

// GCPSecretManagerStoreName identifies the store in errors and logs.
const GCPSecretManagerStoreName = "gcp.secretmanager"

// latestVersion is Secret Manager's own alias for the newest enabled version.
const latestVersion = "latest"

// GCPSecretManagerAPI defines the Secret Manager operations the store uses.
// This allows for mocking in tests
type GCPSecretManagerAPI interface {
	GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error)
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error)
	UpdateSecret(ctx context.Context, req *secretmanagerpb.UpdateSecretRequest) (*secretmanagerpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	ListSecretVersions(ctx context.Context, req *secretmanagerpb.ListSecretVersionsRequest) SecretVersionIterator
}

// SecretVersionIterator walks a version listing. It returns iterator.Done
// after the last version.
type SecretVersionIterator interface {
	Next() (*secretmanagerpb.SecretVersion, error)
}

// GCPSecretManagerConfig holds the Secret Manager settings.
type GCPSecretManagerConfig struct {
	ProjectID string

	// CredentialsFile is a service account key. Empty means application
	// default credentials.
	CredentialsFile string

	// Endpoint points the client at an emulator, without TLS or auth.
	Endpoint string

	Timeout time.Duration
}

// GCPSecretManagerStore implements store.Client on top of Google Cloud
// Secret Manager.
//
// Stage labels are kept as version aliases on the secret. Aliases must be
// lower case, so labels are written lower case and reported upper case.
// Secret Manager has no current/previous aliases of its own; both are
// derived from version order, as for Parameter Store.
type GCPSecretManagerStore struct {
	client    GCPSecretManagerAPI
	closer    func() error
	projectID string
	timeout   time.Duration
}

// GCPStoreOption is a functional option for configuring GCP stores
type GCPStoreOption func(*GCPSecretManagerStore)

// WithGCPSecretManagerClient sets a custom Secret Manager client (for testing)
func WithGCPSecretManagerClient(client GCPSecretManagerAPI) GCPStoreOption {
	return func(s *GCPSecretManagerStore) {
		s.client = client
	}
}

// NewGCPSecretManagerStore creates a store backed by Secret Manager. The
// project falls back to GOOGLE_CLOUD_PROJECT and friends.
func NewGCPSecretManagerStore(ctx context.Context, cfg GCPSecretManagerConfig, opts ...GCPStoreOption) (*GCPSecretManagerStore, error) {
	projectID := cfg.ProjectID
	if projectID == "" {
		projectID = getGCPProjectID()
	}
	if projectID == "" {
		return nil, errors.New("project_id is required for GCP Secret Manager; set store.project_id or GOOGLE_CLOUD_PROJECT")
	}

	s := &GCPSecretManagerStore{
		projectID: projectID,
		timeout:   cfg.Timeout,
		closer:    func() error { return nil },
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		client, err := createGCPSecretManagerClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
		}
		s.client = gcpClientAdapter{client: client}
		s.closer = client.Close
	}

	return s, nil
}

func createGCPSecretManagerClient(ctx context.Context, cfg GCPSecretManagerConfig) (*secretmanager.Client, error) {
	var clientOptions []option.ClientOption

	// Service account key file
	if cfg.CredentialsFile != "" {
		keyPath := cfg.CredentialsFile
		if strings.HasPrefix(keyPath, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			keyPath = filepath.Join(home, keyPath[2:])
		}
		clientOptions = append(clientOptions, option.WithCredentialsFile(keyPath))
	}

	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions,
			option.WithEndpoint(cfg.Endpoint),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	return secretmanager.NewClient(ctx, clientOptions...)
}

// getGCPProjectID reads the project from the usual environment variables.
func getGCPProjectID() string {
	for _, name := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT"} {
		if projectID := os.Getenv(name); projectID != "" {
			return projectID
		}
	}
	return ""
}

// ProjectID returns the project the store writes to.
func (s *GCPSecretManagerStore) ProjectID() string {
	return s.projectID
}

// Close releases the underlying client.
func (s *GCPSecretManagerStore) Close() error {
	return s.closer()
}

type gcpVersion struct {
	number  int64
	labels  []string
	created time.Time
}

// ListVersions lists every version of the secret with its aliases.
func (s *GCPSecretManagerStore) ListVersions(ctx context.Context, storeKey string) ([]store.Version, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	versions, err := s.versions(ctx, storeKey)
	if err != nil {
		return nil, err
	}

	out := make([]store.Version, 0, len(versions))
	for _, v := range versions {
		out = append(out, store.Version{
			VersionID:   formatParameterVersion(v.number),
			StageLabels: v.labels,
			CreatedAt:   v.created,
		})
	}
	return out, nil
}

// CreateSecret creates an automatically replicated secret and adds payload
// as its first version.
func (s *GCPSecretManagerStore) CreateSecret(ctx context.Context, storeKey, payload, description string) (store.WriteResult, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	secret := &secretmanagerpb.Secret{
		Replication: &secretmanagerpb.Replication{
			Replication: &secretmanagerpb.Replication_Automatic_{
				Automatic: &secretmanagerpb.Replication_Automatic{},
			},
		},
		Labels: map[string]string{"managed-by": "secretstage"},
	}
	if description != "" {
		secret.Annotations = map[string]string{"description": description}
	}

	_, err := s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + s.projectID,
		SecretId: gcpSecretID(storeKey),
		Secret:   secret,
	})
	if err != nil {
		if status.Code(err) != codes.AlreadyExists {
			return store.WriteResult{}, s.handleError(err, storeKey, "")
		}
		// An earlier create can leave the secret without versions when
		// AddSecretVersion failed. Finish that write instead of refusing.
		versions, verr := s.versions(ctx, storeKey)
		if verr != nil {
			return store.WriteResult{}, verr
		}
		if len(versions) > 0 {
			return store.WriteResult{}, &store.ExistsError{Store: GCPSecretManagerStoreName, StoreKey: storeKey}
		}
		return s.addVersion(ctx, storeKey, payload)
	}

	return s.addVersion(ctx, storeKey, payload)
}

// PutSecretValue adds a version to an existing secret.
func (s *GCPSecretManagerStore) PutSecretValue(ctx context.Context, storeKey, payload string) (store.WriteResult, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	return s.addVersion(ctx, storeKey, payload)
}

func (s *GCPSecretManagerStore) addVersion(ctx context.Context, storeKey, payload string) (store.WriteResult, error) {
	version, err := s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  s.secretName(storeKey),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(payload)},
	})
	if err != nil {
		return store.WriteResult{}, s.handleError(err, storeKey, "")
	}
	return store.WriteResult{VersionID: path.Base(version.GetName())}, nil
}

// UpdateVersionStage points the label's alias at versionID. The secret's
// etag guards against concurrent alias updates.
func (s *GCPSecretManagerStore) UpdateVersionStage(ctx context.Context, storeKey, versionID, label string) error {
	if label == store.CurrentLabel || label == store.PreviousLabel {
		return fmt.Errorf("label %s is derived from version order in %s and cannot be attached", label, GCPSecretManagerStoreName)
	}

	number, err := strconv.ParseInt(versionID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid secret version %q for %s: %w", versionID, storeKey, err)
	}

	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	secret, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: s.secretName(storeKey)})
	if err != nil {
		return s.handleError(err, storeKey, label)
	}

	aliases := make(map[string]int64, len(secret.GetVersionAliases())+1)
	for alias, n := range secret.GetVersionAliases() {
		aliases[alias] = n
	}
	aliases[aliasFromLabel(label)] = number

	_, err = s.client.UpdateSecret(ctx, &secretmanagerpb.UpdateSecretRequest{
		Secret: &secretmanagerpb.Secret{
			Name:           secret.GetName(),
			Etag:           secret.GetEtag(),
			VersionAliases: aliases,
		},
		UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"version_aliases"}},
	})
	if err != nil {
		return s.handleError(err, storeKey, label)
	}
	return nil
}

// BatchGetCurrent reads the latest version of every key. Secret Manager has
// no batch read, so each key costs a secret lookup and an access call.
func (s *GCPSecretManagerStore) BatchGetCurrent(ctx context.Context, storeKeys []string) (store.BatchResult, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	var out store.BatchResult
	for _, key := range storeKeys {
		value, err := s.current(ctx, key)
		if err == nil {
			out.Values = append(out.Values, value)
			continue
		}

		switch code := status.Code(err); {
		case store.IsNotFound(err):
			out.Errors = append(out.Errors, store.ItemError{
				StoreKey: key,
				Code:     store.ErrCodeNotFound,
				Message:  "secret not found",
			})
		case code != codes.Unknown:
			out.Errors = append(out.Errors, store.ItemError{
				StoreKey: key,
				Code:     code.String(),
				Message:  err.Error(),
			})
		default:
			return store.BatchResult{}, err
		}
	}
	return out, nil
}

func (s *GCPSecretManagerStore) current(ctx context.Context, storeKey string) (store.Value, error) {
	secret, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: s.secretName(storeKey)})
	if err != nil {
		return store.Value{}, s.handleError(err, storeKey, "")
	}

	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.secretName(storeKey) + "/versions/" + latestVersion,
	})
	if err != nil {
		return store.Value{}, s.handleError(err, storeKey, "")
	}

	versionID := path.Base(resp.GetName())
	number, _ := strconv.ParseInt(versionID, 10, 64)
	return store.Value{
		StoreKey:    storeKey,
		VersionID:   versionID,
		Payload:     string(resp.GetPayload().GetData()),
		StageLabels: append(labelsForVersion(secret.GetVersionAliases(), number), store.CurrentLabel),
	}, nil
}

// GetAtStage reads the version carrying label, including the derived
// current and previous labels.
func (s *GCPSecretManagerStore) GetAtStage(ctx context.Context, storeKey, label string) (store.Value, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	versions, err := s.versions(ctx, storeKey)
	if err != nil {
		return store.Value{}, err
	}

	idx := slices.IndexFunc(versions, func(v gcpVersion) bool {
		return slices.Contains(v.labels, label)
	})
	if idx < 0 {
		return store.Value{}, &store.NotFoundError{Store: GCPSecretManagerStoreName, StoreKey: storeKey, Label: label}
	}

	v := versions[idx]
	versionID := formatParameterVersion(v.number)
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.secretName(storeKey) + "/versions/" + versionID,
	})
	if err != nil {
		return store.Value{}, s.handleError(err, storeKey, label)
	}

	return store.Value{
		StoreKey:    storeKey,
		VersionID:   versionID,
		Payload:     string(resp.GetPayload().GetData()),
		StageLabels: slices.Clone(v.labels),
	}, nil
}

// versions returns the secret's enabled versions oldest first, aliases resolved to
// labels and the derived labels attached.
func (s *GCPSecretManagerStore) versions(ctx context.Context, storeKey string) ([]gcpVersion, error) {
	secret, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: s.secretName(storeKey)})
	if err != nil {
		return nil, s.handleError(err, storeKey, "")
	}

	it := s.client.ListSecretVersions(ctx, &secretmanagerpb.ListSecretVersionsRequest{
		Parent: s.secretName(storeKey),
	})

	var versions []gcpVersion
	for {
		v, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, s.handleError(err, storeKey, "")
		}
		// Destroyed and disabled versions cannot be read. Skipping them keeps
		// AWSCURRENT on the version "latest" resolves to.
		if v.GetState() != secretmanagerpb.SecretVersion_ENABLED {
			continue
		}

		number, err := strconv.ParseInt(path.Base(v.GetName()), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected version name %q for %s", v.GetName(), storeKey)
		}
		versions = append(versions, gcpVersion{
			number:  number,
			labels:  labelsForVersion(secret.GetVersionAliases(), number),
			created: v.GetCreateTime().AsTime(),
		})
	}
	if len(versions) == 0 {
		return nil, nil
	}

	slices.SortFunc(versions, func(a, b gcpVersion) int {
		return cmp.Compare(a.number, b.number)
	})

	last := len(versions) - 1
	versions[last].labels = append(versions[last].labels, store.CurrentLabel)
	if last > 0 {
		versions[last-1].labels = append(versions[last-1].labels, store.PreviousLabel)
	}
	return versions, nil
}

func (s *GCPSecretManagerStore) secretName(storeKey string) string {
	return "projects/" + s.projectID + "/secrets/" + gcpSecretID(storeKey)
}

// handleError converts gRPC status errors to store errors.
func (s *GCPSecretManagerStore) handleError(err error, storeKey, label string) error {
	if status.Code(err) == codes.NotFound {
		return &store.NotFoundError{
			Store:    GCPSecretManagerStoreName,
			StoreKey: storeKey,
			Label:    label,
		}
	}
	return fmt.Errorf("GCP Secret Manager error for %s: %w", storeKey, err)
}

// gcpSecretID maps a store key onto the secret ID alphabet, which has no
// slash.
func gcpSecretID(storeKey string) string {
	return strings.ReplaceAll(storeKey, "/", "--")
}

func aliasFromLabel(label string) string {
	return strings.ToLower(label)
}

func labelsForVersion(aliases map[string]int64, number int64) []string {
	var labels []string
	for alias, n := range aliases {
		if n == number {
			labels = append(labels, strings.ToUpper(alias))
		}
	}
	slices.Sort(labels)
	return labels
}

// gcpClientAdapter narrows the generated client to GCPSecretManagerAPI.
type gcpClientAdapter struct {
	client *secretmanager.Client
}

func (a gcpClientAdapter) GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error) {
	return a.client.GetSecret(ctx, req)
}

func (a gcpClientAdapter) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	return a.client.CreateSecret(ctx, req)
}

func (a gcpClientAdapter) UpdateSecret(ctx context.Context, req *secretmanagerpb.UpdateSecretRequest) (*secretmanagerpb.Secret, error) {
	return a.client.UpdateSecret(ctx, req)
}

func (a gcpClientAdapter) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return a.client.AddSecretVersion(ctx, req)
}

func (a gcpClientAdapter) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return a.client.AccessSecretVersion(ctx, req)
}

func (a gcpClientAdapter) ListSecretVersions(ctx context.Context, req *secretmanagerpb.ListSecretVersionsRequest) SecretVersionIterator {
	return a.client.ListSecretVersions(ctx, req)
}

var _ store.Client = (*GCPSecretManagerStore)(nil)
