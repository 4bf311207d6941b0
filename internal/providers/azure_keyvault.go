package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/systmms/secretstage/pkg/store"
)

// AzureKeyVaultStoreName identifies the store in errors and logs.
const AzureKeyVaultStoreName = "azure.keyvault"

// Tags written on secret versions.
const (
	StagesTag      = "version-stages"
	DescriptionTag = "description"
)

// AzureKeyVaultClientAPI defines the Key Vault operations the store uses.
// This allows for mocking in tests
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	UpdateSecretProperties(ctx context.Context, name string, version string, parameters azsecrets.UpdateSecretPropertiesParameters, options *azsecrets.UpdateSecretPropertiesOptions) (azsecrets.UpdateSecretPropertiesResponse, error)
	NewListSecretPropertiesVersionsPager(name string, options *azsecrets.ListSecretPropertiesVersionsOptions) *runtime.Pager[azsecrets.ListSecretPropertiesVersionsResponse]
}

// AzureKeyVaultConfig holds Azure Key Vault-specific configuration
type AzureKeyVaultConfig struct {
	VaultURL string

	// Service principal credentials. Used when ClientSecret is set.
	TenantID     string
	ClientID     string
	ClientSecret string

	// UseManagedIdentity selects managed identity; ClientID then names a
	// user-assigned identity.
	UseManagedIdentity bool

	Timeout time.Duration
}

// AzureKeyVaultStore implements store.Client on top of Azure Key Vault.
//
// Every Key Vault write creates a version. Stage labels live in the
// StagesTag of the version they point at, comma separated. The newest
// version by creation time carries store.CurrentLabel and the one before it
// store.PreviousLabel.
type AzureKeyVaultStore struct {
	client   AzureKeyVaultClientAPI
	vaultURL string
	timeout  time.Duration
}

// AzureStoreOption is a functional option for configuring Azure stores
type AzureStoreOption func(*AzureKeyVaultStore)

// WithAzureKeyVaultClient sets a custom Azure Key Vault client (for testing)
func WithAzureKeyVaultClient(client AzureKeyVaultClientAPI) AzureStoreOption {
	return func(s *AzureKeyVaultStore) {
		s.client = client
	}
}

// NewAzureKeyVaultStore creates a store backed by Azure Key Vault.
func NewAzureKeyVaultStore(cfg AzureKeyVaultConfig, opts ...AzureStoreOption) (*AzureKeyVaultStore, error) {
	if cfg.VaultURL == "" {
		return nil, errors.New("vault_url is required for Azure Key Vault; use https://<vault-name>.vault.azure.net/")
	}
	if u, err := url.Parse(cfg.VaultURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid vault_url %q; use https://<vault-name>.vault.azure.net/", cfg.VaultURL)
	}

	s := &AzureKeyVaultStore{
		vaultURL: cfg.VaultURL,
		timeout:  cfg.Timeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		client, err := createAzureKeyVaultClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Key Vault client: %w", err)
		}
		s.client = client
	}

	return s, nil
}

// createAzureKeyVaultClient creates an Azure Key Vault client with appropriate authentication
func createAzureKeyVaultClient(cfg AzureKeyVaultConfig) (*azsecrets.Client, error) {
	var cred azcore.TokenCredential
	var err error

	switch {
	case cfg.ClientSecret != "":
		cred, err = azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	case cfg.UseManagedIdentity:
		var miOpts *azidentity.ManagedIdentityCredentialOptions
		if cfg.ClientID != "" {
			miOpts = &azidentity.ManagedIdentityCredentialOptions{ID: azidentity.ClientID(cfg.ClientID)}
		}
		cred, err = azidentity.NewManagedIdentityCredential(miOpts)
	default:
		// Azure CLI, environment or workload identity
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	return azsecrets.NewClient(cfg.VaultURL, cred, nil)
}

// VaultURL returns the vault the store talks to.
func (s *AzureKeyVaultStore) VaultURL() string {
	return s.vaultURL
}

type azureVersion struct {
	id      string
	labels  []string
	tags    map[string]*string
	created time.Time
}

// ListVersions lists every version of the secret with its stage tags.
func (s *AzureKeyVaultStore) ListVersions(ctx context.Context, storeKey string) ([]store.Version, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	versions, err := s.versions(ctx, storeKey)
	if err != nil {
		return nil, err
	}

	out := make([]store.Version, 0, len(versions))
	for _, v := range versions {
		out = append(out, store.Version{
			VersionID:   v.id,
			StageLabels: v.labels,
			CreatedAt:   v.created,
		})
	}
	return out, nil
}

// CreateSecret writes the first version. Key Vault has no create-only call,
// so an existence check comes first.
func (s *AzureKeyVaultStore) CreateSecret(ctx context.Context, storeKey, payload, description string) (store.WriteResult, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.GetSecret(ctx, azureSecretName(storeKey), "", nil)
	switch {
	case err == nil:
		return store.WriteResult{}, &store.ExistsError{Store: AzureKeyVaultStoreName, StoreKey: storeKey}
	case !isAzureNotFound(err):
		return store.WriteResult{}, s.handleError(err, storeKey, "")
	}

	params := azsecrets.SetSecretParameters{
		Value:       to.Ptr(payload),
		ContentType: to.Ptr("application/json"),
	}
	if description != "" {
		params.Tags = map[string]*string{DescriptionTag: to.Ptr(description)}
	}
	return s.set(ctx, storeKey, params)
}

// PutSecretValue writes a new version. Key Vault creates the secret when it
// does not exist yet.
func (s *AzureKeyVaultStore) PutSecretValue(ctx context.Context, storeKey, payload string) (store.WriteResult, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	return s.set(ctx, storeKey, azsecrets.SetSecretParameters{
		Value:       to.Ptr(payload),
		ContentType: to.Ptr("application/json"),
	})
}

func (s *AzureKeyVaultStore) set(ctx context.Context, storeKey string, params azsecrets.SetSecretParameters) (store.WriteResult, error) {
	resp, err := s.client.SetSecret(ctx, azureSecretName(storeKey), params, nil)
	if err != nil {
		return store.WriteResult{}, s.handleError(err, storeKey, "")
	}
	return store.WriteResult{VersionID: idVersion(resp.ID)}, nil
}

// UpdateVersionStage adds label to the stages tag of versionID and removes
// it from any other version holding it.
func (s *AzureKeyVaultStore) UpdateVersionStage(ctx context.Context, storeKey, versionID, label string) error {
	if label == store.CurrentLabel || label == store.PreviousLabel {
		return fmt.Errorf("label %s is derived from version order in %s and cannot be attached", label, AzureKeyVaultStoreName)
	}
	if strings.Contains(label, ",") {
		return fmt.Errorf("label %q cannot contain a comma in %s", label, AzureKeyVaultStoreName)
	}

	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	versions, err := s.versions(ctx, storeKey)
	if err != nil {
		return err
	}

	idx := slices.IndexFunc(versions, func(v azureVersion) bool { return v.id == versionID })
	if idx < 0 {
		return &store.NotFoundError{Store: AzureKeyVaultStoreName, StoreKey: storeKey, Label: label}
	}
	target := versions[idx]
	if slices.Contains(stagesFromTags(target.tags), label) {
		return nil
	}

	for _, v := range versions {
		if v.id == versionID || !slices.Contains(stagesFromTags(v.tags), label) {
			continue
		}
		remaining := slices.DeleteFunc(stagesFromTags(v.tags), func(l string) bool { return l == label })
		if err := s.writeStages(ctx, storeKey, v, remaining); err != nil {
			return err
		}
	}

	return s.writeStages(ctx, storeKey, target, append(stagesFromTags(target.tags), label))
}

func (s *AzureKeyVaultStore) writeStages(ctx context.Context, storeKey string, v azureVersion, stages []string) error {
	tags := make(map[string]*string, len(v.tags)+1)
	for k, val := range v.tags {
		tags[k] = val
	}
	if len(stages) == 0 {
		delete(tags, StagesTag)
	} else {
		tags[StagesTag] = to.Ptr(strings.Join(stages, ","))
	}

	_, err := s.client.UpdateSecretProperties(ctx, azureSecretName(storeKey), v.id,
		azsecrets.UpdateSecretPropertiesParameters{Tags: tags}, nil)
	if err != nil {
		return s.handleError(err, storeKey, "")
	}
	return nil
}

// BatchGetCurrent reads the latest version of every key. Key Vault has no
// batch read, so each key costs one call.
func (s *AzureKeyVaultStore) BatchGetCurrent(ctx context.Context, storeKeys []string) (store.BatchResult, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	var out store.BatchResult
	for _, key := range storeKeys {
		resp, err := s.client.GetSecret(ctx, azureSecretName(key), "", nil)
		if err != nil {
			var respErr *azcore.ResponseError
			switch {
			case isAzureNotFound(err):
				out.Errors = append(out.Errors, store.ItemError{
					StoreKey: key,
					Code:     store.ErrCodeNotFound,
					Message:  "secret not found",
				})
				continue
			case errors.As(err, &respErr):
				out.Errors = append(out.Errors, store.ItemError{
					StoreKey: key,
					Code:     respErr.ErrorCode,
					Message:  fmt.Sprintf("status %d", respErr.StatusCode),
				})
				continue
			default:
				return store.BatchResult{}, s.handleError(err, key, "")
			}
		}

		out.Values = append(out.Values, store.Value{
			StoreKey:    key,
			VersionID:   idVersion(resp.ID),
			Payload:     deref(resp.Value),
			StageLabels: append(stagesFromTags(resp.Tags), store.CurrentLabel),
		})
	}
	return out, nil
}

// GetAtStage reads the version carrying label, including the derived
// current and previous labels.
func (s *AzureKeyVaultStore) GetAtStage(ctx context.Context, storeKey, label string) (store.Value, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	versions, err := s.versions(ctx, storeKey)
	if err != nil {
		return store.Value{}, err
	}

	idx := slices.IndexFunc(versions, func(v azureVersion) bool {
		return slices.Contains(v.labels, label)
	})
	if idx < 0 {
		return store.Value{}, &store.NotFoundError{Store: AzureKeyVaultStoreName, StoreKey: storeKey, Label: label}
	}

	v := versions[idx]
	resp, err := s.client.GetSecret(ctx, azureSecretName(storeKey), v.id, nil)
	if err != nil {
		return store.Value{}, s.handleError(err, storeKey, label)
	}
	return store.Value{
		StoreKey:    storeKey,
		VersionID:   v.id,
		Payload:     deref(resp.Value),
		StageLabels: slices.Clone(v.labels),
	}, nil
}

// versions walks every page of the version listing and returns the
// versions oldest first with the derived labels attached.
func (s *AzureKeyVaultStore) versions(ctx context.Context, storeKey string) ([]azureVersion, error) {
	pager := s.client.NewListSecretPropertiesVersionsPager(azureSecretName(storeKey), nil)

	var versions []azureVersion
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, s.handleError(err, storeKey, "")
		}
		for _, props := range page.Value {
			if props == nil {
				continue
			}
			v := azureVersion{
				id:     idVersion(props.ID),
				labels: stagesFromTags(props.Tags),
				tags:   props.Tags,
			}
			if props.Attributes != nil {
				v.created = deref(props.Attributes.Created)
			}
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return nil, &store.NotFoundError{Store: AzureKeyVaultStoreName, StoreKey: storeKey}
	}

	slices.SortStableFunc(versions, func(a, b azureVersion) int {
		return a.created.Compare(b.created)
	})

	last := len(versions) - 1
	versions[last].labels = append(versions[last].labels, store.CurrentLabel)
	if last > 0 {
		versions[last-1].labels = append(versions[last-1].labels, store.PreviousLabel)
	}
	return versions, nil
}

// handleError converts Key Vault errors to store errors.
func (s *AzureKeyVaultStore) handleError(err error, storeKey, label string) error {
	if isAzureNotFound(err) {
		return &store.NotFoundError{
			Store:    AzureKeyVaultStoreName,
			StoreKey: storeKey,
			Label:    label,
		}
	}
	return fmt.Errorf("Azure Key Vault error for %s: %w", storeKey, err)
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// azureSecretName maps a store key onto the Key Vault name alphabet of
// letters, digits and dashes.
func azureSecretName(storeKey string) string {
	return strings.NewReplacer("/", "--", "_", "-").Replace(storeKey)
}

func idVersion(id *azsecrets.ID) string {
	if id == nil {
		return ""
	}
	return id.Version()
}

func stagesFromTags(tags map[string]*string) []string {
	raw := deref(tags[StagesTag])
	if raw == "" {
		return nil
	}
	var stages []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			stages = append(stages, part)
		}
	}
	return stages
}

var _ store.Client = (*AzureKeyVaultStore)(nil)
