package fakes

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// FakeVaultURL is the vault every fake secret ID points at.
const FakeVaultURL = "https://test-vault.vault.azure.net"

// FakeAzureKeyVaultClient is an in-memory Key Vault. Every SetSecret call
// appends a version with a hex version ID and a creation time one second
// after the previous version's.
type FakeAzureKeyVaultClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their versions, oldest first
	Secrets map[string]*AzureSecretData
	// Errors maps secret names to errors to return
	Errors map[string]error
	// PageSize limits versions per listing page; zero returns one page
	PageSize int

	SetParams    []azsecrets.SetSecretParameters
	UpdateParams []azsecrets.UpdateSecretPropertiesParameters

	seq   int
	clock time.Time
}

// AzureSecretData holds the data for a mock Azure Key Vault secret
type AzureSecretData struct {
	Versions []*AzureSecretVersion
}

// AzureSecretVersion holds version-specific data for a secret
type AzureSecretVersion struct {
	Version     string
	Value       string
	ContentType *string
	Tags        map[string]*string
	Created     time.Time
}

// NewFakeAzureKeyVaultClient creates a new mock Azure Key Vault client
func NewFakeAzureKeyVaultClient() *FakeAzureKeyVaultClient {
	return &FakeAzureKeyVaultClient{
		Secrets: make(map[string]*AzureSecretData),
		Errors:  make(map[string]error),
		clock:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddVersion appends a version to the secret and returns its version ID.
func (f *FakeAzureKeyVaultClient) AddVersion(name, value string, tags map[string]*string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendVersion(name, value, nil, tags).Version
}

// AddError configures the mock to return an error for a specific secret
func (f *FakeAzureKeyVaultClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// GetSecret mocks the GetSecret operation. An empty version reads the latest.
func (f *FakeAzureKeyVaultClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, exists := f.Errors[name]; exists {
		return azsecrets.GetSecretResponse{}, err
	}

	v := f.version(name, version)
	if v == nil {
		return azsecrets.GetSecretResponse{}, AzureNotFoundError(name)
	}

	return azsecrets.GetSecretResponse{
		Secret: azsecrets.Secret{
			ID:          fakeSecretID(name, v.Version),
			Value:       to.Ptr(v.Value),
			ContentType: v.ContentType,
			Tags:        maps.Clone(v.Tags),
			Attributes:  v.attributes(),
		},
	}, nil
}

// SetSecret mocks the SetSecret operation
func (f *FakeAzureKeyVaultClient) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SetParams = append(f.SetParams, parameters)

	if err, exists := f.Errors[name]; exists {
		return azsecrets.SetSecretResponse{}, err
	}
	var value string
	if parameters.Value != nil {
		value = *parameters.Value
	}
	v := f.appendVersion(name, value, parameters.ContentType, parameters.Tags)

	return azsecrets.SetSecretResponse{
		Secret: azsecrets.Secret{
			ID:         fakeSecretID(name, v.Version),
			Value:      to.Ptr(v.Value),
			Tags:       maps.Clone(v.Tags),
			Attributes: v.attributes(),
		},
	}, nil
}

// UpdateSecretProperties mocks the UpdateSecretProperties operation. Tags
// are replaced wholesale when set.
func (f *FakeAzureKeyVaultClient) UpdateSecretProperties(ctx context.Context, name string, version string, parameters azsecrets.UpdateSecretPropertiesParameters, options *azsecrets.UpdateSecretPropertiesOptions) (azsecrets.UpdateSecretPropertiesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.UpdateParams = append(f.UpdateParams, parameters)

	if err, exists := f.Errors[name]; exists {
		return azsecrets.UpdateSecretPropertiesResponse{}, err
	}
	v := f.version(name, version)
	if v == nil || version == "" {
		return azsecrets.UpdateSecretPropertiesResponse{}, AzureNotFoundError(name)
	}
	if parameters.Tags != nil {
		v.Tags = maps.Clone(parameters.Tags)
	}

	return azsecrets.UpdateSecretPropertiesResponse{
		Secret: azsecrets.Secret{
			ID:         fakeSecretID(name, v.Version),
			Tags:       maps.Clone(v.Tags),
			Attributes: v.attributes(),
		},
	}, nil
}

// NewListSecretPropertiesVersionsPager mocks version listing. Versions come
// back newest first and a missing secret yields an empty listing, as the
// service does.
func (f *FakeAzureKeyVaultClient) NewListSecretPropertiesVersionsPager(name string, options *azsecrets.ListSecretPropertiesVersionsOptions) *runtime.Pager[azsecrets.ListSecretPropertiesVersionsResponse] {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.Errors[name]
	var props []*azsecrets.SecretProperties
	if s, ok := f.Secrets[name]; ok {
		for i := len(s.Versions) - 1; i >= 0; i-- {
			v := s.Versions[i]
			props = append(props, &azsecrets.SecretProperties{
				ID:          fakeSecretID(name, v.Version),
				ContentType: v.ContentType,
				Tags:        maps.Clone(v.Tags),
				Attributes:  v.attributes(),
			})
		}
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = len(props) + 1
	}

	offset := 0
	return runtime.NewPager(runtime.PagingHandler[azsecrets.ListSecretPropertiesVersionsResponse]{
		More: func(page azsecrets.ListSecretPropertiesVersionsResponse) bool {
			return page.NextLink != nil
		},
		Fetcher: func(ctx context.Context, page *azsecrets.ListSecretPropertiesVersionsResponse) (azsecrets.ListSecretPropertiesVersionsResponse, error) {
			if err != nil {
				return azsecrets.ListSecretPropertiesVersionsResponse{}, err
			}
			end := min(offset+pageSize, len(props))
			resp := azsecrets.ListSecretPropertiesVersionsResponse{
				SecretPropertiesListResult: azsecrets.SecretPropertiesListResult{
					Value: props[offset:end],
				},
			}
			offset = end
			if offset < len(props) {
				resp.NextLink = to.Ptr(fmt.Sprintf("%s/secrets/%s/versions?skip=%d", FakeVaultURL, name, offset))
			}
			return resp, nil
		},
	})
}

func (f *FakeAzureKeyVaultClient) appendVersion(name, value string, contentType *string, tags map[string]*string) *AzureSecretVersion {
	s, ok := f.Secrets[name]
	if !ok {
		s = &AzureSecretData{}
		f.Secrets[name] = s
	}
	f.seq++
	f.clock = f.clock.Add(time.Second)
	v := &AzureSecretVersion{
		Version:     fmt.Sprintf("%032x", f.seq),
		Value:       value,
		ContentType: contentType,
		Tags:        maps.Clone(tags),
		Created:     f.clock,
	}
	s.Versions = append(s.Versions, v)
	return v
}

func (f *FakeAzureKeyVaultClient) version(name, version string) *AzureSecretVersion {
	s, ok := f.Secrets[name]
	if !ok || len(s.Versions) == 0 {
		return nil
	}
	if version == "" {
		return s.Versions[len(s.Versions)-1]
	}
	for _, v := range s.Versions {
		if v.Version == version {
			return v
		}
	}
	return nil
}

func (v *AzureSecretVersion) attributes() *azsecrets.SecretAttributes {
	created := v.Created
	return &azsecrets.SecretAttributes{
		Enabled: to.Ptr(true),
		Created: &created,
		Updated: &created,
	}
}

func fakeSecretID(name, version string) *azsecrets.ID {
	id := azsecrets.ID(fmt.Sprintf("%s/secrets/%s/%s", FakeVaultURL, name, version))
	return &id
}

func azureResponseError(status int, code string) error {
	u, _ := url.Parse(FakeVaultURL)
	return &azcore.ResponseError{
		StatusCode: status,
		ErrorCode:  code,
		RawResponse: &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Header:     http.Header{},
			Body:       http.NoBody,
			Request:    &http.Request{Method: http.MethodGet, URL: u},
		},
	}
}

// AzureNotFoundError creates a mock Azure not found error
func AzureNotFoundError(secretName string) error {
	return azureResponseError(http.StatusNotFound, "SecretNotFound")
}

// AzureForbiddenError creates a mock Azure forbidden error
func AzureForbiddenError() error {
	return azureResponseError(http.StatusForbidden, "Forbidden")
}

// AzureThrottledError creates a mock Azure throttled error
func AzureThrottledError() error {
	return azureResponseError(http.StatusTooManyRequests, "TooManyRequests")
}
