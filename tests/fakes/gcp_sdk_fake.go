package fakes

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/systmms/secretstage/internal/providers"
)

// FakeGCPSecretManagerClient is an in-memory Secret Manager keyed by full
// resource names. Version numbers count up from 1 per secret and UpdateSecret
// enforces etags the way the service does.
type FakeGCPSecretManagerClient struct {
	mu sync.Mutex

	// Secrets maps full resource names (projects/X/secrets/Y) to their data
	Secrets map[string]*GCPSecretData
	// Errors maps resource names to errors to return
	Errors map[string]error

	// Requests recorded per operation, in call order
	CreateRequests []*secretmanagerpb.CreateSecretRequest
	UpdateRequests []*secretmanagerpb.UpdateSecretRequest
}

// GCPSecretData holds the data for a mock GCP secret
type GCPSecretData struct {
	Name           string
	Labels         map[string]string
	Annotations    map[string]string
	VersionAliases map[string]int64
	Etag           int
	Versions       []*GCPSecretVersionData
}

// GCPSecretVersionData holds version-specific data for a GCP secret
type GCPSecretVersionData struct {
	Number     int64
	State      secretmanagerpb.SecretVersion_State
	CreateTime time.Time
	Data       []byte
}

// NewFakeGCPSecretManagerClient creates a new mock GCP Secret Manager client
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		Secrets: make(map[string]*GCPSecretData),
		Errors:  make(map[string]error),
	}
}

// AddVersion appends an enabled version to the secret called name,
// creating the secret first when needed, and points aliases at it.
func (f *FakeGCPSecretManagerClient) AddVersion(name string, data []byte, aliases ...string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.Secrets[name]
	if !ok {
		s = &GCPSecretData{Name: name, VersionAliases: map[string]int64{}}
		f.Secrets[name] = s
	}
	v := s.appendVersion(data)
	for _, alias := range aliases {
		s.VersionAliases[alias] = v.Number
	}
	return v.Number
}

// DestroyVersion marks a version destroyed.
func (f *FakeGCPSecretManagerClient) DestroyVersion(name string, number int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, v := range f.Secrets[name].Versions {
		if v.Number == number {
			v.State = secretmanagerpb.SecretVersion_DESTROYED
			v.Data = nil
		}
	}
}

// DisableVersion marks a version disabled. Its data is kept.
func (f *FakeGCPSecretManagerClient) DisableVersion(name string, number int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, v := range f.Secrets[name].Versions {
		if v.Number == number {
			v.State = secretmanagerpb.SecretVersion_DISABLED
		}
	}
}

// AddError configures the mock to return an error for a specific resource
func (f *FakeGCPSecretManagerClient) AddError(resourceName string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[resourceName] = err
}

// GetSecret mocks the GetSecret operation
func (f *FakeGCPSecretManagerClient) GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.lookup(req.GetName())
	if err != nil {
		return nil, err
	}
	return s.proto(), nil
}

// CreateSecret mocks the CreateSecret operation
func (f *FakeGCPSecretManagerClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateRequests = append(f.CreateRequests, req)

	name := req.GetParent() + "/secrets/" + req.GetSecretId()
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	if _, exists := f.Secrets[name]; exists {
		return nil, status.Errorf(codes.AlreadyExists, "Secret [%s] already exists.", name)
	}
	if strings.Contains(req.GetSecretId(), "/") {
		return nil, status.Errorf(codes.InvalidArgument, "invalid secret id %q", req.GetSecretId())
	}

	s := &GCPSecretData{
		Name:           name,
		Labels:         maps.Clone(req.GetSecret().GetLabels()),
		Annotations:    maps.Clone(req.GetSecret().GetAnnotations()),
		VersionAliases: map[string]int64{},
	}
	f.Secrets[name] = s
	return s.proto(), nil
}

// UpdateSecret mocks the UpdateSecret operation. Only version_aliases can be
// updated.
func (f *FakeGCPSecretManagerClient) UpdateSecret(ctx context.Context, req *secretmanagerpb.UpdateSecretRequest) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.UpdateRequests = append(f.UpdateRequests, req)

	s, err := f.lookup(req.GetSecret().GetName())
	if err != nil {
		return nil, err
	}
	if etag := req.GetSecret().GetEtag(); etag != "" && etag != s.etag() {
		return nil, status.Errorf(codes.Aborted, "etag mismatch for %s", s.Name)
	}
	if !slices.Equal(req.GetUpdateMask().GetPaths(), []string{"version_aliases"}) {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported update mask %v", req.GetUpdateMask().GetPaths())
	}

	for alias, n := range req.GetSecret().GetVersionAliases() {
		if alias != strings.ToLower(alias) {
			return nil, status.Errorf(codes.InvalidArgument, "version alias %q must be lower case", alias)
		}
		if s.version(n) == nil {
			return nil, status.Errorf(codes.InvalidArgument, "version %d does not exist", n)
		}
	}
	s.VersionAliases = maps.Clone(req.GetSecret().GetVersionAliases())
	s.Etag++
	return s.proto(), nil
}

// AddSecretVersion mocks the AddSecretVersion operation
func (f *FakeGCPSecretManagerClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.lookup(req.GetParent())
	if err != nil {
		return nil, err
	}
	v := s.appendVersion(req.GetPayload().GetData())
	return v.proto(s.Name), nil
}

// AccessSecretVersion mocks the AccessSecretVersion operation. The version
// segment may be a number, an alias or "latest".
func (f *FakeGCPSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.Errors[req.GetName()]; ok {
		return nil, err
	}

	secretName, ref, ok := strings.Cut(req.GetName(), "/versions/")
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "invalid version name %q", req.GetName())
	}
	s, err := f.lookup(secretName)
	if err != nil {
		return nil, err
	}

	var v *GCPSecretVersionData
	switch n, isAlias := s.VersionAliases[ref]; {
	case ref == "latest":
		for _, candidate := range s.Versions {
			if candidate.State == secretmanagerpb.SecretVersion_ENABLED {
				v = candidate
			}
		}
	case isAlias:
		v = s.version(n)
	default:
		var number int64
		if _, err := fmt.Sscanf(ref, "%d", &number); err == nil {
			v = s.version(number)
		}
	}
	if v == nil {
		return nil, status.Errorf(codes.NotFound, "Secret Version [%s] not found.", req.GetName())
	}
	if v.State != secretmanagerpb.SecretVersion_ENABLED {
		return nil, status.Errorf(codes.FailedPrecondition, "Secret Version [%s] is in %s state.", req.GetName(), v.State)
	}

	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    fmt.Sprintf("%s/versions/%d", s.Name, v.Number),
		Payload: &secretmanagerpb.SecretPayload{Data: v.Data},
	}, nil
}

// ListSecretVersions mocks the ListSecretVersions operation. Versions come
// back newest first, as they do from the service.
func (f *FakeGCPSecretManagerClient) ListSecretVersions(ctx context.Context, req *secretmanagerpb.ListSecretVersionsRequest) providers.SecretVersionIterator {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.lookup(req.GetParent())
	if err != nil {
		return &FakeSecretVersionIterator{err: err}
	}

	it := &FakeSecretVersionIterator{}
	for _, v := range slices.Backward(s.Versions) {
		it.versions = append(it.versions, v.proto(s.Name))
	}
	return it
}

// FakeSecretVersionIterator is a mock implementation of providers.SecretVersionIterator
type FakeSecretVersionIterator struct {
	versions []*secretmanagerpb.SecretVersion
	index    int
	err      error
}

// Next returns the next version, or iterator.Done after the last one
func (it *FakeSecretVersionIterator) Next() (*secretmanagerpb.SecretVersion, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.index >= len(it.versions) {
		return nil, iterator.Done
	}
	v := it.versions[it.index]
	it.index++
	return v, nil
}

func (f *FakeGCPSecretManagerClient) lookup(name string) (*GCPSecretData, error) {
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	s, ok := f.Secrets[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found or has no versions.", name)
	}
	return s, nil
}

func (s *GCPSecretData) appendVersion(data []byte) *GCPSecretVersionData {
	v := &GCPSecretVersionData{
		Number:     int64(len(s.Versions) + 1),
		State:      secretmanagerpb.SecretVersion_ENABLED,
		CreateTime: time.Now(),
		Data:       slices.Clone(data),
	}
	s.Versions = append(s.Versions, v)
	return v
}

func (s *GCPSecretData) version(number int64) *GCPSecretVersionData {
	for _, v := range s.Versions {
		if v.Number == number {
			return v
		}
	}
	return nil
}

func (s *GCPSecretData) etag() string {
	return fmt.Sprintf("\"%d\"", s.Etag)
}

func (s *GCPSecretData) proto() *secretmanagerpb.Secret {
	return &secretmanagerpb.Secret{
		Name:           s.Name,
		Labels:         maps.Clone(s.Labels),
		Annotations:    maps.Clone(s.Annotations),
		VersionAliases: maps.Clone(s.VersionAliases),
		Etag:           s.etag(),
	}
}

func (v *GCPSecretVersionData) proto(secretName string) *secretmanagerpb.SecretVersion {
	return &secretmanagerpb.SecretVersion{
		Name:       fmt.Sprintf("%s/versions/%d", secretName, v.Number),
		State:      v.State,
		CreateTime: timestamppb.New(v.CreateTime),
	}
}
