// Package fakes provides test doubles for secretstage store interfaces.
//
// FakeStore stands in for a whole store.Client and records every call. The
// SDK fakes (Secrets Manager, Parameter Store, Secret Manager, Key Vault)
// stand in for cloud clients underneath the stores in internal/providers,
// with the service's own versioning and error behaviour. Fakes are manually
// implemented (not generated) to provide precise control over test behavior.
//
// Usage:
//
//	fake := fakes.NewFakeStore().
//	    WithVersion("app/db_password", "hunter2", "CLEO-001")
//	values, err := fetch.New(fake).SecretValuesByEnvName(ctx, desired)
//	// Assert on values and fake.Calls()...
package fakes
