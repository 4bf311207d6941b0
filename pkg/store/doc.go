// Package store defines the contract between secretstage and a remote secret
// store, plus an in-memory implementation.
//
// The contract is deliberately narrow: six operations, each a single round
// trip, with strongly typed requests and responses. Implementations own
// transport concerns (timeouts, retries, credentials); secretstage never
// retries a store call itself.
//
// # Not found
//
// Operations that address a single secret report a missing secret or stage by
// returning an error for which IsNotFound is true, typically *NotFoundError.
// BatchGetCurrent never fails for missing secrets; it lists them in
// BatchResult.Errors with the ErrCodeNotFound code.
//
// # Payloads
//
// Secret values travel as JSON documents holding the plaintext under the
// ValueKey field. Other fields are opaque and preserved by the store.
//
// # Implementations
//
//   - Memory, in this package, for tests and local development
//   - internal/providers.AWSSecretsManagerStore for AWS Secrets Manager
//   - internal/providers.AWSSSMStore for AWS Systems Manager Parameter Store
//   - internal/providers.GCPSecretManagerStore for Google Secret Manager
//   - internal/providers.AzureKeyVaultStore for Azure Key Vault
//   - internal/providers.SQLStore for PostgreSQL and MySQL
//
// Stores without native stage labels derive CurrentLabel and PreviousLabel
// from version order and refuse to attach them explicitly.
package store
