// Package secret defines the value objects secretstage uses to address secrets
// and their application-controlled versions.
//
// # Identity
//
// Every secret has three name representations, all derived from a single
// lowercase bare name:
//
//   - Name:        "database_password"
//   - StoreKey:    "<namespace>/database_password" (the identifier in the secret store)
//   - PointerName: "SECRET_VERSION_ENV_DATABASE_PASSWORD" (an environment variable
//     whose value is the version number the application wants live)
//
// The environment variable that receives the secret value itself is the
// upper-cased bare name ("DATABASE_PASSWORD"), see Identity.EnvName.
//
// Two identities are equal when their bare names are equal; the namespace is
// not part of identity equality.
//
// # Stage
//
// A Stage is a monotonic version number layered on top of the store's own
// versioning. It is written to the store as a label of the form
// "<prefix><number padded to 3 digits>", e.g. "CLEO-001". The store's native
// "current" pointer is never interpreted: an application pins the stage it
// wants through its pointer variable, and NewestStage means "whatever the store
// currently serves".
//
// # Naming
//
// Prefixes and the default namespace are runtime configuration, carried by a
// Naming value rather than package globals:
//
//	naming := secret.Naming{
//	    Namespace:     "myapp_production",
//	    PointerPrefix: secret.DefaultPointerPrefix,
//	    StagePrefix:   secret.DefaultStagePrefix,
//	}
//	id, err := naming.Parse(secret.Source{Name: "database_password"})
//	if err != nil {
//	    return err
//	}
//	label := naming.StageLabel(secret.FirstStage) // "CLEO-001"
package secret
