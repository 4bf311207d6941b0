// Package secure keeps reconciled secret values encrypted in memory until a
// child process needs them.
//
// Values are sealed into memguard enclaves (XSalsa20Poly1305, mlocked where
// the platform allows it). A SealedEnv implements reconcile.Env, so the
// reconciler writes fetched values straight into enclaves and the plaintext
// only reappears when Environ builds the child's environment.
//
//	env := secure.NewSealedEnv(os.Environ())
//	defer env.Destroy()
//
//	if _, err := reconcile.New(policy).Apply(values, env); err != nil {
//	    return err
//	}
//	environ, err := env.Environ()
//	if err != nil {
//	    return err
//	}
//	cmd.Env = environ
//
// Call memguard.Purge at process exit for a final wipe of every enclave key.
package secure
