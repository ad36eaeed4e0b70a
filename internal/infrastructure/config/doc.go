// Package config loads the door-lock gateway configuration.
//
// Values are layered: built-in defaults, then the YAML file, then DOORLOCK_*
// environment variables. Load validates the result and reports every problem
// at once rather than stopping at the first.
//
// Secrets (the JWT signing key, broker credentials, the InfluxDB token) are
// expected from the environment; the checked-in configs/config.yaml leaves
// them blank.
//
//	cfg, err := config.Load(os.Getenv("DOORLOCK_CONFIG"))
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
//	timeout := cfg.Dispatch.GetCommandTimeout()
package config
