package config

const (
	// EnvPrefix is intentionally empty: every field carries its full
	// CASHLOOP_-prefixed variable name in its envconfig tag.
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "CASHLOOP_DB_DSN"
	EnvDBHost = "CASHLOOP_DB_HOST"
	EnvDBUser = "CASHLOOP_DB_USER"
	EnvDBName = "CASHLOOP_DB_NAME"
)

var requiredDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
