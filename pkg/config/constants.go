package config

const (
	EnvPrefix = "podgen"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "PODGEN_DB_DSN"
	EnvDBHost = "PODGEN_DB_HOST"
	EnvDBUser = "PODGEN_DB_USER"
	EnvDBName = "PODGEN_DB_NAME"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
