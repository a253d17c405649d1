package config

// ConfigBackend is where persisted config keys live. The platform backend is a
// JSON file under Application Support on macOS and under XDG_CONFIG_HOME
// elsewhere.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
