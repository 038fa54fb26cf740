package config

import "time"

// ConfigBackend abstracts persistent config storage. The default is a
// sectioned YAML file under $XDG_CONFIG_HOME/frontdesk.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetDuration(key string) (val time.Duration, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetDuration(key string, val time.Duration) error
	Delete(key string) error
}
