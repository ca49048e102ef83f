package database

import (
	"net"
	"net/url"
)

// Params are PostgreSQL connection parameters read from the package env file.
type Params struct {
	// Name is the database name.
	Name string
	// Host is the server host name or address.
	Host string
	// Port is the server port, kept as text as it appears in the env file.
	Port string
	// User is the role the game server connects as.
	User string
	// Password is the password of User.
	Password string
}

// URL renders a postgres:// connection URL with every component escaped.
// The query carries driver or tool options such as application_name.
func (p Params) URL(query url.Values) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     "/" + p.Name,
		RawQuery: query.Encode(),
	}

	return u.String()
}

// Secrets returns the values that must never appear in logs.
func (p Params) Secrets() []string {
	if p.Password == "" {
		return nil
	}

	secrets := []string{p.Password}

	// The URL form of the password differs when it contains reserved characters.
	if escaped := url.UserPassword("", p.Password).String(); len(escaped) > 1 && escaped[1:] != p.Password {
		secrets = append(secrets, escaped[1:])
	}

	return secrets
}
