package model

// Application represents a tenant application of the server.
//
// Fields:
//  ID    – application identifier (primary key).
//  Roles – roles granted to callers authenticated under this application.
type Application struct {
	ID    string   // applications.id
	Roles []string // applications.roles (comma separated)
}

// ApplicationVersion is one issued credential set of an application. The
// application key identifies the version on the wire and the application
// secret is mixed into envelope key derivation.
//
// Fields:
//  ApplicationKey    – unique key identifying the version (lookup key).
//  ApplicationID     – owning application.
//  ApplicationSecret – shared secret mixed into key derivation.
//  Supported         – whether the version may still be used.
type ApplicationVersion struct {
	ApplicationKey    string // application_versions.application_key
	ApplicationID     string // application_versions.application_id
	ApplicationSecret string // application_versions.application_secret
	Supported         bool   // application_versions.supported
}
