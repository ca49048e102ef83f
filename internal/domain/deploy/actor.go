package deploy

// Actor identifies who runs a deployment.
type Actor struct {
	// Hostname is the machine name the installer runs on.
	Hostname string
	// Username is the system user running the installer.
	Username string
}
