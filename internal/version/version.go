package version

// Version is the service version. Overridden at build time with
// -ldflags "-X github.com/hrygo/mirrord/internal/version.Version=...".
var Version = "0.1.0"

// Flavor names the memory behaviour advertised by the health endpoint.
const Flavor = "smart-memory"

func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return Version + "-dev"
	}
	return Version
}
