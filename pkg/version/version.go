package version

import (
	"fmt"
	"runtime"
)

// Name is the service name reported in logs and on the status API.
const Name = "udpburst"

// WireProtocol identifies the burst packet layout served by this build.
const WireProtocol = 1

// Build information. These variables are set at build time using ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
	OS        = runtime.GOOS
	Arch      = runtime.GOARCH
)

// Info contains version information.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Protocol  int    `json:"wire_protocol"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns the version information.
func GetInfo() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		Protocol:  WireProtocol,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        OS,
		Arch:      Arch,
	}
}

// String returns the full version string.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (wire protocol: %d, commit: %s, built: %s, go: %s, os/arch: %s/%s)",
		i.name(), i.Version, i.Protocol, i.GitCommit, i.BuildTime, i.GoVersion, i.OS, i.Arch)
}

// Short returns a short version string.
func (i Info) Short() string {
	return fmt.Sprintf("%s %s", i.name(), i.Version)
}

func (i Info) name() string {
	if i.Name == "" {
		return Name
	}
	return i.Name
}
