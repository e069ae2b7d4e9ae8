// Package version reports the remit build, stamped via ldflags:
//
//	go build -ldflags "-X github.com/teranos/remit/version.Version=v1.2.0 \
//	  -X github.com/teranos/remit/version.CommitHash=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// Name prefixes every rendered version
const Name = "remit"

var (
	CommitHash = "dev"
	BuildTime  = "unknown"
	Version    = "dev"
)

// Info describes the running binary
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Tagged reports whether the build carries a release version
func (i Info) Tagged() bool {
	return i.Version != "" && i.Version != "dev"
}

// ServiceVersion is the version reported to telemetry: the release tag, or
// dev+<short commit> for untagged builds
func (i Info) ServiceVersion() string {
	if i.Tagged() {
		return i.Version
	}
	return "dev+" + i.short()
}

// UserAgent identifies remit to ledger rails
func (i Info) UserAgent() string {
	return fmt.Sprintf("%s/%s (%s)", Name, i.ServiceVersion(), i.Platform)
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Name, i.ServiceVersion(), i.short(), i.BuildTime)
}

func (i Info) short() string {
	if len(i.CommitHash) > 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
