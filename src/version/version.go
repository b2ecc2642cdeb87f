package version

import (
	"fmt"

	"github.com/rcenet/rce/src/protocol"
)

// Flag contains extra info about the version. It is helpul for tracking
// versions while developing. It should always by empty on the master branch.
// This will be inforced in a continuous integration test.
const Flag = ""

var (
	// Version is The full version string
	Version = "0.1.0"

	// GitCommit is set with --ldflags "-X main.gitCommit=$(git rev-parse HEAD)"
	GitCommit string
)

func init() {
	if Flag != "" {
		Version += "-" + Flag
	}

	if len(GitCommit) >= 8 {
		Version += "-" + GitCommit[:8]
	}
}

// String returns the version together with the wire protocol version it
// speaks.
func String() string {
	return fmt.Sprintf("%s (protocol %d)", Version, protocol.ProtocolVersion)
}
