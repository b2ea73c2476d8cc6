package node

import (
	"context"
	"fmt"
	"strings"

	"github.com/imamik/fleetrun/internal/fault"
)

const discoverScript = `hostname
uname -r
uname -p
getconf _NPROCESSORS_ONLN 2>/dev/null || grep -c ^processor /proc/cpuinfo
if [ -f /etc/os-release ]; then
	(. /etc/os-release; echo "$PRETTY_NAME")
elif [ -f /etc/redhat-release ]; then
	head -n 1 /etc/redhat-release
elif [ -f /etc/lsb-release ]; then
	(. /etc/lsb-release; echo "$DISTRIB_DESCRIPTION")
elif [ -f /etc/SuSE-release ]; then
	head -n 1 /etc/SuSE-release
elif [ "$(uname)" = "Darwin" ]; then
	echo "Mac OS X $(sw_vers -productVersion)"
else
	uname -s
fi`

// Discover learns the hostname, kernel, processor, core count and
// distribution of the node and stores them on n.
func (n *Node) Discover(ctx context.Context) (Info, error) {
	res, err := n.Run(ctx, discoverScript)
	if err != nil {
		return Info{}, err
	}
	if !res.OK() {
		return Info{}, fault.New(fault.Transport, "discovery on %s exited %d: %s", n.Address, res.ExitCode, res.Stderr)
	}

	lines := strings.Split(res.Trimmed(), "\n")
	if len(lines) < 5 {
		return Info{}, fmt.Errorf("unexpected discovery output from %s: %q", n.Address, res.Stdout)
	}
	n.Hostname = strings.TrimSpace(lines[0])
	n.Info = Info{
		Kernel:    strings.TrimSpace(lines[1]),
		Processor: strings.TrimSpace(lines[2]),
		Cores:     strings.TrimSpace(lines[3]),
		Distro:    strings.TrimSpace(strings.Join(lines[4:], " ")),
	}
	return n.Info, nil
}
