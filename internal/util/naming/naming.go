package naming

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHostPrefix is the hostname prefix used for cloud nodes.
const DefaultHostPrefix = "ofsnode"

// Sequence hands out increasing numbers starting at 1. It is safe for
// concurrent use.
type Sequence struct {
	mu   sync.Mutex
	next int
}

// NewSequence returns a sequence whose first value is start+1.
func NewSequence(start int) *Sequence {
	return &Sequence{next: start}
}

// Next returns the next number in the sequence.
func (s *Sequence) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next
}

// Current returns the last number handed out, or the start value.
func (s *Sequence) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Advance moves the sequence past n so Next never returns n or lower.
func (s *Sequence) Advance(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = max(s.next, n)
}

// HostNumber returns the node number of a name produced by Hostname or
// Instance with the given prefix.
func HostNumber(prefix, name string) (int, bool) {
	if prefix == "" {
		prefix = DefaultHostPrefix
	}
	rest, ok := strings.CutPrefix(name, prefix+"-")
	if !ok {
		return 0, false
	}
	digits := rest
	if i := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		digits = rest[:i]
	}
	if len(digits) < 3 {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Hostname returns the cluster-unique hostname for node number n.
func Hostname(prefix string, n int) string {
	if prefix == "" {
		prefix = DefaultHostPrefix
	}
	return fmt.Sprintf("%s-%03d", prefix, n)
}

// Instance returns the vendor-side name of the n-th instance of a request.
func Instance(prefix string, n int, suffix string) string {
	return Hostname(prefix, n) + suffix
}

// InstanceTag returns the descriptive Name tag for EC2 instances:
// "{name} {timestamp} {image}".
func InstanceTag(name string, at time.Time, image string) string {
	return fmt.Sprintf("%s %s %s", name, at.Format("2006-01-02 15:04:05"), image)
}

// BatchScript returns the file name of the n-th generated batch script.
func BatchScript(n int) string {
	return fmt.Sprintf("runcommand%d.sh", n)
}

// SSHKey returns the name of the cluster's registered SSH key.
func SSHKey(cluster string) string {
	return fmt.Sprintf("%s-key", cluster)
}

// FloatingIP returns the name of the n-th floating IP allocated for a cluster.
func FloatingIP(cluster string, n int) string {
	return fmt.Sprintf("%s-ip-%d", cluster, n)
}

// TestLog returns the file name of a test case's log.
func TestLog(pkg, name string) string {
	return fmt.Sprintf("%s-%s.log", pkg, name)
}
