package lock

import (
	"fmt"
	"net"
	"os"

	"github.com/google/uuid"
)

// Fingerprint returns "<local-ip>_<pid>_<rand>", the holder identity used
// by both lock variants to tell their own lease from another holder's.
// The local IP is resolved by dialing a UDP socket to an external address
// (no packet is actually sent) and reading back the local endpoint chosen
// by the kernel's routing table, falling back to loopback if that fails
// (e.g. no network namespace route). The random suffix guards against two
// containers in the same PID namespace landing on the same "<ip>_<pid>"
// pair.
func Fingerprint() string {
	ip := localIP()
	return disambiguate(fmt.Sprintf("%s_%d", ip, os.Getpid()))
}

func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// disambiguate appends a short random suffix to a fingerprint, covering
// the case where two processes on the same host collide on "<ip>_<pid>"
// (container PID-namespace reuse).
func disambiguate(fp string) string {
	return fp + "_" + uuid.NewString()[:8]
}
