package registry

import (
	"net"
	"strconv"
)

// probePort reports whether 127.0.0.1:port can be bound right now.
func probePort(port int) bool {
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
