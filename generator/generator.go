// Package generator produces the identifiers the driver stamps on runs.
package generator

import (
	"bytes"
	"encoding/binary"
	"net"

	"github.com/bwmarrin/snowflake"
)

// IDbyIP derives a numeric node ID from an IPv4 address, for running
// several drivers side by side without ID collisions.
func IDbyIP(ip string) uint32 {
	var id uint32
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return 1
	}
	binary.Read(bytes.NewBuffer(parsed.To4()), binary.BigEndian, &id)
	return id
}

// NewNode builds a snowflake node for run-ID generation. Node IDs above
// the snowflake range are folded back into it.
func NewNode(nodeID int64) (*snowflake.Node, error) {
	return snowflake.NewNode(nodeID % 1024)
}
