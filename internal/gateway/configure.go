package gateway

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	// defaultConfigPort is the UDP port the gateway listens on for
	// configuration datagrams.
	defaultConfigPort = 8003

	// cmdSetProxy instructs the gateway to route its cloud uploads through
	// the given HTTP proxy.
	cmdSetProxy uint16 = 0x0004

	configReplyTimeout = 3 * time.Second
)

// ConfigureGatewayProxy sends the configuration datagram that points the
// gateway at proxyHost:proxyPort as its upload proxy. The gateway applies the
// setting idempotently, so this is safe to reissue on every restart.
//
// The datagram layout is command (uint16), proxy port (uint16), host length
// (uint8), host bytes; all integers big-endian.
func ConfigureGatewayProxy(gatewayAddr string, configPort int, proxyHost string, proxyPort int) error {
	if configPort == 0 {
		configPort = defaultConfigPort
	}
	if len(proxyHost) > 255 {
		return fmt.Errorf("proxy host %q too long for config datagram", proxyHost)
	}

	var packet bytes.Buffer
	binary.Write(&packet, binary.BigEndian, cmdSetProxy)
	binary.Write(&packet, binary.BigEndian, uint16(proxyPort))
	packet.WriteByte(uint8(len(proxyHost)))
	packet.WriteString(proxyHost)

	conn, err := net.Dial("udp", net.JoinHostPort(gatewayAddr, strconv.Itoa(configPort)))
	if err != nil {
		return fmt.Errorf("could not reach gateway config port: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(packet.Bytes()); err != nil {
		return fmt.Errorf("could not send config datagram: %w", err)
	}

	// The gateway acknowledges with a short reply before applying the
	// setting. Some firmware revisions reboot immediately instead, so a
	// read timeout is not a failure.
	conn.SetReadDeadline(time.Now().Add(configReplyTimeout))
	reply := make([]byte, 16)
	if _, err := conn.Read(reply); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("error reading config reply: %w", err)
	}

	return nil
}
