// artnetsend is a small manual test tool: it pushes one DMX channel value to
// the gateway (or any Art-Net node) through a short-lived Art-Net
// controller.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	goartnet "github.com/Haba1234/go-artnet"

	node "artnet2dmx/internal/artnet"
)

var (
	network  string
	universe uint
	channel  uint
	value    uint
	hold     time.Duration
)

func init() {
	flag.StringVar(&network, "network", "10.0.0.0/24", "CIDR of the interface facing the node")
	flag.UintVar(&universe, "universe", 0, "Art-Net universe (0-32767)")
	flag.UintVar(&channel, "channel", 1, "DMX channel (1-512)")
	flag.UintVar(&value, "value", 255, "channel value (0-255)")
	flag.DurationVar(&hold, "hold", 2*time.Second, "how long to keep transmitting")
}

func main() {
	flag.Parse()
	if channel < 1 || channel > 512 || value > 255 || universe > 0x7FFF {
		fmt.Println("bad channel/value/universe")
		os.Exit(1)
	}

	ip, err := node.FindNodeIP(network)
	if err != nil || ip == nil {
		fmt.Printf("failed to find an interface inside %s: %v\n", network, err)
		os.Exit(1)
	}

	host, err := os.Hostname()
	if err != nil {
		fmt.Printf("failed to resolve hostname: %v\n", err)
		os.Exit(1)
	}
	host = strings.ToLower(strings.Split(host, ".")[0])

	sender := goartnet.NewController(host, ip, goartnet.NewDefaultLogger("info"), goartnet.MaxFPS(40))
	if err := sender.Start(); err != nil {
		fmt.Printf("failed to start controller: %v\n", err)
		os.Exit(1)
	}
	defer sender.Stop()

	var frame [512]byte
	frame[channel-1] = byte(value)

	// universe: high byte Net, low byte SubUni.
	var addr [2]byte
	binary.BigEndian.PutUint16(addr[:], uint16(universe))
	dest := goartnet.Address{Net: addr[0], SubUni: addr[1]}

	fmt.Printf("sending universe=%d channel=%d value=%d from %s for %s\n",
		universe, channel, value, ip, hold)

	deadline := time.Now().Add(hold)
	for time.Now().Before(deadline) {
		sender.SendDMXToAddress(frame, dest)
		time.Sleep(50 * time.Millisecond)
	}
}
