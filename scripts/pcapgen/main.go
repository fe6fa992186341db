package main

import (
	"OFSniff/internal/ofgen"
	"OFSniff/internal/openflow"
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"
)

func main() {
	outputFile := flag.String("o", "openflow.pcap", "Output pcap file path")
	switches := flag.Int("s", 4, "Number of switches")
	echoes := flag.Int("e", 100, "Echo exchanges per switch")
	ctrlPort := flag.Int("p", 6653, "Controller port")
	version := flag.Int("v", int(openflow.Version13), "OpenFlow wire version")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	base := time.Now().Truncate(time.Second)
	ctrl := net.IPv4(10, 0, 0, 254)
	conns := make([]*ofgen.Conn, 0, *switches)

	log.Printf("Generating %d switch sessions into %s...", *switches, *outputFile)
	for i := 0; i < *switches; i++ {
		sw := net.IPv4(10, 0, byte(i>>8), byte(i+1))
		c := ofgen.NewConn(sw, ctrl, uint16(40000+i), uint16(*ctrlPort), uint8(*version))
		at := base.Add(time.Duration(i) * time.Millisecond)
		must(c.Handshake(at))
		must(c.Setup(at.Add(5*time.Millisecond), time.Duration(rand.Intn(5000)+500)*time.Microsecond))
		for j := 0; j < *echoes; j++ {
			at = at.Add(100 * time.Millisecond)
			rtt := time.Duration(rand.Intn(4000)+200) * time.Microsecond
			must(c.Echo(at, rtt))
			if j%10 == 0 {
				frame := make([]byte, 64)
				rand.Read(frame)
				must(c.PacketIn(at.Add(50*time.Millisecond), rtt*2, uint32(j+1), uint32(rand.Intn(48)+1), frame))
			}
		}
		conns = append(conns, c)
	}

	frames := ofgen.Merge(conns...)
	if err := ofgen.WritePcap(f, frames); err != nil {
		log.Fatalf("Failed to write capture: %v", err)
	}
	log.Printf("Successfully generated %d packets into %s.", len(frames), *outputFile)
}

func must(err error) {
	if err != nil {
		log.Fatalf("Failed to build traffic: %v", err)
	}
}
