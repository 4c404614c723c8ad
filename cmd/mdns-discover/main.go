package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rjboer/meaviz/internal/mdns"
)

func main() {
	timeout := flag.Int("timeout", 5, "Timeout in seconds")
	flag.Parse()

	fmt.Println("===============================================================")
	fmt.Println(" MEA playback server discovery")
	fmt.Println("===============================================================")
	fmt.Printf(" Service : %s.local\n", mdns.PlaybackService)
	fmt.Printf(" Timeout : %d seconds\n", *timeout)
	fmt.Println("---------------------------------------------------------------")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeout)*time.Second)
	defer cancel()

	start := time.Now()
	hosts, err := mdns.DiscoverPlayback(ctx)
	duration := time.Since(start)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(1)
	}

	if len(hosts) == 0 {
		fmt.Printf("No servers found (%s)\n", duration.Truncate(time.Millisecond))
		return
	}

	fmt.Printf("Discovered %d server(s) in %s\n",
		len(hosts), duration.Truncate(time.Millisecond))
	fmt.Println("===============================================================")

	for i, h := range hosts {
		fmt.Printf(" Server #%d\n", i+1)
		fmt.Println("---------------------------------------------------------------")
		fmt.Printf(" Instance : %s\n", h.Instance)
		fmt.Printf(" Hostname : %s\n", h.Hostname)
		fmt.Printf(" Port     : %d\n", h.Port)

		fmt.Println(" Addresses:")
		if len(h.Addresses) == 0 {
			fmt.Println("   <none>")
		} else {
			for _, ip := range h.Addresses {
				fmt.Printf("   - %s\n", ip.String())
			}
		}

		if info, err := h.Stream(); err != nil {
			fmt.Printf(" Stream   : unreadable TXT records (%v)\n", err)
		} else {
			fmt.Printf(" Stream   : %d channels, %d Hz, %d samples/segment, %d-byte samples\n",
				info.Channels, info.SampleRate, info.SegmentLength, info.Width)
		}

		fmt.Printf(" Connect  : meaviz -address %s -segment-length %d\n", h.Addr(), segmentOf(h))
		fmt.Println("===============================================================")
	}
}

func segmentOf(h mdns.Host) int {
	info, _ := h.Stream()
	return info.SegmentLength
}
