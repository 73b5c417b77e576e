//go:build !mips && !mipsle

// Command canmon opens one or more channels on a USB adapter, sets
// them bus-on at a given bitrate, and prints every received frame
// until interrupted or an idle timeout elapses. It is a Go rendition
// of the vendor's canmonitor.c sample, not a general-purpose tool.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"

	"github.com/quadcan/canlink"
	"github.com/quadcan/canlink/pkg/channel"
	"github.com/quadcan/canlink/pkg/usbtransport"
)

const (
	defaultVendorID  = 0x1234
	defaultProductID = 0xabcd
)

func main() {
	log.SetLevel(log.InfoLevel)

	bitrate := flag.Int("b", 500000, "arbitration bitrate")
	dataBitrate := flag.Int("B", 0, "CAN-FD data bitrate (0 disables FD)")
	idleSeconds := flag.Int("t", 0, "exit after this many seconds with no frames (0 = never)")
	maxFrames := flag.Int("l", 0, "exit after reading this many frames (0 = unlimited)")
	silent := flag.Bool("s", false, "suppress per-frame output")
	vid := flag.Uint("vid", defaultVendorID, "USB vendor id")
	pid := flag.Uint("pid", defaultProductID, "USB product id")
	flag.Usage = printUsage
	flag.Parse()

	channels, err := parseChannelArgs(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printUsage()
		os.Exit(1)
	}

	transport, err := usbtransport.Open(gousb.ID(*vid), gousb.ID(*pid))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open USB transport: %v\n", err)
		os.Exit(1)
	}
	dev := channel.NewDevice(transport)
	defer dev.Close()

	opened := make([]*channel.Channel, 0, len(channels))
	for _, idx := range channels {
		ch := dev.Channel(idx)
		flags := canlink.OpenFlags(0)
		if *dataBitrate > 0 {
			flags |= canlink.OpenCanFD
		}
		if err := ch.Open(flags); err != nil {
			fmt.Fprintf(os.Stderr, "open channel %d: %v\n", idx, err)
			os.Exit(1)
		}
		if err := ch.SetBusParameters(*bitrate, 0, 0); err != nil {
			fmt.Fprintf(os.Stderr, "set bus parameters on channel %d: %v\n", idx, err)
			os.Exit(1)
		}
		if *dataBitrate > 0 {
			if err := ch.SetBusParametersFd(*dataBitrate, 0, 0); err != nil {
				fmt.Fprintf(os.Stderr, "set FD bus parameters on channel %d: %v\n", idx, err)
				os.Exit(1)
			}
		}
		if err := ch.BusOn(); err != nil {
			fmt.Fprintf(os.Stderr, "bus-on channel %d: %v\n", idx, err)
			os.Exit(1)
		}
		opened = append(opened, ch)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	for _, ch := range opened {
		go readLoop(ch, *silent, *idleSeconds, *maxFrames, done)
	}

	remaining := len(opened)
	for remaining > 0 {
		select {
		case <-stop:
			remaining = 0
		case <-done:
			remaining--
		}
	}

	for _, ch := range opened {
		if err := ch.BusOff(); err != nil {
			log.WithError(err).Warn("busOff failed during shutdown")
		}
	}
}

func readLoop(ch *channel.Channel, silent bool, idleSeconds, maxFrames int, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	var count int
	var idle time.Duration
	for {
		timeoutMs := 1000
		frame, err := ch.ReadWait(timeoutMs)
		if err != nil {
			idle += time.Duration(timeoutMs) * time.Millisecond
			if idleSeconds > 0 && idle >= time.Duration(idleSeconds)*time.Second {
				fmt.Printf("idle for %ds, exiting read loop\n", idleSeconds)
				return
			}
			continue
		}
		idle = 0
		count++

		if !silent {
			printFrame(frame)
		}
		if maxFrames > 0 && count >= maxFrames {
			return
		}
	}
}

func printFrame(frame canlink.Frame) {
	if frame.Flags&canlink.FlagErrorFrame != 0 {
		fmt.Printf("ERROR FRAME flags:0x%x time:%d\n", frame.Flags, frame.TimestampUs)
		return
	}
	fmt.Printf("id:%x dlc:%d data:", frame.ID, frame.DLC)
	for _, b := range frame.Payload() {
		fmt.Printf(" %02x", b)
	}
	fmt.Printf(" flags:0x%x time:%d\n", frame.Flags, frame.TimestampUs)
}

func parseChannelArgs(args []string) ([]uint8, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one channel index is required")
	}
	channels := make([]uint8, 0, len(args))
	for _, arg := range args {
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || n < 0 || n > 255 {
			return nil, fmt.Errorf("invalid channel index %q", arg)
		}
		channels = append(channels, uint8(n))
	}
	return channels, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <channel> [<channel2>...]\n", os.Args[0])
	flag.PrintDefaults()
}
