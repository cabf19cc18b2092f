package main

//go-build: CGO_ENABLED=0

import (
	"flag"

	"github.com/golang/glog"

	fx "github.com/robotalks/radiogw/pkg/framework"
	"github.com/robotalks/radiogw/pkg/node"
	"github.com/robotalks/radiogw/pkg/radio"
	"github.com/robotalks/radiogw/pkg/radio/udp"
)

var (
	addr  = "aa:00:00:00:00:01"
	group = udp.DefaultGroup
	iface string
)

func init() {
	flag.StringVar(&addr, "addr", addr, "Hardware address of the simulated node.")
	flag.StringVar(&group, "group", group, "Multicast group shared with the gateway.")
	flag.StringVar(&iface, "iface", iface, "Network interface for the multicast group.")
	node.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	hw, err := radio.ParseAddr(addr)
	if err != nil {
		glog.Exit(err)
	}
	n := node.NewConfig().NewNode(udp.New(udp.Config{Addr: hw, Group: group, Interface: iface}))
	fx.NewRunner().
		HandleSignals().
		Go(fx.NamedRun("node", n)).
		RunOrFail()
}
