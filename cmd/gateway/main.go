package main

//go-build: CGO_ENABLED=0

import (
	"flag"

	"github.com/golang/glog"

	fx "github.com/robotalks/radiogw/pkg/framework"
	"github.com/robotalks/radiogw/pkg/gateway"
)

func init() {
	gateway.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	gw, err := gateway.MustNewConfig().NewGateway()
	if err != nil {
		glog.Exit(err)
	}
	fx.NewRunner().
		HandleSignals().
		Go(fx.ServiceRun("gateway", gw)).
		RunOrFail()
}
