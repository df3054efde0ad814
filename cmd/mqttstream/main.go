// Command mqttstream streams MQTT traffic between a broker and stdio.
//
//	mqttstream sub 'sensors/#'            print received messages
//	mqttstream pub alerts < lines.txt     publish one message per line
//	mqttstream bridge < ops.jsonl         run operations, print notifications
//
// Configuration is read from --config, then MQTTSTREAM_* environment
// variables, then flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(connectPaho)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
