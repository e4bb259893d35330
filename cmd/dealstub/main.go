package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kyodoai/dealdesk/internal/stub"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	replyDelay := flag.Duration("reply-delay", 2*time.Second, "simulated agent reply latency")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	srv := stub.NewServer(logger)
	srv.ReplyDelay = *replyDelay

	if err := srv.Start(*addr); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
