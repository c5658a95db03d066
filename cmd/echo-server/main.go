// Command echo-server runs a minimal rawhttpd server that echoes back
// whatever JSON object it receives, and answers /ping for health checks.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/n0x1m/rawhttpd"
)

func main() {
	httpPort := flag.Int("http", 8080, "HTTP port to listen on")
	httpsPort := flag.Int("https", 0, "HTTPS port to listen on, 0 to disable")
	crtPath := flag.String("cert", "", "TLS certificate path, required when -https is set")
	keyPath := flag.String("key", "", "TLS key path, required when -https is set")
	poolSize := flag.Int("pool", 0, "handler worker pool size, 0 for the default")
	flag.Parse()

	svc, err := rawhttpd.CreateService(rawhttpd.ServiceConfig{
		HTTPPort:        *httpPort,
		HTTPSPort:       *httpsPort,
		SSLCrtPath:      *crtPath,
		SSLKeyPath:      *keyPath,
		HandlerPoolSize: *poolSize,
	})
	if err != nil {
		log.Fatalf("create service: %v", err)
	}
	defer svc.Close()

	svc.Register("POST", "/echo", rawhttpd.ShapeMap, rawhttpd.MapHandler(func(s *rawhttpd.Session, body rawhttpd.Map) {
		rawhttpd.Reply(s, body, true, "", 200)
	}))

	log.Printf("rawhttpd listening on :%d", *httpPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("shutting down")
}
