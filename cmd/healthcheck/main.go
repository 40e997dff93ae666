// Command healthcheck is a small standalone binary (grounded on
// decypharr's cmd/healthcheck) for container HEALTHCHECK directives: it
// hits flowgate's own /health endpoint and exits 0/1 accordingly.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	var bind string
	flag.StringVar(&bind, "bind", "127.0.0.1:6500", "flowgate's API_BIND address")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !checkHealth(ctx, bind) {
		fmt.Fprintln(os.Stderr, "flowgate: health check failed")
		os.Exit(1)
	}
	os.Exit(0)
}

func checkHealth(ctx context.Context, bind string) bool {
	url := fmt.Sprintf("http://%s/health", addrForDial(bind))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// addrForDial rewrites a listen address like "0.0.0.0:6500" to something
// dialable from inside the same container ("127.0.0.1:6500").
func addrForDial(bind string) string {
	for i := len(bind) - 1; i >= 0; i-- {
		if bind[i] == ':' {
			if bind[:i] == "0.0.0.0" || bind[:i] == "" {
				return "127.0.0.1" + bind[i:]
			}
			return bind
		}
	}
	return bind
}
