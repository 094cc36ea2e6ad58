package driver

import (
	"context"
	"log/slog"

	"github.com/absmach/gradsync"
	"github.com/absmach/gradsync/search"
	"github.com/absmach/gradsync/search/api"
	"github.com/absmach/gradsync/search/middleware"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
)

// serve starts the status API on the process hosting rank 0 when http_port
// is set, and returns a function that stops it.
func (j *Job) serve(ctx context.Context) func() {
	if j.cfg.HTTPPort == "" || (j.cfg.Transport == gradsync.TransportMQTT && j.cfg.Rank != 0) {
		return func() {}
	}

	svc := search.NewService(j.repos.Trials, j.cfg.Maximize)
	svc = middleware.Logging(j.logger, svc)
	if j.metrics != nil {
		counter, latency := j.metrics(svcName, "api")
		svc = middleware.Metrics(counter, latency, svc)
	}

	sctx, cancel := context.WithCancel(ctx)
	hs := httpserver.NewServer(sctx, cancel, svcName, server.Config{Port: j.cfg.HTTPPort}, api.MakeHandler(svc, j.logger, j.instanceID), j.logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := hs.Start(); err != nil {
			j.logger.Warn("status API stopped", slog.Any("error", err))
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
