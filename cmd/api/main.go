package main

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memberops/reconcile/internal/api"
	"github.com/memberops/reconcile/internal/cms"
	"github.com/memberops/reconcile/internal/config"
	"github.com/memberops/reconcile/internal/crm"
	"github.com/memberops/reconcile/internal/importer"
	"github.com/memberops/reconcile/internal/logger"
	"github.com/memberops/reconcile/internal/matching"
	"github.com/memberops/reconcile/internal/recon"
	"github.com/memberops/reconcile/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(cfg.Env)

	st, err := store.NewStore(cfg.DBSource, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer st.Close()

	matchCfg := matching.DefaultConfig()
	if cfg.MinConfidence > 0 {
		matchCfg.MinConfidence = cfg.MinConfidence
	}

	imp := importer.New(st, log)
	matcher := matching.New(st, matchCfg, log)
	orchestrator := recon.NewOrchestrator(
		st,
		crm.NewClient(cfg.GHLBaseURL, cfg.GHLAPIKey, log),
		cms.NewClient(cfg.WPBaseURL, cfg.WPAPIKey, log),
		log,
	)
	handler := api.NewHandler(st, imp, matcher, orchestrator, log)

	r := mux.NewRouter()
	r.Use(api.Recovery(log), api.RequestLogger(log))
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	handler.Routes(r)

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
