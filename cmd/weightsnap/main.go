// Command weightsnap refreshes the published weight snapshot from the Eufy
// Life API. It runs once by default, which is how the scheduled CI job uses
// it; with -interval it keeps polling and serves the latest snapshot over
// HTTP for local preview.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	sitekeeper "github.com/yaserodev/sitekeeper"
)

const (
	envEufyEmail        = "EUFY_EMAIL"
	envEufyPassword     = "EUFY_PASSWORD"
	envEufyClientID     = "EUFY_CLIENT_ID"
	envEufyClientSecret = "EUFY_CLIENT_SECRET"
	envEufyDeviceID     = "EUFY_DEVICE_ID"
	envEufyAPIBase      = "EUFY_API_BASE"
	envTargetWeightKg   = "TARGET_WEIGHT_KG"
	envPreviousURL      = "PREVIOUS_WEIGHT_URL"
)

func main() {
	// A .env file is a convenience for local runs; in CI the secrets come
	// from the platform.
	_ = godotenv.Load()

	var (
		out      = flag.String("out", "public/data/weight.json", "Path of the snapshot JSON file to write")
		prevURL  = flag.String("prev-url", os.Getenv(envPreviousURL), "URL of the last published snapshot, used to seed the initial weight")
		interval = flag.Duration("interval", 0, "Polling interval; 0 runs once and exits")
		timeout  = flag.Duration("timeout", 20*time.Second, "Timeout for each Eufy API call")
		addr     = flag.String("addr", ":4040", "Address of the preview HTTP server (interval mode only)")
		static   = flag.String("static", "public", "Static site directory served by the preview server")
	)
	flag.Usage = usage
	flag.Parse()

	logger, err := newLogger()
	if err != nil {
		exit(err)
	}

	updater, err := setup(logger, *out, *prevURL, *timeout)
	if err != nil {
		exitUsage(err)
	}

	if *interval == 0 {
		if _, err := updater.Update(); err != nil {
			logger.Errorw("weight snapshot not updated, previous value kept",
				"out", *out,
				"err", err.Error())
			os.Exit(1)
		}
		return
	}

	if *interval < time.Second {
		exitUsage(fmt.Errorf("minimum interval is one second"))
	}
	srv := setupHTTP(logger, *addr, *static, updater)
	defer srv.Shutdown(context.Background())
	logger.Infow("starting")
	updater.Watch(*interval)
}

func newLogger() (*zap.SugaredLogger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	switch strings.ToLower(os.Getenv("ENV")) {
	case "prod", "production":
		logger, err = zap.NewProduction()
	default:
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func setup(logger *zap.SugaredLogger, out, prevURL string, timeout time.Duration) (*sitekeeper.WeightUpdater, error) {
	eufyOptions := []func(*sitekeeper.EufyClient){
		sitekeeper.WithEufyLogger(logger),
		sitekeeper.WithEufyTimeout(timeout),
	}
	if id := os.Getenv(envEufyDeviceID); id != "" {
		eufyOptions = append(eufyOptions, sitekeeper.WithEufyDeviceID(id))
	}
	if base := os.Getenv(envEufyAPIBase); base != "" {
		eufyOptions = append(eufyOptions, sitekeeper.WithEufyBaseURL(base))
	}
	eufy, err := sitekeeper.NewEufyClient(
		os.Getenv(envEufyEmail),
		os.Getenv(envEufyPassword),
		os.Getenv(envEufyClientID),
		os.Getenv(envEufyClientSecret),
		eufyOptions...)
	if err != nil {
		return nil, err
	}

	updaterOptions := []func(*sitekeeper.WeightUpdater){
		sitekeeper.WithUpdaterLogger(logger),
	}
	if prevURL != "" {
		updaterOptions = append(updaterOptions, sitekeeper.WithPreviousWeightURL(prevURL))
	}
	if raw := strings.TrimSpace(os.Getenv(envTargetWeightKg)); raw != "" {
		target, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be a number, got %q", envTargetWeightKg, raw)
		}
		updaterOptions = append(updaterOptions, sitekeeper.WithTargetWeight(target))
	}
	return sitekeeper.NewWeightUpdater(eufy, out, updaterOptions...)
}

func setupHTTP(logger *zap.SugaredLogger, addr, static string, updater *sitekeeper.WeightUpdater) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			http.Error(rw, "Send requests with GET", http.StatusMethodNotAllowed)
			return
		}
		snap, ok := updater.Latest()
		if !ok {
			http.Error(rw, "no snapshot written yet", http.StatusNotFound)
			return
		}
		e := json.NewEncoder(rw)
		if err := e.Encode(snap); err != nil {
			http.Error(rw,
				fmt.Sprintf("error encoding response: %v", err),
				http.StatusInternalServerError)
		}
	})
	mux.Handle("/", http.FileServer(http.Dir(static)))
	srv := &http.Server{
		Addr:           addr,
		Handler:        mux,
		ReadTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Errorw("error running HTTP server", "err", err)
		}
		logger.Infow("HTTP server stopped")
	}()
	return srv
}

func exit(err error) {
	log.SetFlags(0)
	log.SetPrefix("")
	log.Fatal(err)
}

func exitUsage(err error) {
	log.SetFlags(0)
	log.SetPrefix(filepath.Base(os.Args[0]) + ": ")
	log.Print(err)
	flag.Usage()
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(),
		`usage: %s [optional arguments]

Fetches the latest weight from the Eufy Life API and writes the snapshot
JSON consumed by the page. If the fetch fails, the previously published
file is left untouched and the command exits nonzero.

Optional arguments:
  -out         Path of the snapshot file. Default "public/data/weight.json".
  -prev-url    URL of the last published snapshot. Fetched to seed the
               initial weight when no local snapshot file exists, as in a
               fresh CI checkout. Defaults to $%s.
  -interval    Keep polling with this interval instead of running once.
               Must be 1s or greater when set.
  -timeout     Timeout for each Eufy API call. Default 20s.
  -addr        Address of the preview HTTP server in interval mode.
               Default ":4040".
  -static      Static site directory served by the preview server.
               Default "public".

environment:
  %-20s Eufy account email. Required.
  %-20s Eufy account password. Required.
  %-20s Eufy API client id. Required.
  %-20s Eufy API client secret. Required.
  %-20s Pin fetching to this device id instead of
                       auto-detecting the scale.
  %-20s Override the Eufy API base URL.
  %-20s Goal weight in kilograms. Default 55.0.
  %-20s URL of the last published snapshot.
`,
		filepath.Base(os.Args[0]),
		envPreviousURL,
		envEufyEmail,
		envEufyPassword,
		envEufyClientID,
		envEufyClientSecret,
		envEufyDeviceID,
		envEufyAPIBase,
		envTargetWeightKg,
		envPreviousURL)
}
