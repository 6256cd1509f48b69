// Metadata API
// Copyright (c) 2017, NCI, Australian National University.

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/nci/gomemcache/memcache"
	"github.com/nci/s2dash/mas"
	"github.com/nci/s2dash/utils"
)

var (
	dbDriver = flag.String("driver", utils.DefaultIndexDriver, "index database driver: sqlite or postgres")
	dbDSN    = flag.String("dsn", "mas.db", "index database DSN")
	dbPool   = flag.Int("pool", 8, "database pool size")
	dbLimit  = flag.Int("limit", 64, "database concurrent requests")
	httpPort = flag.Int("port", 8888, "http port")
	mcURI    = flag.String("memcache", "", "memcache uri host:port")
	logLevel = flag.String("log_level", "info", "log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	log := utils.Component(utils.NewLogger(os.Stdout, *logLevel, false), "mas")
	log.Info().Str("driver", *dbDriver).Str("dsn", *dbDSN).Int("pool", *dbPool).Int("port", *httpPort).Msg("starting metadata api")

	index, err := mas.Open(*dbDriver, *dbDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open index")
	}
	defer index.Close()

	if *dbDriver == "postgres" {
		index.DB.SetMaxIdleConns(*dbPool)
		index.DB.SetMaxOpenConns(*dbLimit)
	}

	handler := &mas.Handler{Index: index, Log: log}
	if *mcURI != "" {
		// lazy connection; errors returned in .Get
		handler.MC = memcache.New(*mcURI)
	}

	http.Handle("/", handler)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *httpPort), nil); err != nil {
		log.Fatal().Err(err).Msg("metadata api stopped")
	}
}
