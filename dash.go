package main

/* s2dash is a web server for exploring Sentinel-2 acquisitions.
   Users pick an acquisition time, a band combination or a
   spectral index and optional cloud masking; the server renders
   the stretched RGB composite or the colour mapped index, the
   histogram of the last index and per-pixel values. Scenes come
   from the metadata index (see mas) or from crawling the data
   directory. The catalogue of combinations and indices is
   specified in the config.json document and reloaded on SIGHUP
   or when the file changes. */

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/CloudyKit/jet"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/gomemcache/memcache"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	extr "github.com/nci/s2dash/crawl/extractor"
	"github.com/nci/s2dash/mas"
	"github.com/nci/s2dash/metrics"
	proc "github.com/nci/s2dash/processor"
	"github.com/nci/s2dash/utils"
)

const sessionCookie = "s2dash_session"

// dashServer holds the state shared by all dashboard handlers.
type dashServer struct {
	config   *utils.ConfigHolder
	store    utils.RasterStore
	sessions *proc.SessionStore
	limiter  *proc.ConcLimiter
	mc       *memcache.Client
	view     *jet.Set
	reMap    map[string]*regexp.Regexp
	upgrader websocket.Upgrader

	metricsLogger metrics.Logger

	Info    zerolog.Logger
	Error   zerolog.Logger
	verbose bool
}

type serverOptions struct {
	DataDir       string
	MaxRenders    int
	MetricsLogger metrics.Logger
	Verbose       bool
}

func newDashServer(holder *utils.ConfigHolder, store utils.RasterStore, log zerolog.Logger, opts serverOptions) *dashServer {
	conf := holder.Get()
	s := &dashServer{
		config:        holder,
		store:         store,
		sessions:      proc.NewSessionStore(time.Duration(conf.ServiceConfig.SessionTTLMinutes) * time.Minute),
		limiter:       proc.NewConcLimiter(opts.MaxRenders),
		view:          jet.NewHTMLSet(templateDir(opts.DataDir)),
		reMap:         utils.CompileDashRegexMap(),
		metricsLogger: opts.MetricsLogger,
		Info:          utils.Component(log, "dash"),
		Error:         utils.Component(log, "dash").With().Bool("error", true).Logger(),
		verbose:       opts.Verbose,
	}
	if len(conf.ServiceConfig.MemcacheURI) > 0 {
		// lazy connection; errors returned in .Get
		s.mc = memcache.New(conf.ServiceConfig.MemcacheURI)
	}
	return s
}

// templateDir finds the directory holding dashboard.jet under the data
// directory, the working directory or next to the executable.
func templateDir(dataDir string) string {
	resolver := utils.NewRuntimeFileResolver(dataDir)
	page, err := resolver.Resolve(filepath.Join("templates", "dashboard.jet"))
	if err != nil {
		return filepath.Join(dataDir, "templates")
	}
	return filepath.Dir(page)
}

func (s *dashServer) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", s.instrument(s.handleDashboard)).Methods("GET")
	router.HandleFunc("/api/catalog", s.instrument(s.handleCatalog)).Methods("GET")
	router.HandleFunc("/api/render", s.instrument(s.handleRender)).Methods("GET")
	router.HandleFunc("/api/render.png", s.instrument(s.handleRenderPNG)).Methods("GET")
	router.HandleFunc("/api/render.jpg", s.instrument(s.handleRenderJPEG)).Methods("GET")
	router.HandleFunc("/api/swipe.png", s.instrument(s.handleSwipePNG)).Methods("GET")
	router.HandleFunc("/api/histogram", s.instrument(s.handleHistogram)).Methods("GET")
	router.HandleFunc("/api/histogram.png", s.instrument(s.handleHistogramPNG)).Methods("GET")
	router.HandleFunc("/api/pixel", s.instrument(s.handlePixel)).Methods("GET")
	router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	return router
}

// openSceneStore opens the configured scene index, or crawls the data
// directory when no index DSN is set.
func openSceneStore(ctx context.Context, conf *utils.Config, conc int, log zerolog.Logger) (utils.RasterStore, error) {
	sc := conf.ServiceConfig
	if len(sc.IndexDSN) > 0 {
		index, err := mas.Open(sc.IndexDriver, sc.IndexDSN)
		if err != nil {
			return nil, err
		}
		defer index.Close()
		log.Info().Str("driver", sc.IndexDriver).Str("collection", sc.Collection).Msg("loading scenes from index")
		return index.SceneStore(ctx, sc.Collection, nil)
	}

	log.Info().Str("data_dir", sc.DataDir).Msg("crawling data directory for scenes")
	geoFiles, err := extr.ExtractDir(sc.DataDir, conc)
	if err != nil {
		return nil, err
	}
	return extr.NewSceneStore(geoFiles, nil)
}

func newMetricsLogger(log zerolog.Logger, logDir string, verbose bool) metrics.Logger {
	if len(logDir) == 0 {
		return nil
	}
	if logDir == "-" {
		return metrics.NewStdoutLogger(utils.Component(log, "metrics"))
	}

	maxLogFileSize := int64(0)
	if val, ok := os.LookupEnv("S2DASH_MAX_LOG_FILE_SIZE"); ok {
		valInt, e := strconv.ParseInt(val, 10, 64)
		if e == nil {
			maxLogFileSize = valInt
		} else {
			log.Error().Err(e).Msg("invalid S2DASH_MAX_LOG_FILE_SIZE")
		}
	}

	maxLogFiles := -1
	if val, ok := os.LookupEnv("S2DASH_MAX_LOG_FILES"); ok {
		valInt, e := strconv.ParseInt(val, 10, 32)
		if e == nil {
			maxLogFiles = int(valInt)
		} else {
			log.Error().Err(e).Msg("invalid S2DASH_MAX_LOG_FILES")
		}
	}

	return metrics.NewFileLogger(utils.Component(log, "metrics"), logDir, maxLogFileSize, maxLogFiles, verbose)
}

// loadConfig reads configFile, falling back to the built-in catalogue
// when the default file does not exist.
func loadConfig(configFile string, explicit bool) (*utils.Config, error) {
	if _, err := os.Stat(configFile); os.IsNotExist(err) && !explicit {
		return utils.DefaultConfig(), nil
	}
	config := &utils.Config{}
	if err := config.LoadConfigFile(configFile); err != nil {
		return nil, err
	}
	return config, nil
}

type rootFlags struct {
	configFile     string
	validateConfig bool
	dumpConfig     bool
	verbose        bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "s2dash",
		Short:         "Interactive Sentinel-2 explorer",
		Long:          "s2dash renders band composites, spectral indices and histograms of Sentinel-2 acquisitions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(flags.configFile, cmd.Flags().Changed("conf"))
			if err != nil {
				return fmt.Errorf("Error in loading config file: %w", err)
			}

			if flags.validateConfig {
				return nil
			}

			if flags.dumpConfig {
				configJson, err := utils.DumpConfig(config)
				if err != nil {
					return fmt.Errorf("Error in dumping config: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), configJson)
				return nil
			}

			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.configFile, "conf", filepath.Join(utils.EtcDir, "config.json"), "Server config file.")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Verbose mode for more server outputs.")
	rootCmd.Flags().BoolVar(&flags.validateConfig, "check_conf", false, "Validate server config file.")
	rootCmd.Flags().BoolVar(&flags.dumpConfig, "dump_conf", false, "Dump server config file.")

	rootCmd.AddCommand(newServeCmd(flags))
	return rootCmd
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		listenAddress string
		dataDir       string
		logDir        string
		conc          int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := cmd.Flags().Changed("conf")
			config, err := loadConfig(flags.configFile, explicit)
			if err != nil {
				return fmt.Errorf("Error in loading config file: %w", err)
			}

			sc := &config.ServiceConfig
			if cmd.Flags().Changed("listen") {
				sc.ListenAddress = listenAddress
			}
			if cmd.Flags().Changed("data_dir") {
				sc.DataDir = dataDir
			}
			if cmd.Flags().Changed("log_dir") {
				sc.LogDir = logDir
			}
			utils.DataDir = sc.DataDir

			level := sc.LogLevel
			if flags.verbose {
				level = "debug"
			}
			log := utils.NewLogger(os.Stdout, level, false)

			holder := utils.NewConfigHolder(config)
			if explicit {
				stop, err := utils.WatchConfig(utils.Component(log, "config"), flags.configFile, holder)
				if err != nil {
					return err
				}
				defer stop()
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			store, err := openSceneStore(ctx, config, conc, log)
			if err != nil {
				return fmt.Errorf("Error in opening scenes: %w", err)
			}

			metricsLogger := newMetricsLogger(log, sc.LogDir, flags.verbose)
			if fl, ok := metricsLogger.(*metrics.FileLogger); ok {
				defer fl.Close()
			}

			s := newDashServer(holder, store, log, serverOptions{
				DataDir:       sc.DataDir,
				MaxRenders:    conc,
				MetricsLogger: metricsLogger,
				Verbose:       flags.verbose,
			})

			done := make(chan struct{})
			defer close(done)
			interval := s.sessions.TTL / 4
			if interval < time.Minute {
				interval = time.Minute
			}
			go s.sessions.RunEviction(interval, done)

			listener, err := reuseport.Listen("tcp", sc.ListenAddress)
			if err != nil {
				return err
			}

			server := &http.Server{Handler: s.routes()}
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				server.Shutdown(shutdownCtx)
			}()

			s.Info.Info().Str("address", sc.ListenAddress).Int("scenes", len(store.Times())).Msg("s2dash is ready")
			if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
				return err
			}
			s.limiter.Wait()
			return nil
		},
	}

	cmd.Flags().StringVarP(&listenAddress, "listen", "p", utils.DefaultListenAddress, "Server listening address.")
	cmd.Flags().StringVar(&dataDir, "data_dir", utils.DataDir, "Server data directory.")
	cmd.Flags().StringVar(&logDir, "log_dir", "", "Metrics log directory, '-' for stdout.")
	cmd.Flags().IntVarP(&conc, "conc", "c", 4, "Maximum concurrent renders.")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
