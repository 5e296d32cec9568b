package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thecloudgarage/cloudomate/app/creds"
	"github.com/thecloudgarage/cloudomate/app/scripts"
)

// version is the application version. It can be overridden at build time
// using the -ldflags "-X main.version=<version>" option.
var version = "dev"

var (
	addr          = flag.String("addr", ":8080", "listen address")
	configFile    = flag.String("config", "", "path to YAML configuration file")
	scriptDir     = flag.String("dir", "", "directory containing the scripts")
	passfile      = flag.String("passfile", "", "htpasswd file for basic auth (empty disables auth)")
	forceJSON     = flag.Bool("force-json", false, "parse every request body as json regardless of content type")
	execTimeout   = flag.Duration("exec-timeout", 60*time.Second, "default script execution timeout")
	maxConcurrent = flag.Int("max-concurrent", 64, "maximum concurrent script executions")
	tlsCert       = flag.String("tls-cert", "", "path to TLS certificate")
	tlsKey        = flag.String("tls-key", "", "path to TLS key")
	logLevel      = flag.String("log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	logFormat     = flag.String("log-format", "text", "log output format: text or json")
	watch         = flag.Bool("watch", false, "watch the script directory and passfile for changes")
	showVersion   = flag.Bool("version", false, "print version and exit")
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Shared state resolved at startup and replaced wholesale on reload.
var (
	cfg       = defaultConfig()
	registry  *scripts.Registry
	runner    *scripts.Runner
	passwords atomic.Pointer[creds.File]
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: cloudomate [options]\n\n")
	fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
	flag.PrintDefaults()
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveConfig merges the optional YAML config file with any explicitly set
// flags (flags win) and validates the result.
func resolveConfig() (*Config, error) {
	c := defaultConfig()
	if *configFile != "" {
		loaded, err := loadConfig(*configFile)
		if err != nil {
			return nil, err
		}
		c = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			c.Addr = *addr
		case "dir":
			c.ScriptDir = *scriptDir
		case "passfile":
			c.Passfile = *passfile
		case "force-json":
			c.ForceJSON = *forceJSON
		case "exec-timeout":
			c.ExecTimeout = execTimeout.String()
		case "max-concurrent":
			c.MaxConcurrent = *maxConcurrent
		case "tls-cert":
			c.TLSCert = *tlsCert
		case "tls-key":
			c.TLSKey = *tlsKey
		}
	})

	if err := validateConfig(c); err != nil {
		return nil, err
	}
	return c, nil
}

// reload rebuilds the script registry from the script directory and, when
// configured, re-reads the passfile. The new snapshots replace the old ones
// in single exchanges; requests already in flight keep the descriptors they
// resolved.
func reload() error {
	logger.Info("reloading scripts", "dir", registry.Dir())

	if err := registry.Load(); err != nil {
		return err
	}
	if cfg.Passfile != "" {
		pf, err := creds.Load(cfg.Passfile)
		if err != nil {
			return fmt.Errorf("load passfile: %w", err)
		}
		passwords.Store(pf)
		logger.Info("passfile loaded", "file", cfg.Passfile, "users", pf.Users())
	}

	lastReloadTime.Set(time.Now().Format(time.RFC3339))
	logger.Info("scripts loaded", "count", registry.Snapshot().Len())

	return nil
}

func watchFiles(ctx context.Context, paths []string, out chan<- struct{}) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create watcher", "error", err)
		return
	}
	defer w.Close()

	for _, p := range paths {
		if err := w.Add(p); err != nil {
			logger.Error("watch add failed", "path", p, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				go func(name string) {
					for i := 0; i < 5; i++ {
						if err := w.Add(name); err == nil {
							return
						} else if !os.IsNotExist(err) {
							logger.Error("watch re-add failed", "path", name, "error", err)
							return
						}
						time.Sleep(100 * time.Millisecond)
					}
				}(ev.Name)
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				select {
				case out <- struct{}{}:
				default:
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Error("watch error", "error", err)
		}
	}
}

type server interface {
	ListenAndServe() error
	ListenAndServeTLS(certFile, keyFile string) error
}

func serve(s server, cert, key string) error {
	switch {
	case cert != "" && key != "":
		return s.ListenAndServeTLS(cert, key)
	case cert == "" && key == "":
		return s.ListenAndServe()
	default:
		return fmt.Errorf("both cert and key must be provided")
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	var handler slog.Handler
	if strings.ToLower(*logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(*logLevel)})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(*logLevel)})
	}
	logger = slog.New(handler)
	slog.SetDefault(logger)

	resolved, err := resolveConfig()
	if err != nil {
		log.Fatal(err)
	}
	cfg = resolved

	registry = scripts.NewRegistry(cfg.ScriptDir, cfg.execTimeout)
	runner, err = scripts.NewRunner(cfg.MaxConcurrent, cfg.execTimeout)
	if err != nil {
		log.Fatal(err)
	}

	if err := reload(); err != nil {
		log.Fatal(err)
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: newRouter()}

	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		if err := serve(srv, cfg.TLSCert, cfg.TLSKey); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	reloadSig := make(chan os.Signal, 1)
	watchSig := make(chan struct{}, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadSig, syscall.SIGHUP)

	var cancelWatch context.CancelFunc
	if *watch {
		paths := []string{cfg.ScriptDir}
		if cfg.Passfile != "" {
			paths = append(paths, cfg.Passfile)
		}
		var watchCtx context.Context
		watchCtx, cancelWatch = context.WithCancel(context.Background())
		go watchFiles(watchCtx, paths, watchSig)
	}

	for {
		select {
		case <-reloadSig:
			if err := reload(); err != nil {
				logger.Error("reload failed", "error", err)
			}
		case <-watchSig:
			if err := reload(); err != nil {
				logger.Error("reload failed", "error", err)
			}
		case <-stop:
			goto shutdown
		}
	}

shutdown:

	if cancelWatch != nil {
		cancelWatch()
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", "error", err)
	}

	runner.Release()
}
