// Command colstream-server starts the TCP frontend described by this
// module: it loads configuration, wires the global logger, and runs the
// accept loop until SIGINT/SIGTERM. Grounded on the teacher's
// cmd/mo-service/main.go (flag-parsed config path, setupLogger, a
// signal-driven stop channel), trimmed to the single service type this
// module has.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap/zapcore"

	"github.com/colstream/colstream/pkg/config"
	"github.com/colstream/colstream/pkg/container/block"
	"github.com/colstream/colstream/pkg/container/column"
	"github.com/colstream/colstream/pkg/frontend"
	"github.com/colstream/colstream/pkg/logutil"
	"github.com/colstream/colstream/pkg/vm/stream"
)

var configFile = flag.String("cfg", "", "toml configuration file; defaults are used when omitted")

func main() {
	flag.Parse()

	params := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "colstream-server: failed to load %s: %v\n", *configFile, err)
			os.Exit(1)
		}
		params = loaded
	}

	setupLogger(params)

	registry := column.NewRegistry()
	srv := frontend.New(params, registry, &echoExecutor{}, &staticCatalog{})
	if err := srv.Start(); err != nil {
		logutil.Errorf("server failed to start: %v", err)
		os.Exit(1)
	}

	waitForSignal()
	if err := srv.Stop(); err != nil {
		logutil.Errorf("server stop reported an error: %v", err)
		os.Exit(1)
	}
}

func setupLogger(params *config.ServerParameters) {
	level := zapcore.InfoLevel
	_ = level.UnmarshalText([]byte(params.LogLevel))
	logutil.Configure(logutil.FileConfig{
		Path:  params.LogPath,
		Level: level,
	})
}

func waitForSignal() {
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGTERM, syscall.SIGINT)
	<-sigchan
}

// staticCatalog is the minimal CatalogContext collaborator this binary
// wires in lieu of a real storage engine, which is out of scope for this
// module. It accepts any database name.
type staticCatalog struct {
	current string
}

func (c *staticCatalog) HasDatabase(string) bool        { return true }
func (c *staticCatalog) SetCurrentDatabase(name string) { c.current = name }

// echoExecutor is a placeholder QueryExecutor: every query is treated as
// a SELECT over a single one-row, one-column block echoing the query
// text back, just enough to exercise the full ConnectionHandler path
// without a real SQL engine behind it.
type echoExecutor struct{}

func (e *echoExecutor) Execute(ctx *frontend.QueryContext, queryText string, stage frontend.Stage) (*frontend.Pipeline, error) {
	sample := block.New()
	if err := sample.Insert("query", column.StringType.NewEmpty()); err != nil {
		return nil, err
	}

	b := block.New()
	col := column.StringType.NewEmpty()
	col.Append(queryText)
	if err := b.Insert("query", col); err != nil {
		return nil, err
	}

	return &frontend.Pipeline{
		In:       &onceStream{b: b},
		InSample: sample,
	}, nil
}

// onceStream yields b once and the terminator forever after — the
// simplest possible BlockInputStream, used only by echoExecutor.
type onceStream struct {
	b    *block.Block
	done bool
}

func (s *onceStream) Name() string                       { return "Once" }
func (s *onceStream) ID() string                         { return "Once" }
func (s *onceStream) Children() []stream.BlockInputStream { return nil }

func (s *onceStream) Read() (*block.Block, error) {
	if s.done {
		return block.New(), nil
	}
	s.done = true
	return s.b, nil
}
