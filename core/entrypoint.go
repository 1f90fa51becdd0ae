package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"runtime/trace"
	"slices"
	"syscall"
	"time"

	"github.com/encodeous/strata/impl"
	"github.com/encodeous/strata/perf"
	"github.com/encodeous/strata/state"
	"github.com/encodeous/tint"
	"github.com/goccy/go-yaml"
	slogmulti "github.com/samber/slog-multi"
)

// SetupDebugging starts the loopback debug server and, if requested, an execution
// trace. The returned function stops the trace.
func SetupDebugging() func() {
	stop := func() {}
	if state.DBG_trace {
		f, err := os.Create("trace.out")
		if err != nil {
			log.Fatal(err)
		}
		if err = trace.Start(f); err != nil {
			log.Fatal(err)
		}
		log.Println("Started tracing")
		stop = func() {
			trace.Stop()
			_ = f.Close()
		}
	}
	if state.DBG_debug {
		go func() {
			log.Println(http.ListenAndServe(state.DebugAddr, nil))
		}()
	}
	return stop
}

// ReadNodeConfig loads a node configuration file and applies defaults.
func ReadNodeConfig(nodePath string) (*state.NodeCfg, error) {
	var nodeCfg state.NodeCfg
	file, err := os.ReadFile(nodePath)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(file, &nodeCfg)
	if err != nil {
		return nil, err
	}
	nodeCfg.ApplyDefaults()
	return &nodeCfg, nil
}

// ReadTopology loads a topology file used by the simulator.
func ReadTopology(topoPath string) (*state.TopologyCfg, error) {
	var topo state.TopologyCfg
	file, err := os.ReadFile(topoPath)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(file, &topo)
	if err != nil {
		return nil, err
	}
	return &topo, nil
}

func newLogger(ncfg state.NodeCfg, logLevel slog.Level) (*slog.Logger, func(), error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: ncfg.Id.String(),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	closer := func() {}
	if ncfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(ncfg.LogPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(ncfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		closer = func() { _ = f.Close() }
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}))
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// Start runs one node until its duration elapses, ctx is cancelled or a shutdown
// signal arrives. When channels is nil they are opened according to the node
// configuration, failing to open them is the only fatal error.
func Start(ctx context.Context, ncfg state.NodeCfg, logLevel slog.Level, channels map[state.NodeId]state.Channel, initState **state.State) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)

	logger, closeLog, err := newLogger(ncfg, logLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	if channels == nil {
		channels, err = impl.OpenChannels(ncfg.ChannelKind, ncfg.ChannelDir, ncfg.Id, ncfg.Neighbours)
		if err != nil {
			return fmt.Errorf("failed to establish channels: %w", err)
		}
	}

	dispatch := make(chan func(env *state.State) error, 128)

	s := state.State{
		Modules: make(map[string]state.Module),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			NodeCfg:         ncfg,
			Log:             logger,
		},
	}
	for _, id := range ncfg.Neighbours {
		ch, ok := channels[id]
		if !ok {
			return fmt.Errorf("failed to establish channels: no channel to neighbour %s", id)
		}
		s.Neighbours = append(s.Neighbours, &state.Neighbour{Id: id, Channel: ch})
	}
	if initState != nil {
		*initState = &s
	}

	s.Log.Info("init modules")
	err = initModules(&s)
	if err != nil {
		for _, n := range s.Neighbours {
			_ = n.Channel.Close()
		}
		return err
	}
	s.Log.Info("init modules complete")

	s.Log.Info("node has been initialized", "neighbours", ncfg.Neighbours, "duration", ncfg.Duration)
	if ncfg.Duration <= 0 {
		s.Cancel(state.ErrRunComplete)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		select {
		case <-c:
			s.Cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
			return
		}
	}()

	return MainLoop(&s, dispatch)
}

// the order matters, every module may look up the modules before it during Init
var moduleOrder = []func() state.Module{
	func() state.Module { return &Datalink{} },
	func() state.Module { return &NetworkRouter{} },
	func() state.Module { return &Transport{} },
	func() state.Module { return &NodeScheduler{} },
}

func moduleName(m state.Module) string {
	return reflect.TypeOf(m).String()
}

func initModules(s *state.State) error {
	for _, mk := range moduleOrder {
		module := mk()
		s.Modules[moduleName(module)] = module
		if err := module.Init(s); err != nil {
			return err
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				goto endLoop
			}
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > time.Millisecond*4 {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	reason := "dispatch closed"
	if cause := context.Cause(s.Context); cause != nil {
		reason = cause.Error()
	}
	s.Log.Info("stopped main loop", "reason", reason)
	Stop(s)
	return nil
}

// Stop cleans up modules in reverse init order. The dispatch channel stays open,
// late dispatches observe the cancelled context instead.
func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Log.Info("cleaning up modules")
	for _, mk := range slices.Backward(moduleOrder) {
		name := moduleName(mk())
		module, ok := s.Modules[name]
		if !ok {
			continue
		}
		err := module.Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", name, "error", err)
		}
	}
	s.Log.Info("stopped")
}
