package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/tagtools/autotagd/internal/config"
	"github.com/tagtools/autotagd/internal/daemon"
	"github.com/tagtools/autotagd/pkg/protocol"
)

const daemonStartTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	socketPath := flag.String("socket", "", "override socket path")
	status := flag.Bool("status", false, "print daemon status")
	flushPending := flag.Bool("flush", false, "force a flush of pending updates")
	shutdown := flag.Bool("shutdown", false, "stop the daemon")
	noSpawn := flag.Bool("no-spawn", false, "do not start the daemon if it is not running")

	ctagsCmd := flag.String("ctags-cmd", "", "override ctags command for this save")
	tagsFile := flag.String("tags-file", "", "override tags filename for this save")
	tagsDir := flag.String("tags-dir", "", "override tags subdirectory for this save")
	stopAt := flag.String("stop-at", "", "override stop boundary for this save")
	excludeSuffixes := flag.String("exclude-suffixes", "", "override excluded suffixes for this save")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}

	switch {
	case *shutdown:
		conn, err := connect(cfg.SocketPath)
		if err != nil {
			return // not running, nothing to stop
		}
		conn.Notify(context.Background(), protocol.MethodShutdown, nil)
		conn.Close()

	case *status:
		conn, err := connect(cfg.SocketPath)
		if err != nil {
			fatal(fmt.Errorf("daemon not running at %s", cfg.SocketPath))
		}
		defer conn.Close()
		var res protocol.StatusResult
		if err := conn.Call(context.Background(), protocol.MethodStatus, nil, &res); err != nil {
			fatal(err)
		}
		printStatus(res)

	case *flushPending:
		conn, err := connect(cfg.SocketPath)
		if err != nil {
			fatal(fmt.Errorf("daemon not running at %s", cfg.SocketPath))
		}
		defer conn.Close()
		var res protocol.FlushResult
		if err := conn.Call(context.Background(), protocol.MethodFlush, nil, &res); err != nil {
			fatal(err)
		}
		fmt.Printf("flushed %d tags file(s)\n", res.Drained)

	default:
		if flag.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "usage: autotag [flags] <saved-file>...")
			os.Exit(2)
		}
		conn, err := connectOrSpawn(cfg, *configPath, *noSpawn)
		if err != nil {
			fatal(err)
		}
		defer conn.Close()

		overrides := buildOverrides(*ctagsCmd, *tagsFile, *tagsDir, *stopAt, *excludeSuffixes)
		for _, arg := range flag.Args() {
			abs, err := filepath.Abs(arg)
			if err != nil {
				fatal(err)
			}
			params := protocol.SaveParams{Path: abs, Overrides: overrides}
			if err := conn.Notify(context.Background(), protocol.MethodFileSaved, params); err != nil {
				fatal(err)
			}
		}
	}
}

func buildOverrides(ctagsCmd, tagsFile, tagsDir, stopAt, excludeSuffixes string) *protocol.Overrides {
	o := &protocol.Overrides{}
	any := false
	if ctagsCmd != "" {
		o.CtagsCmd = &ctagsCmd
		any = true
	}
	if tagsFile != "" {
		o.TagsFile = &tagsFile
		any = true
	}
	if tagsDir != "" {
		o.TagsDir = &tagsDir
		any = true
	}
	if stopAt != "" {
		o.StopAt = &stopAt
		any = true
	}
	if excludeSuffixes != "" {
		o.ExcludeSuffixes = &excludeSuffixes
		any = true
	}
	if !any {
		return nil
	}
	return o
}

func connect(socketPath string) (*jsonrpc2.Conn, error) {
	netConn, err := daemon.Dial(socketPath)
	if err != nil {
		return nil, err
	}
	stream := jsonrpc2.NewBufferedStream(netConn, jsonrpc2.PlainObjectCodec{})
	handler := jsonrpc2.HandlerWithError(
		func(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) (interface{}, error) {
			return nil, nil
		})
	return jsonrpc2.NewConn(context.Background(), stream, handler), nil
}

// connectOrSpawn dials the daemon, starting one first if the socket is dead.
func connectOrSpawn(cfg *config.Config, configPath string, noSpawn bool) (*jsonrpc2.Conn, error) {
	if conn, err := connect(cfg.SocketPath); err == nil {
		return conn, nil
	}
	if noSpawn {
		return nil, fmt.Errorf("daemon not running at %s", cfg.SocketPath)
	}

	if err := spawnDaemon(configPath, cfg.SocketPath); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(daemonStartTimeout)
	for time.Now().Before(deadline) {
		if conn, err := connect(cfg.SocketPath); err == nil {
			return conn, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, fmt.Errorf("daemon did not become ready within %s", daemonStartTimeout)
}

func spawnDaemon(configPath, socketPath string) error {
	bin, err := daemonBinary()
	if err != nil {
		return err
	}

	cmd := exec.Command(bin, "-config", configPath, "-socket", socketPath)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	// The daemon outlives this hook; don't leave a zombie behind.
	go cmd.Wait()
	return nil
}

// daemonBinary prefers an autotagd sitting next to this executable, falling
// back to PATH.
func daemonBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), "autotagd")
		if fi, err := os.Stat(sibling); err == nil && fi.Mode().IsRegular() {
			return sibling, nil
		}
	}
	bin, err := exec.LookPath("autotagd")
	if err != nil {
		return "", fmt.Errorf("autotagd binary not found: %w", err)
	}
	return bin, nil
}

func printStatus(res protocol.StatusResult) {
	fmt.Printf("uptime: %ds, tags files seen: %d\n", res.UptimeSeconds, res.TagsFilesSeen)
	for _, c := range res.RecentCycles {
		detail := ""
		if c.Detail != "" {
			detail = " (" + c.Detail + ")"
		}
		fmt.Printf("  %s  %s  %dms  %s%s\n",
			c.StartedAt.Format(time.RFC3339), c.TagsFile, c.DurationMS, c.Outcome, detail)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "autotag: %v\n", err)
	os.Exit(1)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".autotagd", "config.yaml")
}
