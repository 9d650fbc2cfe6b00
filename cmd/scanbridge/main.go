package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aymurapp/scanbridge"
	"github.com/aymurapp/scanbridge/internal/scan"
)

var daemonAddr string

var rootCmd = &cobra.Command{
	Use:   "scanbridge",
	Short: "Barcode capture daemon for shop workstations",
	Long: `scanbridge funnels keyboard-wedge scanners and camera decoding into one
validated scan stream. Shells connect over WebSocket to feed key events in
and receive scan events back; the HTTP API drives the camera session.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Optional; the daemon reads SCANBRIDGE_* overrides from the
		// environment either way.
		_ = godotenv.Load()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture daemon",
	Run: func(cmd *cobra.Command, args []string) {
		scanbridge.Main()
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive the wedge classifier interactively on a fake clock",
	Long: `simulate runs the burst classifier and validator offline with a manually
advanced clock, so wedge tuning can be tried without hardware. Type 'help'
inside the prompt for the available commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sim := newSimulator()
		return sim.Run()
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List cameras known to a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get("http://" + daemonAddr + "/api/scanner/devices")
		if err != nil {
			return fmt.Errorf("querying daemon: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("daemon answered %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}

		var payload struct {
			Devices []struct {
				ID     string `json:"id"`
				Label  string `json:"label"`
				Facing string `json:"facing"`
			} `json:"devices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}

		if len(payload.Devices) == 0 {
			fmt.Println("No cameras reported. Connect a shell with camera access first.")
			return nil
		}
		for _, d := range payload.Devices {
			facing := d.Facing
			if facing == "" {
				facing = "unknown"
			}
			fmt.Printf("%-20s %-10s %s\n", d.ID, facing, d.Label)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the scanbridge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(scanbridge.Version)
	},
}

func init() {
	devicesCmd.Flags().StringVar(&daemonAddr, "addr", "127.0.0.1:8741", "daemon address")
	rootCmd.AddCommand(serveCmd, simulateCmd, devicesCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// simulator is the interactive classifier loop.
type simulator struct {
	clk        *clock.Mock
	cfg        scan.Config
	validator  *scan.Validator
	classifier *scan.Classifier
	events     []scan.ScanEvent
	liner      *liner.State
}

func newSimulator() *simulator {
	sim := &simulator{clk: clock.NewMock()}
	sim.clk.Set(time.Now())
	sim.cfg = scan.DefaultConfig()
	sim.rebuild()
	return sim
}

// rebuild starts the pipeline over with fresh validator state.
func (sim *simulator) rebuild() {
	sim.validator = scan.NewValidator(sim.clk, zerolog.Nop())
	sim.classifier = scan.NewClassifier(sim.cfg, sim.validator, sim.clk, zerolog.Nop())
	sim.classifier.OnScan(func(ev scan.ScanEvent) {
		sim.events = append(sim.events, ev)
		fmt.Printf("  scan accepted: %q (%s)\n", ev.Value, ev.Source)
	})
	sim.classifier.Attach()
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".scanbridge_history")
}

// Run starts the REPL loop.
func (sim *simulator) Run() error {
	sim.liner = liner.NewLiner()
	defer sim.liner.Close()

	sim.liner.SetCtrlCAborts(true)
	sim.liner.SetCompleter(sim.completer)

	if f, err := os.Open(historyFile()); err == nil {
		sim.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("scanbridge simulator (debounce=%s, abandon=%s, duplicate=%s)\n",
		sim.cfg.DebounceWindow, sim.cfg.AbandonTimeout, sim.cfg.DuplicateSuppression)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := sim.liner.Prompt("scan> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		sim.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			sim.saveHistory()

			return nil

		case "help", "?":
			sim.printHelp()

		case "scan":
			sim.cmdScan(args)

		case "type":
			sim.cmdType(args)

		case "key":
			sim.cmdKey(args)

		case "wait":
			sim.cmdWait(args)

		case "status", "info":
			sim.cmdStatus()

		case "reset":
			sim.events = nil
			sim.rebuild()
			fmt.Println("  pipeline reset")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	sim.saveHistory()

	return nil
}

func (sim *simulator) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			sim.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (sim *simulator) completer(line string) []string {
	commands := []string{
		"scan", "type", "key", "wait",
		"status", "info", "reset",
		"help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (sim *simulator) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  scan <value>    Feed value as a machine-speed burst ending in Enter")
	fmt.Println("  type <value>    Feed value at human typing speed, no Enter")
	fmt.Println("  key <key>       Feed one keydown (Enter, Escape, single chars)")
	fmt.Println("  wait <dur>      Advance the clock (e.g. 'wait 500ms', 'wait 2s')")
	fmt.Println("  status          Show counters and the last accepted scan")
	fmt.Println("  reset           Restart with a clean pipeline")
	fmt.Println("  help            Show this help")
	fmt.Println("  exit / quit / q Exit")
}

// cmdScan replays a barcode the way a wedge scanner sends one: every key a
// couple of milliseconds apart with a trailing Enter.
func (sim *simulator) cmdScan(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: scan <value>")
		return
	}
	value := strings.Join(args, " ")

	before := sim.classifier.Stats()
	for _, r := range value {
		sim.classifier.HandleKey(scan.KeyEvent{Key: string(r)})
		sim.clk.Add(2 * time.Millisecond)
	}
	sim.classifier.HandleKey(scan.KeyEvent{Key: "Enter"})
	sim.reportOutcome(before)
}

// cmdType replays manual typing: keys spaced wider than the debounce window
// so the burst never classifies as machine speed.
func (sim *simulator) cmdType(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: type <value>")
		return
	}
	value := strings.Join(args, " ")

	for _, r := range value {
		sim.classifier.HandleKey(scan.KeyEvent{Key: string(r)})
		sim.clk.Add(sim.cfg.DebounceWindow + 10*time.Millisecond)
	}
	fmt.Printf("  typed %d keys, buffer tracked as manual entry\n", len(value))
}

func (sim *simulator) cmdKey(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: key <key>")
		return
	}

	before := sim.classifier.Stats()
	sim.classifier.HandleKey(scan.KeyEvent{Key: args[0]})
	sim.reportOutcome(before)
}

func (sim *simulator) cmdWait(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: wait <duration>")
		return
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		fmt.Printf("Bad duration %q: %v\n", args[0], err)
		return
	}

	before := sim.classifier.Stats()
	sim.clk.Add(d)
	after := sim.classifier.Stats()
	if after.BuffersAbandoned > before.BuffersAbandoned {
		fmt.Println("  quiet period hit, buffer flushed")
	}
	sim.reportOutcome(before)
}

// reportOutcome prints what the validator decided since the stats snapshot,
// when acceptance was not already announced by the scan callback.
func (sim *simulator) reportOutcome(before scan.CaptureStats) {
	after := sim.classifier.Stats()
	if after.ScansRejected > before.ScansRejected {
		fmt.Println("  rejected (length gate or duplicate window)")
	}
}

func (sim *simulator) cmdStatus() {
	stats := sim.classifier.Stats()
	fmt.Printf("  keys buffered:     %d\n", stats.KeysBuffered)
	fmt.Printf("  keys ignored:      %d\n", stats.KeysIgnored)
	fmt.Printf("  bursts split:      %d\n", stats.BurstsSplit)
	fmt.Printf("  buffers abandoned: %d\n", stats.BuffersAbandoned)
	fmt.Printf("  scans emitted:     %d\n", stats.ScansEmitted)
	fmt.Printf("  scans rejected:    %d\n", stats.ScansRejected)
	if len(sim.events) > 0 {
		last := sim.events[len(sim.events)-1]
		fmt.Printf("  last scan:         %q %s\n", last.Value,
			humanize.RelTime(last.ObservedAt, sim.clk.Now(), "ago", "from now"))
	}
}
