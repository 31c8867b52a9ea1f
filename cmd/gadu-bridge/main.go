// ABOUTME: Entry point for the gadu-bridge daemon
// ABOUTME: Connects a legacy chat account and relays it to frontends

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/gadu-bridge/internal/avatar"
	"github.com/2389/gadu-bridge/internal/channel"
	"github.com/2389/gadu-bridge/internal/config"
	"github.com/2389/gadu-bridge/internal/discovery"
	"github.com/2389/gadu-bridge/internal/dispatch"
	"github.com/2389/gadu-bridge/internal/event"
	"github.com/2389/gadu-bridge/internal/frontend/matrix"
	"github.com/2389/gadu-bridge/internal/gadu"
	"github.com/2389/gadu-bridge/internal/handle"
	"github.com/2389/gadu-bridge/internal/roster"
	"github.com/2389/gadu-bridge/internal/session"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _             _          _     _
  __ _  __ _  __| |_   _      | |__  _ __(_) __| | __ _  ___
 / _' |/ _' |/ _' | | | |_____| '_ \| '__| |/ _' |/ _' |/ _ \
| (_| | (_| | (_| | |_| |_____| |_) | |  | | (_| | (_| |  __/
 \__, |\__,_|\__,_|\__,_|     |_.__/|_|  |_|\__,_|\__, |\___|
 |___/                                            |___/
`

// getConfigPath returns the path to the bridge config file.
// Priority: GADU_BRIDGE_CONFIG env var > XDG_CONFIG_HOME/gadu-bridge/config.yaml > ~/.config/gadu-bridge/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GADU_BRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "gadu-bridge", "config.yaml")
}

// getDataPath returns the path to the bridge data directory.
// Priority: XDG_DATA_HOME/gadu-bridge > ~/.local/share/gadu-bridge
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "gadu-bridge")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: gadu-bridge <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve [--dev]  Connect the account and run the bridge")
		fmt.Println("  init           Create a new config file interactively")
		fmt.Println("  version        Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// busAnnouncer publishes new-channel notifications for the multiplexer.
type busAnnouncer struct {
	bus *event.Bus
}

func (a busAnnouncer) ChannelCreated(ch *channel.Channel) {
	a.bus.Publish(event.NewChannel{Channel: ch})
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()
	dev := hasFlag("--dev")

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Account:   %d\n", cfg.Account.UIN)
	green.Print("    ▶ ")
	fmt.Printf("Roster:    %s\n", cfg.Roster.Path)
	if cfg.Server.UseSpecifiedServer {
		green.Print("    ▶ ")
		fmt.Printf("Server:    %s (tls: %t)\n", cfg.Server.Addr, cfg.Server.UseTLS)
	}
	if cfg.Frontends.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    %s\n", cfg.Frontends.Matrix.Homeserver)
	}
	if dev {
		yellow := color.New(color.FgYellow)
		yellow.Print("    ▶ ")
		fmt.Println("Dev mode:  simulated protocol client")
	}
	fmt.Println()

	// Roster persistence
	store, err := roster.Open(cfg.Roster.Path, logger)
	if err != nil {
		return fmt.Errorf("opening roster store: %w", err)
	}
	defer store.Close()

	// Core plumbing
	bus := event.NewBus(logger)
	defer bus.Close()

	registry := handle.NewRegistry(logger)
	channels := channel.NewMultiplexer(busAnnouncer{bus}, logger)
	dispatcher := dispatch.New(registry, channels, bus, logger)

	avatars := avatar.New(bus, logger)
	defer avatars.Close()

	discoveryURL := cfg.Discovery.URL
	if discoveryURL == "" {
		discoveryURL = discovery.DefaultURL
	}
	resolver := discovery.New(discoveryURL, logger)

	var dialer gadu.Dialer
	if dev {
		dialer = gadu.NewSimDialer(logger)
	} else {
		dialer = gadu.NewTransportDialer(logger)
	}

	settings := session.Settings{
		UIN:                cfg.Account.UIN,
		Password:           cfg.Account.Password,
		ExportContacts:     cfg.Account.ExportContacts,
		ServerAddr:         cfg.Server.Addr,
		UseTLS:             cfg.Server.UseTLS,
		UseSpecifiedServer: cfg.Server.UseSpecifiedServer,
	}

	sess := session.New(settings, resolver, dialer,
		registry, channels, dispatcher, avatars, store, bus, logger)

	manager := session.NewManager(logger)
	manager.Add(sess)

	// Matrix frontend
	if cfg.Frontends.Matrix.Enabled {
		relay, err := matrix.New(cfg.Frontends.Matrix, bus, sess, logger)
		if err != nil {
			return fmt.Errorf("creating matrix relay: %w", err)
		}
		go func() {
			if err := relay.Run(ctx); err != nil {
				manager.Fatal(fmt.Errorf("matrix relay: %w", err))
			}
		}()
	}

	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	logger.Info("bridge running", "uin", cfg.Account.UIN)

	return manager.Run(ctx)
}

func hasFlag(name string) bool {
	for _, arg := range os.Args[2:] {
		if arg == name {
			return true
		}
	}
	return false
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("gadu-bridge configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "roster.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Account configuration
	fmt.Println("\n--- Account Configuration ---")
	uin := prompt(reader, "Account number (UIN)", "")
	password := prompt(reader, "Password (or ${GG_PASSWORD} to read from env)", "${GG_PASSWORD}")
	exportStr := prompt(reader, "Export contact list back to the server?", "no")
	exportContacts := strings.ToLower(exportStr) == "yes" || strings.ToLower(exportStr) == "y"

	// Server
	fmt.Println("\n--- Server Configuration ---")
	specifiedStr := prompt(reader, "Use a specific server instead of discovery?", "no")
	useSpecified := strings.ToLower(specifiedStr) == "yes" || strings.ToLower(specifiedStr) == "y"
	var serverAddr string
	var useTLS bool
	if useSpecified {
		serverAddr = prompt(reader, "Server address (host:port)", "")
		tlsStr := prompt(reader, "Use TLS?", "no")
		useTLS = strings.ToLower(tlsStr) == "yes" || strings.ToLower(tlsStr) == "y"
	}

	// Roster
	fmt.Println("\n--- Roster Configuration ---")
	dbPath := prompt(reader, "SQLite roster path", defaultDbPath)

	// Matrix
	fmt.Println("\n--- Matrix Frontend ---")
	matrixStr := prompt(reader, "Enable the Matrix relay?", "no")
	matrixEnabled := strings.ToLower(matrixStr) == "yes" || strings.ToLower(matrixStr) == "y"

	var homeserver, userID, accessToken, roomID string
	if matrixEnabled {
		homeserver = prompt(reader, "Homeserver URL", "https://matrix.org")
		userID = prompt(reader, "Bridge user ID", "")
		accessToken = prompt(reader, "Access token (or ${MATRIX_TOKEN})", "${MATRIX_TOKEN}")
		roomID = prompt(reader, "Relay room ID", "")
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# gadu-bridge configuration\n")
	cfg.WriteString("# Generated by gadu-bridge init\n\n")

	cfg.WriteString("account:\n")
	cfg.WriteString(fmt.Sprintf("  uin: %s\n", uin))
	cfg.WriteString(fmt.Sprintf("  password: \"%s\"\n", password))
	cfg.WriteString(fmt.Sprintf("  export_contacts: %t\n", exportContacts))
	cfg.WriteString("\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  use_specified_server: %t\n", useSpecified))
	if useSpecified {
		cfg.WriteString(fmt.Sprintf("  addr: \"%s\"\n", serverAddr))
		cfg.WriteString(fmt.Sprintf("  use_tls: %t\n", useTLS))
	}
	cfg.WriteString("\n")

	cfg.WriteString("roster:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("frontends:\n")
	cfg.WriteString("  matrix:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", matrixEnabled))
	if matrixEnabled {
		cfg.WriteString(fmt.Sprintf("    homeserver: \"%s\"\n", homeserver))
		cfg.WriteString(fmt.Sprintf("    user_id: \"%s\"\n", userID))
		cfg.WriteString(fmt.Sprintf("    access_token: \"%s\"\n", accessToken))
		cfg.WriteString(fmt.Sprintf("    room_id: \"%s\"\n", roomID))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %s\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %s\n", logFormat))

	// Write file
	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("Start the bridge with: gadu-bridge serve")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	answer, err := reader.ReadString('\n')
	if err != nil {
		return defaultValue
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return defaultValue
	}
	return answer
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
