// ollamadesk - A desktop chat client for a locally running Ollama server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/ollamadesk/internal/capability"
	"github.com/jeranaias/ollamadesk/internal/config"
	"github.com/jeranaias/ollamadesk/internal/export"
	"github.com/jeranaias/ollamadesk/internal/generate"
	"github.com/jeranaias/ollamadesk/internal/model"
	"github.com/jeranaias/ollamadesk/internal/ollama"
	"github.com/jeranaias/ollamadesk/internal/storage"
	"github.com/jeranaias/ollamadesk/internal/util"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		fmt.Printf("ollamadesk %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the collaborators together and drives the REPL.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg)

	// Write the defaults on first launch so users have a file to edit.
	if cfgPath, err := config.Path(); err == nil {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := config.Save(cfg); err != nil {
				log.Warn().Err(err).Msg("could not write default config")
			}
		}
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Server.URL,
		Timeout:      cfg.Timeout(),
		DefaultModel: cfg.Models.Default,
	})

	ctx := context.Background()
	if err := client.CheckRunning(ctx); err != nil {
		if ollama.IsNotRunning(err) {
			return fmt.Errorf("Ollama is not running at %s. Start it with: ollama serve", cfg.Server.URL)
		}
		return err
	}

	classifier := capability.NewClassifier(client, cfg.Capability)
	coord := generate.NewCoordinator(client, classifier, store, cfg.Models.TitleModel)

	// Config edits take effect without a restart. The keyword table feeds the
	// classifier; everything else applies on the next launch.
	if cfgPath, err := config.Path(); err == nil {
		watcher, err := config.Watch(cfgPath, func(updated *config.Config) {
			classifier.SetTable(updated.Capability)
		})
		if err != nil {
			log.Warn().Err(err).Msg("config watcher unavailable")
		} else {
			defer watcher.Close()
		}
	}

	app := newApp(cfg, store, client, classifier, coord)
	defer app.Close()
	return app.Run(ctx)
}

// setupLogging routes structured logs to a file under the data directory so
// they never interleave with chat output. Falls back to stderr.
func setupLogging(cfg *config.Config) {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if lvl, err := zerolog.ParseLevel(os.Getenv("OLLAMADESK_LOG")); err == nil && os.Getenv("OLLAMADESK_LOG") != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	dir, err := config.Dir()
	if err != nil {
		return
	}
	if err := config.EnsureDir(); err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "ollamadesk.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return
	}
	log.Logger = zerolog.New(f).With().Timestamp().Logger()
}

// =============================================================================
// INPUT
// =============================================================================

// input wraps liner with persistent history.
type input struct {
	line        *liner.State
	historyFile string
}

func newInput() *input {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &input{
		line:        line,
		historyFile: filepath.Join(dir, "input_history"),
	}
	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
	return in
}

func (in *input) Read(prompt string) (string, error) {
	text, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) != "" {
		in.line.AppendHistory(text)
	}
	return text, nil
}

func (in *input) Close() {
	if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
		in.line.WriteHistory(f)
		f.Close()
	}
	in.line.Close()
}

// =============================================================================
// APPLICATION STATE
// =============================================================================

// app holds the state of one interactive session.
type app struct {
	cfg        *config.Config
	store      *storage.Store
	client     *ollama.Client
	classifier *capability.Classifier
	coord      *generate.Coordinator
	in         *input

	// Current conversation; nil until /new or /open.
	conv *model.Conversation

	// Model override for the current conversation.
	modelID string

	// Reasoning request for the next message.
	thinkEnabled bool

	// Pending image attachment; consumed by the next message.
	pendingImage string

	mu      sync.Mutex
	session *generate.Session
}

func newApp(cfg *config.Config, store *storage.Store, client *ollama.Client, classifier *capability.Classifier, coord *generate.Coordinator) *app {
	return &app{
		cfg:        cfg,
		store:      store,
		client:     client,
		classifier: classifier,
		coord:      coord,
		in:         newInput(),
		modelID:    cfg.Models.Default,
	}
}

func (a *app) Close() {
	a.in.Close()
}

// currentSession returns the in-flight session, if any.
func (a *app) currentSession() *generate.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *app) setSession(s *generate.Session) {
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
}

// =============================================================================
// REPL
// =============================================================================

// Run drives the read-eval loop until /quit or EOF.
func (a *app) Run(ctx context.Context) error {
	a.printWelcome()

	// First Ctrl+C cancels the in-flight generation instead of exiting.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if sess := a.currentSession(); sess != nil {
				a.coord.Cancel(sess)
				fmt.Fprintln(os.Stderr, "\n[Cancelled]")
			}
		}
	}()

	for {
		text, err := a.in.Read("ollamadesk> ")
		if err != nil {
			// Ctrl+C at the prompt or EOF both exit gracefully.
			fmt.Println()
			return nil
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "/") {
			keepGoing, err := a.handleCommand(ctx, text)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[Error] %v\n", err)
			}
			if !keepGoing {
				return nil
			}
			continue
		}

		if strings.EqualFold(text, "exit") || strings.EqualFold(text, "quit") {
			return nil
		}

		if err := a.sendMessage(ctx, text); err != nil {
			fmt.Fprintf(os.Stderr, "[Error] %v\n", err)
		}
	}
}

func (a *app) printWelcome() {
	fmt.Println()
	fmt.Println("ollamadesk interactive chat")
	fmt.Println(strings.Repeat("─", 30))
	fmt.Printf("Server: %s\n", a.cfg.Server.URL)
	fmt.Printf("Model:  %s\n", a.modelID)
	fmt.Println()
	fmt.Println("Type your message and press Enter. Commands: /help, /quit")
	fmt.Println()
}

// =============================================================================
// MESSAGE FLOW
// =============================================================================

// sendMessage submits one user turn and blocks until the session finishes.
func (a *app) sendMessage(ctx context.Context, text string) error {
	if a.conv == nil {
		if err := a.newConversation(ctx); err != nil {
			return err
		}
	}

	imageRef := a.pendingImage
	a.pendingImage = ""

	firstExchange := len(a.conv.Turns) == 0

	done := make(chan struct{})
	inThinking := false
	obs := generate.Observer{
		OnDelta: func(d generate.Delta) {
			if d.ThinkingDelta != "" {
				if !inThinking {
					fmt.Print("[thinking] ")
					inThinking = true
				}
				fmt.Print(d.ThinkingDelta)
			}
			if d.AnswerDelta != "" {
				if inThinking {
					fmt.Print("\n\n")
					inThinking = false
				}
				fmt.Print(d.AnswerDelta)
			}
		},
		OnComplete: func(turn *model.Turn) {
			close(done)
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "\n[Error] %v\n", err)
			close(done)
		},
	}

	fmt.Println()
	sess, err := a.coord.Submit(ctx, a.conv.ID, text, imageRef, a.thinkEnabled, obs)
	if err != nil {
		return err
	}
	a.setSession(sess)
	<-done
	a.setSession(nil)
	fmt.Println()
	fmt.Println()

	if sess.State() == generate.StateFailed {
		return nil // already reported via OnError
	}

	// Reload so history reflects what was persisted, including a partial
	// cancelled turn.
	conv, err := a.store.LoadConversation(ctx, a.conv.ID)
	if err != nil {
		return err
	}
	a.conv = conv

	// After the first completed exchange, ask a small model for a title. The
	// suggestion runs as its own session so Ctrl+C can cancel it too.
	if firstExchange && sess.State() == generate.StateCompleted {
		if assistant := conv.LastAssistantTurn(); assistant != nil {
			titleCh := make(chan string, 1)
			tSess := a.coord.SuggestTitle(ctx, conv.ID, text, assistant.Content, func(title string) {
				titleCh <- title
			})
			a.setSession(tSess)
			title := <-titleCh
			a.setSession(nil)
			if title != "" {
				a.conv.Title = title
				fmt.Printf("[Title] %s\n\n", title)
			}
		}
	}

	return nil
}

// newConversation creates and persists an empty conversation.
func (a *app) newConversation(ctx context.Context) error {
	conv := model.NewConversationWithModel(a.modelID)
	if err := a.store.CreateConversation(ctx, conv); err != nil {
		return err
	}
	a.conv = conv
	fmt.Printf("[New] %s\n", conv.ID)
	return nil
}

// =============================================================================
// COMMANDS
// =============================================================================

// handleCommand dispatches a slash command. Returns false to exit.
func (a *app) handleCommand(ctx context.Context, text string) (bool, error) {
	parts := strings.Fields(text)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		a.printHelp()
		return true, nil

	case "/quit", "/q", "/exit":
		return false, nil

	case "/cancel":
		if sess := a.currentSession(); sess != nil {
			a.coord.Cancel(sess)
		} else {
			fmt.Println("[No generation running]")
		}
		return true, nil

	case "/new", "/n":
		if err := a.requireIdle(); err != nil {
			return true, err
		}
		return true, a.newConversation(ctx)

	case "/list", "/ls":
		return true, a.listConversations(ctx)

	case "/open", "/o":
		if err := a.requireIdle(); err != nil {
			return true, err
		}
		if len(args) == 0 {
			return true, fmt.Errorf("usage: /open <conversation-id>")
		}
		return true, a.openConversation(ctx, args[0])

	case "/fork":
		if err := a.requireIdle(); err != nil {
			return true, err
		}
		return true, a.forkConversation(ctx, args)

	case "/rename":
		if a.conv == nil {
			return true, fmt.Errorf("no conversation open")
		}
		if len(args) == 0 {
			return true, fmt.Errorf("usage: /rename <title>")
		}
		title := strings.Join(args, " ")
		if err := a.store.SetTitle(ctx, a.conv.ID, title); err != nil {
			return true, err
		}
		a.conv.Title = title
		fmt.Printf("[OK] Renamed to: %s\n", title)
		return true, nil

	case "/pin", "/unpin":
		if a.conv == nil {
			return true, fmt.Errorf("no conversation open")
		}
		pinned := command == "/pin"
		if err := a.store.SetPinned(ctx, a.conv.ID, pinned); err != nil {
			return true, err
		}
		a.conv.Pinned = pinned
		fmt.Printf("[OK] Pinned: %v\n", pinned)
		return true, nil

	case "/delete", "/rm":
		if err := a.requireIdle(); err != nil {
			return true, err
		}
		if len(args) == 0 {
			return true, fmt.Errorf("usage: /delete <conversation-id>")
		}
		if err := a.store.DeleteConversation(ctx, args[0]); err != nil {
			return true, err
		}
		if a.conv != nil && a.conv.ID == args[0] {
			a.conv = nil
		}
		fmt.Println("[OK] Deleted")
		return true, nil

	case "/search":
		if len(args) == 0 {
			return true, fmt.Errorf("usage: /search <query>")
		}
		return true, a.searchConversations(ctx, strings.Join(args, " "))

	case "/export":
		if a.conv == nil {
			return true, fmt.Errorf("no conversation open")
		}
		format := "json"
		if len(args) > 0 {
			format = strings.ToLower(args[0])
		}
		return true, a.exportConversation(ctx, format)

	case "/import":
		if err := a.requireIdle(); err != nil {
			return true, err
		}
		if len(args) == 0 {
			return true, fmt.Errorf("usage: /import <file.json>")
		}
		return true, a.importConversation(ctx, args[0])

	case "/model", "/m":
		return true, a.handleModel(ctx, args)

	case "/models":
		return true, a.listModels(ctx, args)

	case "/image", "/img":
		if len(args) == 0 {
			if a.pendingImage != "" {
				fmt.Printf("[Image] Pending: %s\n", a.pendingImage)
			} else {
				fmt.Println("[Image] None pending. Usage: /image <path>")
			}
			return true, nil
		}
		return true, a.attachImage(args[0])

	case "/think", "/t":
		a.thinkEnabled = !a.thinkEnabled
		fmt.Printf("[Think] Reasoning requested: %v\n", a.thinkEnabled)
		return true, nil

	case "/history":
		a.printHistory()
		return true, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// requireIdle rejects state-changing actions while a generation is running.
func (a *app) requireIdle() error {
	if a.coord.GenerationActive() {
		return fmt.Errorf("a generation is running; /cancel it first")
	}
	return nil
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func (a *app) listConversations(ctx context.Context) error {
	summaries, err := a.store.ListConversations(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("[No conversations]")
		return nil
	}
	a.printSummaries(summaries)
	return nil
}

func (a *app) searchConversations(ctx context.Context, query string) error {
	summaries, err := a.store.SearchConversations(ctx, query)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("[No matches]")
		return nil
	}
	a.printSummaries(summaries)
	return nil
}

func (a *app) printSummaries(summaries []storage.Summary) {
	fmt.Println()
	for _, s := range summaries {
		marker := " "
		if s.Pinned {
			marker = "*"
		}
		fmt.Printf("  %s %s  %-40s %s (%d turns, %s)\n",
			marker, s.ID,
			util.TruncateRunes(s.Title, 40),
			s.Model, s.TurnCount,
			s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println()
}

func (a *app) openConversation(ctx context.Context, id string) error {
	conv, err := a.store.LoadConversation(ctx, id)
	if err != nil {
		return err
	}
	a.conv = conv
	if conv.Model != "" {
		a.modelID = conv.Model
	}
	s := conv.GetSummary()
	fmt.Printf("[Open] %s (%s, %d turns)\n", s.Title, s.Model, s.TurnCount)
	if s.TurnCount > 0 {
		fmt.Printf("       last: %s\n", s.Preview)
	}
	return nil
}

func (a *app) forkConversation(ctx context.Context, args []string) error {
	if a.conv == nil {
		return fmt.Errorf("no conversation open")
	}
	uptoIndex := len(a.conv.Turns) - 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("usage: /fork [turn-index]")
		}
		uptoIndex = n
	}
	fork, err := a.store.ForkConversation(ctx, a.conv.ID, uptoIndex)
	if err != nil {
		return err
	}
	a.conv = fork
	fmt.Printf("[Fork] %s (%d turns)\n", fork.GetTitle(), len(fork.Turns))
	return nil
}

func (a *app) exportConversation(ctx context.Context, format string) error {
	// Export the persisted state, not the in-memory copy.
	conv, err := a.store.LoadConversation(ctx, a.conv.ID)
	if err != nil {
		return err
	}

	opts := &export.Options{
		OutputDir:         a.cfg.Storage.ExportDir,
		IncludeTimestamps: true,
	}

	var exporter export.Exporter
	switch format {
	case "json":
		exporter = export.NewJSONExporter()
	case "md", "markdown":
		exporter = export.NewMarkdownExporter(opts)
	default:
		return fmt.Errorf("unknown format %q (json, md)", format)
	}

	path, err := export.ExportToFile(conv, exporter, opts)
	if err != nil {
		return err
	}
	fmt.Printf("[OK] Exported to %s\n", path)
	return nil
}

func (a *app) importConversation(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	conv, err := export.Import(data)
	if err != nil {
		return err
	}
	if conv.Model == "" {
		conv.Model = a.modelID
	}
	if err := a.store.CreateConversation(ctx, conv); err != nil {
		return err
	}
	a.conv = conv
	fmt.Printf("[OK] Imported %s (%d turns) as %s\n", conv.GetTitle(), len(conv.Turns), conv.ID)
	return nil
}

func (a *app) handleModel(ctx context.Context, args []string) error {
	if len(args) == 0 {
		cap := a.classifier.Classify(ctx, a.modelID)
		fmt.Printf("[Model] %s (vision=%v, reasoning=%s, source=%s)\n",
			a.modelID, cap.Vision, cap.Reasoning, cap.Source)
		return nil
	}

	if err := a.requireIdle(); err != nil {
		return err
	}

	newModel := args[0]
	lookCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if !a.client.ModelExists(lookCtx, newModel) {
		fmt.Fprintf(os.Stderr, "[Warning] Model %q not found locally, using anyway\n", newModel)
	}

	a.modelID = newModel
	if a.conv != nil {
		if err := a.store.SetModel(ctx, a.conv.ID, newModel); err != nil {
			return err
		}
		a.conv.Model = newModel
	}

	cap := a.classifier.Classify(ctx, newModel)
	fmt.Printf("[OK] Switched to %s (vision=%v, reasoning=%s)\n", newModel, cap.Vision, cap.Reasoning)
	return nil
}

func (a *app) listModels(ctx context.Context, args []string) error {
	if len(args) > 0 && strings.ToLower(args[0]) == "refresh" {
		if err := a.requireIdle(); err != nil {
			return err
		}
		models, err := a.client.ListModels(ctx)
		if err != nil {
			return err
		}
		ids := make([]string, len(models))
		for i, m := range models {
			ids[i] = m.Name
		}
		a.classifier.Refresh(ctx, ids...)
		fmt.Printf("[OK] Re-classified %d models\n", len(ids))
		return nil
	}

	models, err := a.client.ListModels(ctx)
	if err != nil {
		return err
	}
	fmt.Println()
	for _, m := range models {
		line := "  " + m.Name
		if cap, ok := a.classifier.Lookup(m.Name); ok {
			line += fmt.Sprintf("  (vision=%v, reasoning=%s)", cap.Vision, cap.Reasoning)
		}
		fmt.Println(line)
	}
	fmt.Println()
	return nil
}

func (a *app) attachImage(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	a.pendingImage = path
	fmt.Printf("[Image] Attached %s; it will be sent with your next message\n", path)
	return nil
}

func (a *app) printHistory() {
	if a.conv == nil || len(a.conv.Turns) == 0 {
		fmt.Println("[No messages yet]")
		return
	}
	fmt.Println()
	fmt.Printf("%s\n", a.conv.GetTitle())
	fmt.Println(strings.Repeat("─", 25))
	for i, turn := range a.conv.Turns {
		preview := strings.ReplaceAll(turn.Content, "\n", " ")
		preview = util.TruncateRunes(preview, 100)
		suffix := ""
		if turn.Interrupted {
			suffix = " [interrupted]"
		}
		fmt.Printf("  %d. %s: %s%s\n", i+1, turn.Role.DisplayName(), preview, suffix)
	}
	fmt.Println()
}

func (a *app) printHelp() {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/new", "Start a new conversation"},
		{"/list", "List conversations (pinned first)"},
		{"/open <id>", "Open a conversation"},
		{"/fork [index]", "Fork the open conversation up to a turn"},
		{"/rename <title>", "Rename the open conversation"},
		{"/pin, /unpin", "Pin or unpin the open conversation"},
		{"/delete <id>", "Delete a conversation"},
		{"/search <query>", "Search titles and message text"},
		{"/export [json|md]", "Export the open conversation"},
		{"/import <file>", "Import a JSON export"},
		{"/model [name]", "Show or switch model"},
		{"/models [refresh]", "List local models / refresh capabilities"},
		{"/image <path>", "Attach an image to the next message"},
		{"/think", "Toggle reasoning for the next messages"},
		{"/history", "Show the open conversation"},
		{"/cancel", "Cancel the running generation"},
		{"/quit", "Exit"},
	}

	fmt.Println()
	fmt.Println("Available Commands")
	fmt.Println(strings.Repeat("─", 20))
	for _, c := range commands {
		fmt.Printf("  %-20s %s\n", c.cmd, c.desc)
	}
	fmt.Println()
	fmt.Println("Tip: Ctrl+C cancels the current generation, Ctrl+D exits")
	fmt.Println()
}
