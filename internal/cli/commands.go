package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/dyike/chatbox/config"
	"github.com/dyike/chatbox/internal/api"
	"github.com/dyike/chatbox/internal/chat"
	"github.com/dyike/chatbox/internal/session"
	"github.com/dyike/chatbox/internal/transcript"
	"github.com/dyike/chatbox/internal/tui"
)

const version = "1.0.0"

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "chatbox",
		Short: "chatbox - terminal client for a chatbot API",
		Long: `chatbox sends your messages to a chatbot HTTP API and shows the replies.
A session id is kept between runs so the server can follow the conversation.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: start chatting
			return runChat(cmd, opts, false)
		},
	}

	rootCmd.AddCommand(newChatCmd(opts))
	rootCmd.AddCommand(newSendCmd(opts))
	rootCmd.AddCommand(newSessionCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newDoctorCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	// Global flags
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&opts.endpoint, "endpoint", "", "Chatbot API endpoint (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	return rootCmd
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, plain)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Line mode instead of the full-screen interface")
	return cmd
}

func runChat(cmd *cobra.Command, opts *rootOptions, plain bool) error {
	in, isFile := cmd.InOrStdin().(*os.File)
	if !isFile || !isatty.IsTerminal(in.Fd()) {
		plain = true
	}

	a, err := newApp(opts, plain)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if plain {
		out := cmd.OutOrStdout()
		d, err := a.dispatcher(consoleView{out: out})
		if err != nil {
			return err
		}
		a.watch(ctx, func(endpoint string) {
			fmt.Fprintln(out, dimStyle.Render("endpoint changed to "+endpoint))
		})
		printBanner(out, a.client.Endpoint(), d.SessionID())
		return NewREPL(cmd.InOrStdin(), out, d).Run(ctx)
	}

	events := tui.NewEvents()
	defer events.Close()
	d, err := a.dispatcher(events)
	if err != nil {
		return err
	}

	model := tui.New(ctx, d, events, tui.Options{
		Endpoint: a.client.Endpoint(),
		Markdown: a.cfg.Markdown,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	a.watch(ctx, func(endpoint string) {
		p.Send(tui.EndpointChangedMsg{Endpoint: endpoint})
	})

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat screen: %w", err)
	}
	return nil
}

// sendView collects what a single send displays.
type sendView struct {
	bot *chat.Message
}

func (v *sendView) ShowMessage(m chat.Message) {
	if m.Sender == chat.SenderBot {
		v.bot = &m
	}
}
func (v *sendView) ClearInput()     {}
func (v *sendView) SetLoading(bool) {}
func (v *sendView) Focus()          {}

func newSendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send MESSAGE...",
		Short: "Send one message and print the reply",
		Long: `Send one message using the stored session and print the reply.
Example: chatbox send "What can you do?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			view := &sendView{}
			d, err := a.dispatcher(view)
			if err != nil {
				return err
			}

			res, err := d.Send(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if res.Outcome == chat.OutcomeSkipped {
				return errors.New("message is empty")
			}
			if view.bot != nil {
				fmt.Fprintln(cmd.OutOrStdout(), view.bot.Text)
			}

			switch res.Outcome {
			case chat.OutcomeFailure:
				return fmt.Errorf("request failed: %w", res.Err)
			case chat.OutcomeServerError:
				return errors.New("server reported an error")
			}
			return nil
		},
	}
}

func newSessionCmd(opts *rootOptions) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or reset the stored session id",
	}

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			id, err := session.NewFileStore(cfg.SessionFile).Load()
			if err != nil {
				return err
			}
			if id == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no session yet, one is created with the first message")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})

	var yes bool
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the stored session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if !yes {
				ok, err := ConfirmAction("Forget the current session? The server will treat your next message as a new conversation.")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
					return nil
				}
			}
			if err := session.NewFileStore(cfg.SessionFile).Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
			return nil
		},
	}
	resetCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	sessionCmd.AddCommand(resetCmd)

	return sessionCmd
}

// newConfigCmd creates the config command
func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Manage chatbox configuration settings",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			showConfig(cmd, mgr.Path(), cfg)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mgr.Path())
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return validateConfig(cmd, cfg)
		},
	})

	var (
		initEndpoint string
		initYes      bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create or update the configuration file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.NewManager(opts.configPath)
			if err != nil {
				return err
			}
			cfg := mgr.Get()

			if initEndpoint != "" {
				cfg.Endpoint = initEndpoint
			} else if !initYes {
				endpoint, err := PromptForEndpoint(cfg.Endpoint)
				if err != nil {
					return err
				}
				cfg.Endpoint = endpoint
			}
			if !initYes {
				if err := PromptForPreferences(&cfg); err != nil {
					return err
				}
			}

			if err := mgr.Update(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration saved to %s\n", mgr.Path())
			return nil
		},
	}
	initCmd.Flags().StringVar(&initEndpoint, "set-endpoint", "", "Endpoint to store without prompting")
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "Accept defaults without prompting")
	configCmd.AddCommand(initCmd)

	return configCmd
}

// showConfig displays the current configuration
func showConfig(cmd *cobra.Command, path string, cfg config.Config) {
	w := cmd.OutOrStdout()
	printSection(w, "chatbox configuration")
	printField(w, "Config file", path)
	printField(w, "Endpoint", cfg.Endpoint)
	printField(w, "Request timeout", cfg.RequestTimeout.Std().String())
	printField(w, "User agent", cfg.UserAgent)
	fmt.Fprintln(w)
	printField(w, "Data directory", cfg.DataDir)
	printField(w, "Session file", cfg.SessionFile)
	printField(w, "Log file", cfg.LogFile)
	printField(w, "Log level", cfg.LogLevel)
	fmt.Fprintln(w)
	printField(w, "Markdown", fmt.Sprintf("%t", cfg.Markdown))
	printField(w, "Transcript", fmt.Sprintf("%t", cfg.TranscriptEnabled))
	if cfg.TranscriptEnabled {
		printField(w, "Transcript DB", cfg.TranscriptDB)
	}
	printField(w, "Debug", fmt.Sprintf("%t", cfg.Debug))
}

// validateConfig validates the configuration and prepares directories
func validateConfig(cmd *cobra.Command, cfg config.Config) error {
	w := cmd.OutOrStdout()
	printSection(w, "Validating configuration")

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "settings      %s\n", check(false))
		return err
	}
	fmt.Fprintf(w, "settings      %s\n", check(true))

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(w, "directories   %s\n", check(false))
		return fmt.Errorf("directory validation failed: %w", err)
	}
	fmt.Fprintf(w, "directories   %s\n", check(true))

	if cfg.RequestTimeout == 0 {
		fmt.Fprintln(w, warnStyle.Render("request_timeout is 0: requests never time out"))
	}
	return nil
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		limit        int
		sessionID    string
		listSessions bool
		deleteID     string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show messages from the local transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.transcript == nil {
				return errors.New("transcript is disabled; set transcript_enabled in the config or CHATBOX_TRANSCRIPT=true")
			}
			w := cmd.OutOrStdout()

			if deleteID != "" {
				if err := a.transcript.DeleteSession(cmd.Context(), deleteID); err != nil {
					if errors.Is(err, transcript.ErrSessionNotFound) {
						return fmt.Errorf("no recorded session %s", deleteID)
					}
					return err
				}
				fmt.Fprintln(w, "deleted "+deleteID)
				return nil
			}

			if listSessions {
				sessions, err := a.transcript.ListSessions(cmd.Context(), 0, limit)
				if err != nil {
					return err
				}
				for _, s := range sessions {
					fmt.Fprintf(w, "%s  %3d messages  last %s\n", s.ID, s.Messages, s.UpdatedAt.Local().Format(time.DateTime))
				}
				return nil
			}

			if sessionID == "" {
				sessionID, err = a.store.Load()
				if err != nil {
					return err
				}
				if sessionID == "" {
					fmt.Fprintln(w, "no session yet")
					return nil
				}
			}

			msgs, err := a.transcript.ListMessages(cmd.Context(), sessionID, limit)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintln(w, "no messages recorded for "+sessionID)
				return nil
			}
			for _, rec := range msgs {
				fmt.Fprintln(w, dimStyle.Render(rec.Message.Time.Local().Format(time.DateTime))+" "+formatMessage(rec.Message))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of entries")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (defaults to the stored one)")
	cmd.Flags().BoolVar(&listSessions, "sessions", false, "List recorded sessions instead of messages")
	cmd.Flags().StringVar(&deleteID, "delete", "", "Delete a recorded session and its messages")
	cmd.MarkFlagsMutuallyExclusive("delete", "sessions", "session")
	return cmd
}

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and endpoint reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := validateConfig(cmd, cfg); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := api.New(api.Options{Endpoint: cfg.Endpoint, UserAgent: cfg.UserAgent})
			code, err := client.Ping(ctx)
			if err != nil {
				fmt.Fprintf(w, "endpoint      %s\n", check(false))
				return fmt.Errorf("endpoint unreachable: %w", err)
			}
			fmt.Fprintf(w, "endpoint      %s (HTTP %d)\n", check(true), code)

			id, err := session.NewFileStore(cfg.SessionFile).Load()
			switch {
			case err != nil:
				fmt.Fprintf(w, "session       %s %v\n", check(false), err)
			case id == "":
				fmt.Fprintf(w, "session       %s\n", warnStyle.Render("none yet"))
			default:
				fmt.Fprintf(w, "session       %s %s\n", check(true), id)
			}

			if cfg.TranscriptEnabled {
				ts, err := transcript.Open(cfg.TranscriptDB)
				if err != nil {
					fmt.Fprintf(w, "transcript    %s\n", check(false))
					return err
				}
				_ = ts.Close()
				fmt.Fprintf(w, "transcript    %s\n", check(true))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Reachability check timeout")
	return cmd
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatbox v%s\n", version)
		},
	}
}
