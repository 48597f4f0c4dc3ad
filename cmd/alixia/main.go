package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"alixia/internal/app"
	"alixia/internal/capability"
	"alixia/internal/config"
	"alixia/internal/dialog"
	"alixia/internal/engine"
	"alixia/internal/logging"
	"alixia/internal/migrate"
	"alixia/internal/repo"
	"alixia/internal/server"
	alixiasdk "alixia/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "alixia",
	Short: "Alixia assistant",
	Long: `Alixia answers client turns by passing them between rooms on a shared hall.
- Turn: one message from a client device; the house waits for its answer.
- Room: a provider of capabilities (linguist, matcher, concierge, historian, ...).
- Ticket: the id and journal that follow a turn from received to closed.
- Routing table: which rooms serve which capability, discovered at startup.
- Event log: every stage and hall document, view with 'alixia log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ALIXIA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/alixia.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level")
	rootCmd.PersistentFlags().String("server", "", "talk to a running server instead of starting rooms in-process")
	rootCmd.PersistentFlags().String("token", "", "bearer token for --server")
	for _, name := range []string{"workspace", "config", "json", "log-level", "server", "token"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(capabilitiesCmd())
	rootCmd.AddCommand(roomsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the rooms and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunning(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				cfg := e.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				secret := cfg.Server.JWTSecret
				if env := viper.GetString("jwt-secret"); env != "" {
					secret = env
				}
				if secret == "" {
					e.Log.Warn("authentication disabled; set server.jwt_secret or ALIXIA_JWT_SECRET")
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret},
					Log:      e.Log,
				})
				if err != nil {
					return err
				}
				go server.NewWebhookDispatcher(e.Repo, cfg, e.Log).Run(ctx)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				schema, err := migrate.Current(ctx, e.DB)
				if err != nil {
					return err
				}
				e.Log.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath), zap.Int("schema", schema))
				fmt.Printf("Serving Alixia API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func askCmd() *cobra.Command {
	var clientID, personID, language string
	var caps []string
	var quiet, voice bool
	cmd := &cobra.Command{
		Use:   "ask [message...]",
		Short: "Run one turn and print the answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			turn := alixiasdk.Turn{
				ClientID:     clientID,
				PersonID:     personID,
				Message:      strings.Join(args, " "),
				Capabilities: caps,
				Language:     language,
				Quiet:        quiet,
			}
			if voice {
				turn.SessionType = string(dialog.SessionVoice)
			}
			if c := remote(); c != nil {
				ans, err := c.Ask(cmd.Context(), turn)
				if err != nil {
					return err
				}
				return printAnswer(ans)
			}
			return withRunning(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				req := dialog.Request{
					ClientID:    turn.ClientID,
					PersonID:    turn.PersonID,
					Message:     turn.Message,
					Language:    turn.Language,
					SessionType: dialog.SessionType(turn.SessionType),
					Quiet:       turn.Quiet,
				}
				for _, c := range caps {
					req.Capabilities = append(req.Capabilities, capabilityName(c))
				}
				resp, err := e.Ask(ctx, req)
				if err != nil {
					return err
				}
				return printAnswer(alixiasdk.Answer{
					TicketID:    resp.TicketID,
					ToClient:    resp.ToClient,
					Message:     resp.Message,
					Explanation: resp.Explanation,
					Payload:     resp.Payload,
					Capability:  string(resp.Capability),
				})
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "cli", "client id")
	cmd.Flags().StringVar(&personID, "person", "", "person id")
	cmd.Flags().StringVar(&language, "language", "", "language tag")
	cmd.Flags().StringSliceVar(&caps, "capability", nil, "dispatch these capabilities directly")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress multimedia answers")
	cmd.Flags().BoolVar(&voice, "voice", false, "voice session")
	return cmd
}

func capabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Show the routing table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remote(); c != nil {
				items, err := c.Capabilities(cmd.Context())
				if err != nil {
					return err
				}
				return printCapabilities(items)
			}
			return withRunning(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rt := e.Registry.Table()
				catalog := e.Config.Catalog()
				var items []alixiasdk.Capability
				for _, n := range rt.Names() {
					var rooms []string
					for _, r := range rt.RoomsFor(n) {
						rooms = append(rooms, r.String())
					}
					items = append(items, alixiasdk.Capability{Name: string(n), Description: catalog[n], Rooms: rooms})
				}
				return printCapabilities(items)
			})
		},
	}
}

func roomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "Show room state and traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []alixiasdk.Room
			if c := remote(); c != nil {
				var err error
				if items, err = c.Rooms(cmd.Context()); err != nil {
					return err
				}
			} else {
				err := withRunning(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
					for _, s := range e.Stats() {
						items = append(items, alixiasdk.Room{
							Room: s.Room.String(), State: s.State, Capabilities: s.Capabilities,
							Sent: s.Sent, Received: s.Received, Pending: s.Pending, Stalled: s.Stalled,
						})
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Room", "State", "Capabilities", "Sent", "Received", "Pending", "Stalled"})
			for _, r := range items {
				tw.AppendRow(table.Row{r.Room, r.State, r.Capabilities, r.Sent, r.Received, r.Pending, r.Stalled})
			}
			tw.Render()
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var clientID string
	var n int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List completed turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []alixiasdk.HistoryEntry
			if c := remote(); c != nil {
				var err error
				if items, err = c.History(cmd.Context(), clientID, n); err != nil {
					return err
				}
			} else {
				err := withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
					rows, err := r.ListHistory(ctx, clientID, n)
					if err != nil {
						return err
					}
					for _, h := range rows {
						items = append(items, alixiasdk.HistoryEntry{
							TicketID: h.TicketID, ClientID: h.ClientID, Message: h.Message,
							Reply: h.Reply, Capabilities: h.Capabilities, TS: h.TS,
						})
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Ticket", "Client", "Message", "Reply", "Capabilities", "When"})
			for _, h := range items {
				tw.AppendRow(table.Row{h.TicketID, h.ClientID, h.Message, h.Reply, strings.Join(h.Capabilities, ","), h.TS})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client id filter")
	cmd.Flags().IntVar(&n, "n", 20, "number of turns")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every ticket stage, hall document, stall and startup report.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, ticketID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, ticketID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Ticket", "Room", "Payload"})
				for _, e := range events {
					payload, _ := json.Marshal(e.Payload)
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.TicketID, e.Room, string(payload)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket id filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage alixia.yml",
		Long:  "The config names the service, the rooms to run, the capability catalog and the matcher rules.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var name string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default alixia.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "alixia", "service name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "API tokens"}
	var subject string
	var scopes []string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			secret := cfg.Server.JWTSecret
			if env := viper.GetString("jwt-secret"); env != "" {
				secret = env
			}
			signed, err := server.IssueToken(secret, subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "subject", "", "token subject")
	issue.Flags().StringSliceVar(&scopes, "scope", []string{server.ScopeTurns, server.ScopeRead}, "granted scopes")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "lifetime; 0 never expires")
	_ = issue.MarkFlagRequired("subject")
	tok.AddCommand(issue)
	return tok
}

// --- helpers ---

func resolveConfig() (*config.Config, error) {
	return app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if l := viper.GetString("log-level"); l != "" {
		level = l
	}
	return logging.New(level, cfg.Logging.Development)
}

// withRunning starts every configured room for the duration of fn.
func withRunning(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	conn, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	e, err := engine.New(conn, cfg, log)
	if err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Stop(sctx); err != nil {
			log.Warn("stop", zap.Error(err))
		}
	}()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func remote() *alixiasdk.Client {
	url := viper.GetString("server")
	if url == "" {
		return nil
	}
	c := alixiasdk.New(url)
	c.BearerToken = viper.GetString("token")
	return c
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printAnswer(a alixiasdk.Answer) error {
	if viper.GetBool("json") {
		return printJSON(a)
	}
	fmt.Println(a.Message)
	if a.Explanation != "" {
		fmt.Println()
		fmt.Println(a.Explanation)
	}
	return nil
}

func printCapabilities(items []alixiasdk.Capability) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Capability", "Rooms", "Description"})
	for _, c := range items {
		tw.AppendRow(table.Row{c.Name, strings.Join(c.Rooms, ","), c.Description})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func capabilityName(s string) capability.Name { return capability.Name(strings.TrimSpace(s)) }
