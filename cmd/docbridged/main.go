// Command docbridged runs the document database client connection
// front-end: it accepts driver connections, performs the versioned
// handshake, and dispatches authenticated queries to a QueryHandler.
//
// This binary wires a no-op query handler by default (it always returns
// an empty success payload); it exists to exercise the listener,
// handshake, and connection-loop stack end to end, not to execute real
// queries — the query engine itself is out of this module's scope
// (spec.md §1).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/robertjpayne/rethinkdb/internal/auth"
	"github.com/robertjpayne/rethinkdb/internal/config"
	"github.com/robertjpayne/rethinkdb/internal/frame"
	"github.com/robertjpayne/rethinkdb/internal/logging"
	"github.com/robertjpayne/rethinkdb/internal/query"
	"github.com/robertjpayne/rethinkdb/internal/session"
	"github.com/robertjpayne/rethinkdb/internal/version"
	"github.com/robertjpayne/rethinkdb/internal/watchable"
	"github.com/robertjpayne/rethinkdb/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docbridged",
		Short: "Document database client connection front-end",
	}

	var cfgFile string
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML/TOML/JSON config file")

	root.AddCommand(newServeCmd(&cfgFile))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
			return nil
		},
	}
}

func newServeCmd(cfgFile *string) *cobra.Command {
	var (
		plaintextKey string
		port         int
		authBackend  string
		ldapURI      string
		ldapPort     int
		ldapBindDN   string
		ldapSvcCN    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept driver connections and serve queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Port = port
			}
			if authBackend != "" {
				cfg.AuthBackend = authBackend
			}
			if ldapURI != "" {
				cfg.LDAP.URI = ldapURI
			}
			if ldapPort != 0 {
				cfg.LDAP.Port = ldapPort
			}
			if ldapBindDN != "" {
				cfg.LDAP.BindDN = ldapBindDN
			}
			if ldapSvcCN != "" {
				cfg.LDAP.ServiceCN = ldapSvcCN
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runServe(cmd.Context(), cfg, plaintextKey)
		},
	}

	cmd.Flags().StringVar(&plaintextKey, "auth-key", "", "legacy plaintext authorization key (static backend only)")
	cmd.Flags().IntVar(&port, "port", 0, "override the configured port")
	cmd.Flags().StringVar(&authBackend, "auth-backend", "", "legacy key verification backend: static or ldap")
	cmd.Flags().StringVar(&ldapURI, "ldap-uri", "", "LDAP server host (auth-backend=ldap)")
	cmd.Flags().IntVar(&ldapPort, "ldap-port", 0, "LDAP server port (auth-backend=ldap)")
	cmd.Flags().StringVar(&ldapBindDN, "ldap-bind-dn", "", "LDAP bind DN fmt pattern, e.g. cn=%s,ou=services,dc=example,dc=com")
	cmd.Flags().StringVar(&ldapSvcCN, "ldap-service-cn", "", "common name substituted into ldap-bind-dn")

	return cmd
}

// buildWatchable selects the AuthWatchable and legacy-auth factory implied
// by cfg.AuthBackend (spec.md §6's "Operational inputs", extended to
// choose between the Static and LDAP-backed watchables). The SCRAM path
// always consults the returned watchable directly; LDAP never answers
// LookupSCRAM (internal/watchable/ldap.go), so SCRAM clients against an
// ldap-backed deployment are rejected as unknown users unless Static is
// used instead.
func buildWatchable(cfg config.Config, plaintextKey string) (watchable.AuthWatchable, func(watchable.AuthWatchable) auth.Authenticator) {
	if cfg.AuthBackend == "ldap" {
		ldapWatch := watchable.NewLDAP(cfg.LDAPConfig())
		return ldapWatch, func(watchable.AuthWatchable) auth.Authenticator {
			return auth.NewPlaintextVerifier(ldapWatch.Verify)
		}
	}

	watch := watchable.NewStatic()
	if plaintextKey != "" {
		watch.PlaintextKey = plaintextKey
		watch.HasKey = true
	}
	return watch, func(w watchable.AuthWatchable) auth.Authenticator { return auth.NewPlaintext(w) }
}

func runServe(ctx context.Context, cfg config.Config, plaintextKey string) error {
	log := logging.New(os.Stderr, cfg.LogLevel)

	tlsCfg, err := cfg.TLSConfig().New()
	if err != nil {
		return err
	}

	watch, plaintextAuth := buildWatchable(cfg, plaintextKey)

	srv, err := server.New(server.Config{
		Addresses:     cfg.Addresses,
		Port:          cfg.Port,
		TLS:           tlsCfg,
		Workers:       cfg.Workers,
		Watchable:     watch,
		PlaintextAuth: plaintextAuth,
		Handler:       noopHandler{},
		Logger:        log,
		ServerVersion: version.Version,
	})
	if err != nil {
		return err
	}

	banner := color.New(color.FgCyan, color.Bold).Sprintf("docbridged %s listening on port %d", version.Version, cfg.Port)
	log.Info(banner, logging.Fields{"workers": cfg.Workers})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		log.Info("draining connections", logging.Fields{})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// noopHandler is the default QueryHandler this binary wires: it returns
// an empty success array for every query, matching the return-empty
// shape the JSON wire protocol expects of a cursor with no more results.
type noopHandler struct{}

func (noopHandler) RunQuery(ctx context.Context, sess *session.Session, params frame.QueryParams, resp *query.Response) error {
	resp.Payload = json.RawMessage(`{"t":1,"r":[]}`)
	return nil
}
