package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"reviews_app/internal/adapters/interceptorctl"
	"reviews_app/internal/adapters/notify"
	"reviews_app/internal/adapters/observability"
	"reviews_app/internal/adapters/restapi"
	"reviews_app/internal/app"
	"reviews_app/internal/domain"
	"reviews_app/internal/shared"
	"reviews_app/internal/storage/sqlite"
)

var (
	cfg      shared.Config
	logLevel string
	direct   bool
)

var rootCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Browse restaurants and write reviews, online or off",
	Long: `reviews - an offline-first client for the restaurant reviews API.

Reads go to the network first and fall back to the local store. Reviews
written while offline are queued and sent once the API is reachable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := shared.Parse()
		if err != nil {
			return err
		}
		cfg = c
		log.Logger = observability.NewLoggerTo(os.Stderr, "dev", logLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", zerolog.LevelWarnValue, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&direct, "direct", false, "talk to the API directly instead of through the interceptor")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// session is one page lifetime: a local store, the data access services,
// and, when it is running, an attachment to the interception process.
type session struct {
	store      domain.LocalStore
	closeStore func() error
	ctl        *interceptorctl.Client
	attached   bool
	notices    *notify.Snackbar
	queries    *app.QueryService
	reviews    *app.ReviewService
	outbox     *app.Outbox
}

func openSession(ctx context.Context, out io.Writer) (*session, error) {
	s := &session{notices: notify.NewSnackbar(out)}
	s.store, s.closeStore = sqlite.OpenOrDegrade(ctx, cfg.StorePath, cfg.StoreDisabled)

	opts := []restapi.Option{restapi.WithRetries(cfg.APIRetries)}
	var wake domain.WakeRequester
	if !direct {
		if ctl, err := interceptorctl.New(cfg.InterceptorURL); err == nil {
			s.ctl = ctl
			s.attach(ctx)
		}
		if s.attached {
			opts = append(opts, restapi.WithHTTPClient(s.ctl.HTTPClient(10*time.Second)))
			wake = s.ctl
		}
	}

	api, err := restapi.New(cfg.APIBase, cfg.APIRPS, opts...)
	if err != nil {
		_ = s.closeStore()
		return nil, err
	}
	s.outbox = app.NewOutbox(api, s.store, cfg.DrainWorkers)
	s.queries = app.NewQueryService(api, s.store)
	s.reviews = app.NewReviewService(api, s.store, s.outbox, s.notices, wake)
	return s, nil
}

func (s *session) attach(ctx context.Context) {
	actx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := s.ctl.Status(actx)
	if err != nil {
		log.Info().Err(err).Msg("interceptor not reachable; using the network directly")
		return
	}
	if err := s.ctl.Attach(actx); err != nil {
		log.Warn().Err(err).Msg("interceptor attach failed")
		return
	}
	s.attached = true
	if st.Active != "" && st.Active != s.seenVersion(st.Active) {
		s.notices.Show(domain.Notice{
			Name:     "swRegistered",
			Message:  "Offline support is ready (" + st.Active + ").",
			Duration: 4 * time.Second,
		})
	}
	if st.Waiting != "" {
		s.notices.Show(domain.Notice{
			Name:    "update",
			Message: "A new version is available. Run `reviews update` to switch to " + st.Waiting + ".",
		})
	}
}

// seenVersion records active as the last version this client saw and
// returns the previous one. The marker lives next to the local store.
func (s *session) seenVersion(active string) string {
	if cfg.StoreDisabled || cfg.StorePath == "" {
		return active
	}
	marker := cfg.StorePath + ".shell"
	prev, _ := os.ReadFile(marker)
	if string(prev) != active {
		if err := os.WriteFile(marker, []byte(active), 0o644); err != nil {
			log.Debug().Err(err).Msg("write shell marker")
		}
	}
	return string(prev)
}

func (s *session) close(ctx context.Context) {
	s.queries.Flush()
	s.reviews.Flush()
	if s.attached {
		if err := s.ctl.Detach(ctx); err != nil {
			log.Warn().Err(err).Msg("interceptor detach failed")
		}
	}
	if err := s.closeStore(); err != nil {
		log.Warn().Err(err).Msg("close local store")
	}
}

// withSession opens a session around fn and always closes it.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.close(context.WithoutCancel(ctx))
	return fn(ctx, s)
}
