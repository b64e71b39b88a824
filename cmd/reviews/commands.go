package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"reviews_app/internal/adapters/interceptorctl"
	"reviews_app/internal/domain"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	favStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List restaurants, optionally filtered",
	Example: `  reviews list
  reviews list --cuisine Asian --neighborhood Manhattan`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cuisine, _ := cmd.Flags().GetString("cuisine")
		area, _ := cmd.Flags().GetString("neighborhood")
		return withSession(cmd, func(ctx context.Context, s *session) error {
			ls, err := s.queries.FetchByCategoryAndArea(ctx, orAll(cuisine), orAll(area))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, l := range ls {
				printListingLine(out, l)
			}
			if len(ls) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("No restaurants match."))
			}
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one restaurant with its reviews",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			l, err := s.queries.FetchListingByID(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printListingLine(out, l)
			if l.Address != "" {
				fmt.Fprintln(out, "  "+l.Address)
			}
			for _, day := range []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"} {
				if h, ok := l.OperatingHours[day]; ok {
					fmt.Fprintf(out, "  %-10s %s\n", day, h)
				}
			}
			rs, err := s.reviews.FetchReviewsForListing(ctx, id)
			if err != nil {
				return err
			}
			printReviews(out, rs)
			return nil
		})
	},
}

var categoriesCmd = &cobra.Command{
	Use:     "cuisines",
	Aliases: []string{"categories"},
	Short:   "List distinct cuisines",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			cs, err := s.queries.FetchCategories(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(cs, "\n"))
			return nil
		})
	},
}

var areasCmd = &cobra.Command{
	Use:     "neighborhoods",
	Aliases: []string{"areas"},
	Short:   "List distinct neighborhoods",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			as, err := s.queries.FetchAreas(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(as, "\n"))
			return nil
		})
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review <restaurant-id>",
	Short: "Write a review",
	Long: `Write a review for a restaurant.

When the API cannot be reached the review is kept locally and sent later.`,
	Example: `  reviews review 3 --name Ana --rating 4 --comments "Great dumplings, slow service."`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		rating, _ := cmd.Flags().GetInt("rating")
		comments, _ := cmd.Flags().GetString("comments")
		in := domain.ReviewInput{RestaurantID: id, Name: name, Rating: rating, Comments: comments}
		if err := in.Validate(); err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			rv, err := s.reviews.CreateReview(ctx, in)
			if err != nil {
				return err
			}
			if rv != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "CREATED review %d\n", rv.ID)
			}
			return nil
		})
	},
}

var favoriteCmd = &cobra.Command{
	Use:     "favorite <restaurant-id>",
	Aliases: []string{"fav"},
	Short:   "Mark (or with --off, unmark) a restaurant as favorite",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		off, _ := cmd.Flags().GetBool("off")
		return withSession(cmd, func(ctx context.Context, s *session) error {
			l, err := s.reviews.UpdateFavorite(ctx, id, !off)
			if err != nil {
				return fmt.Errorf("favorite not changed: %w", err)
			}
			printListingLine(cmd.OutOrStdout(), *l)
			return nil
		})
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Send queued reviews now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			rep, err := s.outbox.Drain(ctx, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attempted %d, sent %d, failed %d\n", rep.Attempted, len(rep.Confirmed), rep.Failed)
			if rep.Failed > 0 {
				return errors.New("some reviews are still queued")
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the interception process state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := interceptorctl.New(cfg.InterceptorURL)
		if err != nil {
			return err
		}
		st, err := ctl.Status(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "active   %s (%s)\n", st.Active, st.State)
		if st.Waiting != "" {
			fmt.Fprintf(out, "waiting  %s\n", st.Waiting)
		}
		fmt.Fprintf(out, "clients  %d\n", st.Clients)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Switch to the waiting version now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := interceptorctl.New(cfg.InterceptorURL)
		if err != nil {
			return err
		}
		if err := ctl.SkipWaiting(cmd.Context()); err != nil {
			return err
		}
		st, err := ctl.Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active %s\n", st.Active)
		return nil
	},
}

func init() {
	listCmd.Flags().String("cuisine", domain.AllFilter, "cuisine filter")
	listCmd.Flags().String("neighborhood", domain.AllFilter, "neighborhood filter")

	reviewCmd.Flags().String("name", "", "your name")
	reviewCmd.Flags().Int("rating", 0, "rating from 1 to 5")
	reviewCmd.Flags().String("comments", "", "review text")
	_ = reviewCmd.MarkFlagRequired("name")
	_ = reviewCmd.MarkFlagRequired("rating")
	_ = reviewCmd.MarkFlagRequired("comments")

	favoriteCmd.Flags().Bool("off", false, "remove the favorite mark")

	rootCmd.AddCommand(listCmd, showCmd, categoriesCmd, areasCmd, reviewCmd, favoriteCmd, drainCmd, statusCmd, updateCmd)
}

func orAll(s string) string {
	if strings.TrimSpace(s) == "" {
		return domain.AllFilter
	}
	return s
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid restaurant id %q", s)
	}
	return id, nil
}

func printListingLine(w io.Writer, l domain.Listing) {
	line := fmt.Sprintf("%3d  %s  %s", l.ID, titleStyle.Render(l.Name), mutedStyle.Render(l.CuisineType+" · "+l.Neighborhood))
	if l.IsFavorite {
		line += " " + favStyle.Render("♥")
	}
	fmt.Fprintln(w, line)
}

func printReviews(w io.Writer, rs []domain.Review) {
	if len(rs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No reviews yet!"))
		return
	}
	for _, r := range rs {
		head := fmt.Sprintf("%s  %s  %s", titleStyle.Render(r.Name), strings.Repeat("★", max(r.Rating, 0)), mutedStyle.Render(r.CreatedAt.Format("January 2, 2006")))
		if r.Pending {
			head += "  " + pendingStyle.Render("(pending)")
		}
		fmt.Fprintln(w, head)
		fmt.Fprintln(w, "  "+r.Comments)
	}
}
