package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	pgstore "dossier/internal/aggregate/store/postgres"
	"dossier/internal/analytics"
	"dossier/internal/platform/config"
	"dossier/internal/platform/postgres"
	id "dossier/pkg/domain"
)

const dateLayout = "2006-01-02"

func newRebuildSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild-summary",
		Short: "Recompute a subject's summary index from its communication buckets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			subjectID, err := subjectFlag(cmd)
			if err != nil {
				return err
			}
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			db, err := postgres.Open(cmd.Context(), cfg.Postgres)
			if err != nil {
				return err
			}
			defer db.Close()

			tokens, err := pgstore.New(db).RebuildSummary(cmd.Context(), subjectID)
			if err != nil {
				return err
			}
			log.Info("summary rebuilt", "subject_id", subjectID.String(), "tokens", tokens)
			return writeJSON(cmd.OutOrStdout(), map[string]any{"subject_id": subjectID, "tokens": tokens})
		},
	}
	cmd.Flags().String("subject", "", "Subject ID.")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newMostContactedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "most-contacted",
		Short: "Rank a subject's peers per communication kind",
		RunE: func(cmd *cobra.Command, _ []string) error {
			subjectID, err := subjectFlag(cmd)
			if err != nil {
				return err
			}
			from, to, err := windowFlags(cmd)
			if err != nil {
				return err
			}
			sortFlag, _ := cmd.Flags().GetString("sort-by")
			sortBy, err := analytics.ParseSortBy(sortFlag)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			return withAnalytics(cmd, func(svc *analytics.Service) error {
				groups, err := svc.MostContacted(cmd.Context(), subjectID, from, to, sortBy, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), groups)
			})
		},
	}
	cmd.Flags().String("subject", "", "Subject ID.")
	cmd.Flags().String("from", "", "First day, YYYY-MM-DD (optional).")
	cmd.Flags().String("to", "", "Last day, YYYY-MM-DD (optional).")
	cmd.Flags().String("sort-by", string(analytics.SortByCount), "Ranking metric: count or size.")
	cmd.Flags().Int("limit", 10, "Contacts per kind; one extra row is kept.")
	cmd.Flags().String("names", "", "JSON file mapping <kind>_<peer> to a display name (optional).")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newMostVisitedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "most-visited",
		Short: "Rank the places a subject stayed at",
		RunE: func(cmd *cobra.Command, _ []string) error {
			subjectID, err := subjectFlag(cmd)
			if err != nil {
				return err
			}
			from, to, err := windowFlags(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			return withAnalytics(cmd, func(svc *analytics.Service) error {
				places, err := svc.MostVisited(cmd.Context(), subjectID, from, to, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), places)
			})
		},
	}
	cmd.Flags().String("subject", "", "Subject ID.")
	cmd.Flags().String("from", "", "First day, YYYY-MM-DD (optional).")
	cmd.Flags().String("to", "", "Last day, YYYY-MM-DD (optional).")
	cmd.Flags().Int("limit", 10, "Number of places.")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func withAnalytics(cmd *cobra.Command, fn func(*analytics.Service) error) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	db, err := postgres.Open(cmd.Context(), cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := []analytics.Option{
		analytics.WithLogger(log),
		analytics.WithResolveConcurrency(cfg.Analytics.ResolveConcurrency),
	}
	if cmd.Flags().Lookup("names") != nil {
		path, _ := cmd.Flags().GetString("names")
		resolver, err := loadNames(path, cfg.Analytics)
		if err != nil {
			return err
		}
		if resolver != nil {
			opts = append(opts, analytics.WithResolver(resolver))
		}
	}

	svc, err := analytics.New(pgstore.New(db), opts...)
	if err != nil {
		return err
	}
	return fn(svc)
}

func loadNames(path string, cfg config.Analytics) (analytics.NameResolver, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read names: %w", err)
	}
	var names analytics.StaticResolver
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("decode names %s: %w", path, err)
	}
	return analytics.NewCachedResolver(names,
		analytics.WithCacheSize(cfg.NameCacheSize),
		analytics.WithCacheTTL(cfg.NameCacheTTL),
		analytics.WithResolveTimeout(cfg.ResolveTimeout),
	), nil
}

func subjectFlag(cmd *cobra.Command) (id.SubjectID, error) {
	raw, _ := cmd.Flags().GetString("subject")
	return id.ParseSubjectID(raw)
}

func windowFlags(cmd *cobra.Command) (time.Time, time.Time, error) {
	var bounds [2]time.Time
	for i, name := range []string{"from", "to"} {
		raw, _ := cmd.Flags().GetString(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--%s: %w", name, err)
		}
		bounds[i] = t
	}
	return bounds[0], bounds[1], nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
