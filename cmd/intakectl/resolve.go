package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/service/catalog"
	"github.com/vladislavdragonenkov/intake/internal/storage/memory"
)

type resolveRow struct {
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Price     string  `json:"price"`
	Score     float64 `json:"score"`
	Available *int64  `json:"available,omitempty"`
}

func (c *cli) newResolveCmd() *cobra.Command {
	var (
		snapshotPath string
		topN         int
		minScore     float64
		tolerance    float64
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <text>",
		Short: "Resolve free text against a catalog snapshot without a running service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(snapshotPath) == "" {
				return errors.New("--snapshot is required")
			}
			snapshot, err := catalog.LoadSnapshot(snapshotPath)
			if err != nil {
				return err
			}

			resolver := catalog.NewResolver(memory.NewCatalog(snapshot.Variants...),
				catalog.WithMinScore(minScore),
				catalog.WithAmbiguityTolerance(tolerance),
			)
			candidates, err := resolver.Resolve(cmd.Context(), strings.Join(args, " "), topN)
			if err != nil {
				return err
			}

			rows := resolveRows(candidates, snapshot.Stock)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			if len(rows) == 0 {
				_, err := fmt.Fprintln(out, "no match")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "SKU\tNAME\tPRICE\tSCORE\tAVAILABLE")
			for _, row := range rows {
				available := "-"
				if row.Available != nil {
					available = fmt.Sprintf("%d", *row.Available)
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%.3f\t%s\n", row.SKU, row.Name, row.Price, row.Score, available)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "catalog snapshot (YAML or TOML)")
	cmd.Flags().IntVar(&topN, "top", catalog.DefaultTopN, "max candidates")
	cmd.Flags().Float64Var(&minScore, "min-score", catalog.DefaultMinScore, "minimum match score")
	cmd.Flags().Float64Var(&tolerance, "tolerance", catalog.DefaultAmbiguityTolerance, "ambiguity tolerance")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func resolveRows(candidates []domain.Candidate, stock []domain.StockLevel) []resolveRow {
	levels := make(map[string]int64, len(stock))
	for _, level := range stock {
		levels[level.SKU] = level.Quantity
	}

	rows := make([]resolveRow, 0, len(candidates))
	for _, candidate := range candidates {
		row := resolveRow{
			SKU:   candidate.Variant.SKU,
			Name:  candidate.Variant.Name,
			Price: candidate.Variant.Price.StringFixed(2),
			Score: candidate.Score,
		}
		if qty, ok := levels[row.SKU]; ok {
			row.Available = &qty
		}
		rows = append(rows, row)
	}
	return rows
}
